package services

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"utility-cms/internal/config"
	"utility-cms/internal/models"
)

// Services wires every component over one database handle.
type Services struct {
	Vault    *PasswordVault
	Resolver *PermissionResolver
	Sessions *SessionStore
	Guard    *AccessGuard
	Policy   *HierarchyPolicy
	Audit    *AuditLogger
	Auth     *AuthService
	Users    *UserService
	Roles    *RoleService

	db     *gorm.DB
	logger *zap.Logger
}

func New(db *gorm.DB, cfg *config.Config, logger *zap.Logger, opts ...SessionOption) *Services {
	if logger == nil {
		logger = zap.NewNop()
	}

	vault := NewPasswordVault(cfg.Security.PasswordMinLength)
	resolver := NewPermissionResolver(logger)
	sessions := NewSessionStore(db, resolver, cfg.Session.TTL, cfg.Session.RememberTTL, logger, opts...)
	policy := NewHierarchyPolicy()
	audit := NewAuditLogger(db)
	depth := cfg.Security.PasswordHistoryDepth

	return &Services{
		Vault:    vault,
		Resolver: resolver,
		Sessions: sessions,
		Guard:    NewAccessGuard(sessions),
		Policy:   policy,
		Audit:    audit,
		Auth:     NewAuthService(db, vault, sessions, audit, depth, logger),
		Users:    NewUserService(db, vault, sessions, policy, audit, depth),
		Roles:    NewRoleService(db, policy, audit),
		db:       db,
		logger:   logger,
	}
}

// Bootstrap seeds the system roles and, on an empty users table, the first
// super admin from def.
func (s *Services) Bootstrap(ctx context.Context, def config.DefaultUserConfig) error {
	if err := s.Roles.EnsureSystemRoles(ctx); err != nil {
		return err
	}

	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return storeError("count users", err)
	}
	if count > 0 {
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(def.Email))
	if email == "" || def.Password == "" {
		s.logger.Warn("users table is empty and no default admin is configured")
		return nil
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := s.Vault.CheckStrength("default_user.password", def.Password); err != nil {
		return err
	}
	hash, err := s.Vault.Hash(def.Password)
	if err != nil {
		return err
	}

	roles, err := rolesByName(db, []string{string(RoleSuperAdmin)})
	if err != nil {
		return err
	}

	name := strings.TrimSpace(def.Name)
	if name == "" {
		name = "Administrator"
	}
	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Status:       models.UserStatusActive,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if err := assignRoles(tx, user.ID, roles); err != nil {
			return err
		}
		if err := tx.Create(&models.PasswordHistory{UserID: user.ID, PasswordHash: hash}).Error; err != nil {
			return err
		}
		return s.Audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionBootstrap,
			RecordID: recordRef(user.ID),
			Diff: map[string]any{
				"email": user.Email,
				"roles": roleNames(roles),
			},
		})
	})
	if err != nil {
		return storeError("bootstrap admin", err)
	}

	s.logger.Info("created default super admin", zap.Uint("user_id", user.ID))
	return nil
}

// StartSweeper purges dead sessions every interval until ctx is done.
func (s *Services) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.Sessions.PurgeExpired(ctx)
				if err != nil {
					s.logger.Warn("session sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Debug("purged dead sessions", zap.Int64("count", n))
				}
			}
		}
	}()
}

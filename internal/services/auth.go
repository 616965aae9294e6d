package services

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"utility-cms/internal/logger"
	"utility-cms/internal/metrics"
	"utility-cms/internal/models"
)

// dummyPassword is hashed once so that logins for unknown emails spend the
// same time in Verify as real ones.
const dummyPassword = "utility-cms-timing-equaliser"

type AuthService struct {
	db           *gorm.DB
	vault        *PasswordVault
	sessions     *SessionStore
	audit        *AuditLogger
	logger       *zap.Logger
	historyDepth int
	dummyHash    string
}

func NewAuthService(db *gorm.DB, vault *PasswordVault, sessions *SessionStore, audit *AuditLogger, historyDepth int, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	dummy, err := vault.Hash(dummyPassword)
	if err != nil {
		log.Warn("failed to prepare timing hash", zap.Error(err))
	}
	return &AuthService{
		db:           db,
		vault:        vault,
		sessions:     sessions,
		audit:        audit,
		logger:       log,
		historyDepth: historyDepth,
		dummyHash:    dummy,
	}
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	User    *models.User
	Session *IssuedSession
}

// Login checks credentials and opens a session. Unknown emails, wrong
// passwords and inactive accounts all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string, remember bool, client ClientMeta) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		s.vault.Verify(s.dummyHash, password)
		s.loginFailed(ctx, nil, email, "unknown email", client)
		return nil, ErrInvalidCredentials
	case err != nil:
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, storeError("load user", err)
	}

	if !s.vault.Verify(user.PasswordHash, password) {
		s.loginFailed(ctx, &user, email, "wrong password", client)
		return nil, ErrInvalidCredentials
	}
	if user.Status != models.UserStatusActive {
		s.loginFailed(ctx, &user, email, "inactive account", client)
		return nil, ErrInvalidCredentials
	}

	var issued *IssuedSession
	err = db.Transaction(func(tx *gorm.DB) error {
		if s.vault.NeedsRehash(user.PasswordHash) {
			if err := s.rehash(ctx, tx, &user, password, client); err != nil {
				return err
			}
		}

		var err error
		issued, err = s.sessions.Create(ctx, tx, user.ID, remember, client)
		if err != nil {
			return err
		}

		id := user.ID
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleAuth,
			Action:   ActionLogin,
			ActorID:  &id,
			RecordID: recordRef(user.ID),
			Diff: map[string]any{
				"sessionId": issued.Session.ID,
				"remember":  remember,
				"userAgent": truncate(client.UserAgent, 200),
			},
			Client: client,
		})
	})
	if err != nil {
		metrics.LoginAttempts.WithLabelValues("error").Inc()
		return nil, storeError("login", err)
	}

	roles, err := loadUserRoles(db, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	user.LastLoginAt = &issued.Session.CreatedAt

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.logger.Info("admin logged in",
		zap.Uint("user_id", user.ID),
		zap.String("email", logger.MaskEmail(user.Email)),
		zap.String("ip", logger.MaskIP(client.IPAddress)),
	)

	return &LoginResult{User: &user, Session: issued}, nil
}

// Logout revokes the session behind token. Unknown tokens succeed silently.
func (s *AuthService) Logout(ctx context.Context, token string, client ClientMeta) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.sessions.revokeIn(ctx, tx, token)
		if err != nil || session == nil {
			return err
		}
		id := session.UserID
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleAuth,
			Action:   ActionLogout,
			ActorID:  &id,
			RecordID: recordRef(session.UserID),
			Diff:     map[string]any{"sessionId": session.ID},
			Client:   client,
		})
	})
	return storeError("logout", err)
}

// ChangeOwnPassword replaces the caller's password, ends all of their
// sessions and opens a fresh one for the current client.
func (s *AuthService) ChangeOwnPassword(ctx context.Context, actor *SessionContext, current, next string, client ClientMeta) (*IssuedSession, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	db := s.db.WithContext(ctx)

	var user models.User
	if err := db.First(&user, actor.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnauthenticated
		}
		return nil, storeError("load user", err)
	}

	if !s.vault.Verify(user.PasswordHash, current) {
		return nil, invalidField("current_password", "is incorrect")
	}
	if err := s.vault.CheckStrength("new_password", next); err != nil {
		return nil, err
	}
	if err := checkPasswordReuse(db, s.vault, "new_password", user.ID, next, s.historyDepth); err != nil {
		return nil, err
	}

	hash, err := s.vault.Hash(next)
	if err != nil {
		return nil, err
	}

	var issued *IssuedSession
	err = db.Transaction(func(tx *gorm.DB) error {
		revoked, err := rotatePassword(ctx, tx, s.sessions, user.ID, hash)
		if err != nil {
			return err
		}
		if err := s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionPasswordChange,
			ActorID:  actorRef(actor),
			RecordID: recordRef(user.ID),
			Diff:     map[string]any{"sessionsRevoked": revoked},
			Client:   client,
		}); err != nil {
			return err
		}
		issued, err = s.sessions.Create(ctx, tx, user.ID, false, client)
		return err
	})
	if err != nil {
		return nil, storeError("change password", err)
	}
	return issued, nil
}

// Sessions lists the caller's live sessions.
func (s *AuthService) Sessions(ctx context.Context, actor *SessionContext) ([]models.AdminSession, error) {
	if actor == nil {
		return nil, ErrUnauthenticated
	}
	return s.sessions.ListForUser(ctx, actor.UserID)
}

func (s *AuthService) rehash(ctx context.Context, tx *gorm.DB, user *models.User, password string, client ClientMeta) error {
	hash, err := s.vault.Hash(password)
	if err != nil {
		return err
	}
	if err := tx.Model(&models.User{}).Where("id = ?", user.ID).Update("password_hash", hash).Error; err != nil {
		return err
	}
	if err := tx.Create(&models.PasswordHistory{UserID: user.ID, PasswordHash: hash}).Error; err != nil {
		return err
	}
	user.PasswordHash = hash

	id := user.ID
	return s.audit.Append(ctx, tx, AuditEntry{
		Module:   ModuleUsers,
		Action:   ActionPasswordRehash,
		ActorID:  &id,
		RecordID: recordRef(user.ID),
		Client:   client,
	})
}

// loginFailed records a rejected attempt. The attempt is already failing, so
// an audit error is only logged.
func (s *AuthService) loginFailed(ctx context.Context, user *models.User, email, reason string, client ClientMeta) {
	metrics.LoginAttempts.WithLabelValues("failure").Inc()

	entry := AuditEntry{
		Module: ModuleAuth,
		Action: ActionLoginFailed,
		Diff: map[string]any{
			"email":  logger.MaskEmail(email),
			"reason": reason,
		},
		Client: client,
	}
	if user != nil {
		entry.RecordID = recordRef(user.ID)
	}
	if err := s.audit.Append(ctx, s.db, entry); err != nil {
		s.logger.Error("failed to audit login failure", zap.Error(err))
	}

	s.logger.Warn("admin login rejected",
		zap.String("email", logger.MaskEmail(email)),
		zap.String("reason", reason),
		zap.String("ip", logger.MaskIP(client.IPAddress)),
	)
}

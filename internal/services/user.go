package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"utility-cms/internal/models"
)

type UserService struct {
	db       *gorm.DB
	vault    *PasswordVault
	sessions *SessionStore
	policy   *HierarchyPolicy
	audit    *AuditLogger
	// historyDepth is how many previous hashes a chosen password is checked
	// against.
	historyDepth int
}

func NewUserService(db *gorm.DB, vault *PasswordVault, sessions *SessionStore, policy *HierarchyPolicy, audit *AuditLogger, historyDepth int) *UserService {
	return &UserService{
		db:           db,
		vault:        vault,
		sessions:     sessions,
		policy:       policy,
		audit:        audit,
		historyDepth: historyDepth,
	}
}

// GetUsers returns all users with their roles
func (s *UserService) GetUsers(ctx context.Context) ([]models.User, error) {
	db := s.db.WithContext(ctx)

	var users []models.User
	if err := db.Order("id").Find(&users).Error; err != nil {
		return nil, storeError("list users", err)
	}

	var links []models.UserRole
	if err := db.Find(&links).Error; err != nil {
		return nil, storeError("list user roles", err)
	}
	var roles []models.Role
	if err := db.Find(&roles).Error; err != nil {
		return nil, storeError("list roles", err)
	}

	byID := make(map[uint]models.Role, len(roles))
	for _, r := range roles {
		byID[r.ID] = r
	}
	held := make(map[uint][]models.Role, len(users))
	for _, l := range links {
		held[l.UserID] = append(held[l.UserID], byID[l.RoleID])
	}
	for i := range users {
		users[i].Roles = held[users[i].ID]
	}

	return users, nil
}

// GetUser returns a specific user by ID with roles loaded
func (s *UserService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return loadUser(s.db.WithContext(ctx), id)
}

type CreateUserInput struct {
	Name  string
	Email string
	Phone string
	Roles []string
}

// CreateUser creates an account with a temporary password that is returned
// exactly once.
func (s *UserService) CreateUser(ctx context.Context, actor *SessionContext, in CreateUserInput, client ClientMeta) (*models.User, string, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, "", err
	}

	db := s.db.WithContext(ctx)
	roles, err := rolesByName(db, in.Roles)
	if err != nil {
		return nil, "", err
	}
	if err := s.policy.CheckGrant(actor, nil, roles); err != nil {
		return nil, "", err
	}

	temporary, err := s.vault.GenerateTemporary()
	if err != nil {
		return nil, "", err
	}
	hash, err := s.vault.Hash(temporary)
	if err != nil {
		return nil, "", err
	}

	user := &models.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Phone:        strings.TrimSpace(in.Phone),
		PasswordHash: hash,
		Status:       models.UserStatusActive,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			if isUniqueViolation(err) {
				return &ConflictError{Field: "email"}
			}
			return err
		}
		if err := assignRoles(tx, user.ID, roles); err != nil {
			return err
		}
		if err := tx.Create(&models.PasswordHistory{UserID: user.ID, PasswordHash: hash}).Error; err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionUserCreate,
			ActorID:  actorRef(actor),
			RecordID: recordRef(user.ID),
			Diff: map[string]any{
				"email": user.Email,
				"name":  user.Name,
				"phone": user.Phone,
				"roles": roleNames(roles),
			},
			Client: client,
		})
	})
	if err != nil {
		return nil, "", storeError("create user", err)
	}

	user.Roles = roles
	return user, temporary, nil
}

// UpdateRoles replaces the roles held by targetID.
func (s *UserService) UpdateRoles(ctx context.Context, actor *SessionContext, targetID uint, names []string, client ClientMeta) (*models.User, error) {
	db := s.db.WithContext(ctx)
	target, err := loadUser(db, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckTarget(actor, target, ActionUpdateRoles); err != nil {
		return nil, err
	}

	roles, err := rolesByName(db, names)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckGrant(actor, target.Roles, roles); err != nil {
		return nil, err
	}

	before := roleNames(target.Roles)
	err = db.Transaction(func(tx *gorm.DB) error {
		if holdsRoleType(target.Roles, RoleSuperAdmin) && !holdsRoleType(roles, RoleSuperAdmin) {
			remaining, err := countActiveSuperAdmins(tx, target.ID)
			if err != nil {
				return err
			}
			if remaining == 0 {
				return deny(RuleLastSuperAdmin, "at least one active super admin must remain")
			}
		}

		if err := tx.Where("user_id = ?", target.ID).Delete(&models.UserRole{}).Error; err != nil {
			return err
		}
		if err := assignRoles(tx, target.ID, roles); err != nil {
			return err
		}
		if err := tx.Model(target).Update("updated_at", tx.NowFunc()).Error; err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionUserRolesUpdate,
			ActorID:  actorRef(actor),
			RecordID: recordRef(target.ID),
			Diff:     map[string]any{"roles": Change(before, roleNames(roles))},
			Client:   client,
		})
	})
	if err != nil {
		return nil, storeError("update roles", err)
	}

	target.Roles = roles
	return target, nil
}

// UpdateStatus activates or deactivates targetID. Deactivation ends every
// session of the account.
func (s *UserService) UpdateStatus(ctx context.Context, actor *SessionContext, targetID uint, status string, client ClientMeta) (*models.User, error) {
	status = strings.ToUpper(strings.TrimSpace(status))
	if status != models.UserStatusActive && status != models.UserStatusInactive {
		return nil, invalidField("status", "must be ACTIVE or INACTIVE")
	}

	db := s.db.WithContext(ctx)
	target, err := loadUser(db, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.policy.CheckTarget(actor, target, ActionUpdateStatus); err != nil {
		return nil, err
	}
	if target.Status == status {
		return target, nil
	}

	before := target.Status
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(target).Update("status", status).Error; err != nil {
			return err
		}
		var revoked int64
		if status == models.UserStatusInactive {
			n, err := s.sessions.RevokeAllForUser(ctx, tx, target.ID)
			if err != nil {
				return err
			}
			revoked = n
		}
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionUserStatusUpdate,
			ActorID:  actorRef(actor),
			RecordID: recordRef(target.ID),
			Diff: map[string]any{
				"status":          Change(before, status),
				"sessionsRevoked": revoked,
			},
			Client: client,
		})
	})
	if err != nil {
		return nil, storeError("update status", err)
	}
	target.Status = status
	return target, nil
}

// ResetPassword sets a new password on targetID. An empty password asks for
// a generated temporary one, which is returned.
func (s *UserService) ResetPassword(ctx context.Context, actor *SessionContext, targetID uint, password string, client ClientMeta) (string, error) {
	db := s.db.WithContext(ctx)
	target, err := loadUser(db, targetID)
	if err != nil {
		return "", err
	}
	if err := s.policy.CheckTarget(actor, target, ActionResetPassword); err != nil {
		return "", err
	}

	generated := password == ""
	if generated {
		if password, err = s.vault.GenerateTemporary(); err != nil {
			return "", err
		}
	} else {
		if err := s.vault.CheckStrength("password", password); err != nil {
			return "", err
		}
		if err := checkPasswordReuse(db, s.vault, "password", target.ID, password, s.historyDepth); err != nil {
			return "", err
		}
	}

	hash, err := s.vault.Hash(password)
	if err != nil {
		return "", err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		revoked, err := rotatePassword(ctx, tx, s.sessions, target.ID, hash)
		if err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionUserPasswordSet,
			ActorID:  actorRef(actor),
			RecordID: recordRef(target.ID),
			Diff: map[string]any{
				"generated":       generated,
				"sessionsRevoked": revoked,
			},
			Client: client,
		})
	})
	if err != nil {
		return "", storeError("reset password", err)
	}

	if generated {
		return password, nil
	}
	return "", nil
}

// DeleteUser never succeeds; the policy forbids hard deletion for everyone.
func (s *UserService) DeleteUser(ctx context.Context, actor *SessionContext, targetID uint) error {
	target, err := loadUser(s.db.WithContext(ctx), targetID)
	if err != nil {
		return err
	}
	return s.policy.CheckTarget(actor, target, ActionDeleteAccount)
}

// rotatePassword stores hash, appends it to the history and ends every
// session of the user. Callers run it inside their transaction.
func rotatePassword(ctx context.Context, tx *gorm.DB, sessions *SessionStore, userID uint, hash string) (int64, error) {
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("password_hash", hash).Error; err != nil {
		return 0, err
	}
	if err := tx.Create(&models.PasswordHistory{UserID: userID, PasswordHash: hash}).Error; err != nil {
		return 0, err
	}
	return sessions.RevokeAllForUser(ctx, tx, userID)
}

func checkPasswordReuse(db *gorm.DB, vault *PasswordVault, field string, userID uint, password string, depth int) error {
	if depth <= 0 {
		return nil
	}
	var history []models.PasswordHistory
	if err := db.Where("user_id = ?", userID).Order("id DESC").Limit(depth).Find(&history).Error; err != nil {
		return storeError("load password history", err)
	}
	for _, h := range history {
		if vault.Verify(h.PasswordHash, password) {
			return invalidField(field, "was used recently; choose a different one")
		}
	}
	return nil
}

func loadUser(db *gorm.DB, id uint) (*models.User, error) {
	var user models.User
	if err := db.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{Resource: "user", ID: recordRef(id)}
		}
		return nil, storeError("load user", err)
	}
	roles, err := loadUserRoles(db, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return &user, nil
}

func assignRoles(tx *gorm.DB, userID uint, roles []models.Role) error {
	if len(roles) == 0 {
		return nil
	}
	links := make([]models.UserRole, 0, len(roles))
	for _, r := range roles {
		links = append(links, models.UserRole{UserID: userID, RoleID: r.ID})
	}
	return tx.Create(&links).Error
}

// countActiveSuperAdmins counts active super admins other than exceptID.
func countActiveSuperAdmins(tx *gorm.DB, exceptID uint) (int64, error) {
	var n int64
	err := tx.Model(&models.User{}).
		Joins("JOIN user_roles ON user_roles.user_id = users.id").
		Joins("JOIN roles ON roles.id = user_roles.role_id").
		Where("roles.type = ? AND users.status = ? AND users.id <> ?", string(RoleSuperAdmin), models.UserStatusActive, exceptID).
		Distinct("users.id").
		Count(&n).Error
	return n, err
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", invalidField("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalidField("email", "must be a valid address")
	}
	return email, nil
}

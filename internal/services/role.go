package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"utility-cms/internal/models"
)

var roleNamePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]{1,49}$`)

type RoleService struct {
	db     *gorm.DB
	policy *HierarchyPolicy
	audit  *AuditLogger
}

func NewRoleService(db *gorm.DB, policy *HierarchyPolicy, audit *AuditLogger) *RoleService {
	return &RoleService{db: db, policy: policy, audit: audit}
}

// EnsureSystemRoles seeds one row per catalog role. Existing rows are left
// untouched.
func (s *RoleService) EnsureSystemRoles(ctx context.Context) error {
	for _, t := range SystemRoles() {
		role := models.Role{Name: string(t), Label: systemRoleLabel(t), Type: string(t), Permissions: models.StringArray{}}
		err := s.db.WithContext(ctx).Where(models.Role{Name: string(t)}).FirstOrCreate(&role).Error
		if err != nil {
			return storeError("seed system roles", err)
		}
	}
	return nil
}

// ListRoles returns every role
func (s *RoleService) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order("id").Find(&roles).Error; err != nil {
		return nil, storeError("list roles", err)
	}
	return roles, nil
}

type CreateRoleInput struct {
	Name        string
	Label       string
	Permissions []string
}

// CreateRole adds a CUSTOM role.
func (s *RoleService) CreateRole(ctx context.Context, actor *SessionContext, in CreateRoleInput, client ClientMeta) (*models.Role, error) {
	name := strings.ToUpper(strings.TrimSpace(in.Name))
	fields := map[string]string{}
	switch {
	case !roleNamePattern.MatchString(name):
		fields["name"] = "must be 2-50 characters of A-Z, 0-9 and underscore, starting with a letter"
	case IsSystemRole(RoleType(name)) || RoleType(name) == RoleCustom:
		fields["name"] = "is reserved"
	}

	label := strings.TrimSpace(in.Label)
	if label == "" {
		label = name
	}

	perms, unknown := ParsePermissions(in.Permissions)
	switch {
	case len(unknown) > 0:
		fields["permissions"] = "unknown permission " + unknown[0]
	case len(perms) == 0:
		fields["permissions"] = "at least one permission is required"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	stored := make(models.StringArray, 0, len(perms))
	seen := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		stored = append(stored, string(p))
	}

	role := &models.Role{Name: name, Label: label, Type: string(RoleCustom), Permissions: stored}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(role).Error; err != nil {
			if isUniqueViolation(err) {
				return &ConflictError{Field: "name"}
			}
			return err
		}
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleRoles,
			Action:   ActionRoleCreate,
			ActorID:  actorRef(actor),
			RecordID: recordRef(role.ID),
			Diff: map[string]any{
				"name":        role.Name,
				"label":       role.Label,
				"permissions": []string(role.Permissions),
			},
			Client: client,
		})
	})
	if err != nil {
		return nil, storeError("create role", err)
	}
	return role, nil
}

// DeleteRole removes a CUSTOM role and its assignments.
func (s *RoleService) DeleteRole(ctx context.Context, actor *SessionContext, id uint, client ClientMeta) error {
	var role models.Role
	if err := s.db.WithContext(ctx).First(&role, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &NotFoundError{Resource: "role", ID: recordRef(id)}
		}
		return storeError("load role", err)
	}

	if err := s.policy.CheckRoleDelete(&role); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("role_id = ?", role.ID).Delete(&models.UserRole{})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Delete(&models.Role{}, role.ID).Error; err != nil {
			return err
		}
		return s.audit.Append(ctx, tx, AuditEntry{
			Module:   ModuleRoles,
			Action:   ActionRoleDelete,
			ActorID:  actorRef(actor),
			RecordID: recordRef(role.ID),
			Diff: map[string]any{
				"name":               role.Name,
				"permissions":        []string(role.Permissions),
				"assignmentsRemoved": res.RowsAffected,
			},
			Client: client,
		})
	})
	return storeError("delete role", err)
}

// rolesByName resolves role identifiers, rejecting unknown ones.
func rolesByName(db *gorm.DB, names []string) ([]models.Role, error) {
	wanted := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = strings.ToUpper(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		wanted = append(wanted, n)
	}
	if len(wanted) == 0 {
		return nil, invalidField("roles", "at least one role is required")
	}

	var roles []models.Role
	if err := db.Where("name IN ?", wanted).Order("id").Find(&roles).Error; err != nil {
		return nil, storeError("load roles", err)
	}
	if len(roles) != len(wanted) {
		found := make(map[string]struct{}, len(roles))
		for _, r := range roles {
			found[r.Name] = struct{}{}
		}
		for _, n := range wanted {
			if _, ok := found[n]; !ok {
				return nil, invalidField("roles", "unknown role "+n)
			}
		}
	}
	return roles, nil
}

func roleNames(roles []models.Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

package services

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"utility-cms/internal/models"
)

// Permission is a capability tag of the form "<area>:<verb>".
type Permission string

// PermissionCatalogVersion is bumped whenever a tag is added, renamed or
// removed so stored custom roles can be migrated.
const PermissionCatalogVersion = 1

const (
	PermUsersRead       Permission = "users:read"
	PermUsersWrite      Permission = "users:write"
	PermAuditRead       Permission = "audit:read"
	PermSettingsWrite   Permission = "settings:write"
	PermPagesWrite      Permission = "pages:write"
	PermSectionsWrite   Permission = "sections:write"
	PermFAQWrite        Permission = "faq:write"
	PermNewsWrite       Permission = "news:write"
	PermWaterTodayWrite Permission = "watertoday:write"
	PermMediaWrite      Permission = "media:write"
	PermComplaintsWrite Permission = "complaints:write"
	PermChatbotWrite    Permission = "chatbot:write"
)

// AllPermissions lists the closed set of known tags.
var AllPermissions = []Permission{
	PermUsersRead,
	PermUsersWrite,
	PermAuditRead,
	PermSettingsWrite,
	PermPagesWrite,
	PermSectionsWrite,
	PermFAQWrite,
	PermNewsWrite,
	PermWaterTodayWrite,
	PermMediaWrite,
	PermComplaintsWrite,
	PermChatbotWrite,
}

// RoleType is the fixed enumeration of role kinds.
type RoleType string

const (
	RoleSuperAdmin RoleType = "SUPER_ADMIN"
	RoleAdmin      RoleType = "ADMIN"
	RoleEditor     RoleType = "EDITOR"
	RoleSupport    RoleType = "SUPPORT"
	RoleCustom     RoleType = "CUSTOM"
)

var contentPermissions = []Permission{
	PermPagesWrite,
	PermSectionsWrite,
	PermFAQWrite,
	PermNewsWrite,
	PermWaterTodayWrite,
	PermMediaWrite,
	PermChatbotWrite,
}

// roleCatalog holds the permission sets of system roles.
var roleCatalog = map[RoleType][]Permission{
	RoleSuperAdmin: AllPermissions,
	RoleAdmin:      AllPermissions,
	RoleEditor:     contentPermissions,
	RoleSupport:    {PermComplaintsWrite, PermFAQWrite},
}

// SystemRoles returns the seeded roles in a stable order.
func SystemRoles() []RoleType {
	return []RoleType{RoleSuperAdmin, RoleAdmin, RoleEditor, RoleSupport}
}

func IsSystemRole(t RoleType) bool {
	_, ok := roleCatalog[t]
	return ok
}

func systemRoleLabel(t RoleType) string {
	switch t {
	case RoleSuperAdmin:
		return "Super administrator"
	case RoleAdmin:
		return "Administrator"
	case RoleEditor:
		return "Content editor"
	case RoleSupport:
		return "Customer support"
	}
	return string(t)
}

// ParsePermission accepts a known tag, tolerating case and surrounding space.
func ParsePermission(raw string) (Permission, bool) {
	p := Permission(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllPermissions {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// ParsePermissions translates a stored custom-role list. Unknown tags are
// returned separately so the caller can log or reject them.
func ParsePermissions(raw []string) (perms []Permission, unknown []string) {
	for _, r := range raw {
		p, ok := ParsePermission(r)
		if !ok {
			unknown = append(unknown, r)
			continue
		}
		perms = append(perms, p)
	}
	return perms, unknown
}

// PermissionSet is a deduplicated set of capabilities.
type PermissionSet map[Permission]struct{}

// Has reports membership; an empty requirement only demands authentication.
func (s PermissionSet) Has(required Permission) bool {
	if required == "" {
		return true
	}
	_, ok := s[required]
	return ok
}

// Sorted returns the set as a sorted slice for responses.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PermissionResolver derives effective permissions from held roles.
type PermissionResolver struct {
	logger *zap.Logger
}

func NewPermissionResolver(logger *zap.Logger) *PermissionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PermissionResolver{logger: logger}
}

// Resolve unions the catalog set of every system role with the stored list
// of every custom role.
func (r *PermissionResolver) Resolve(roles []models.Role) PermissionSet {
	set := make(PermissionSet)
	for _, role := range roles {
		t := RoleType(role.Type)
		if t != RoleCustom {
			for _, p := range roleCatalog[t] {
				set[p] = struct{}{}
			}
			continue
		}

		perms, unknown := ParsePermissions(role.Permissions)
		if len(unknown) > 0 {
			r.logger.Warn("custom role carries unknown permissions",
				zap.String("role", role.Name),
				zap.Strings("unknown", unknown),
				zap.Int("catalog_version", PermissionCatalogVersion),
			)
		}
		for _, p := range perms {
			set[p] = struct{}{}
		}
	}
	return set
}

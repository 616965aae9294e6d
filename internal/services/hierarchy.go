package services

import (
	"utility-cms/internal/metrics"
	"utility-cms/internal/models"
)

// Action is a kind of change one administrator makes to another account.
type Action string

const (
	ActionUpdateRoles   Action = "roles"
	ActionUpdateStatus  Action = "status"
	ActionResetPassword Action = "password"
	ActionDeleteAccount Action = "delete"
)

const (
	RuleSelfStatusChange  = "self-status-change"
	RuleSuperAdminTarget  = "super-admin-target"
	RulePeerAdmin         = "peer-admin"
	RuleHigherTierTarget  = "higher-tier-target"
	RuleElevatedRoleGrant = "elevated-role-grant"
	RuleSystemRoleDelete  = "system-role-delete"
	RuleAccountDelete     = "account-delete"
	RuleLastSuperAdmin    = "last-super-admin"
)

const (
	tierStaff = iota
	tierAdmin
	tierSuperAdmin
)

// HierarchyPolicy decides who may act on whom, on top of permissions that
// AccessGuard already checked.
type HierarchyPolicy struct{}

func NewHierarchyPolicy() *HierarchyPolicy {
	return &HierarchyPolicy{}
}

// CheckTarget applies the cross-actor rules in order. target.Roles must be
// loaded.
func (p *HierarchyPolicy) CheckTarget(actor *SessionContext, target *models.User, action Action) error {
	if action == ActionDeleteAccount {
		return deny(RuleAccountDelete, "accounts are never deleted; set the status to INACTIVE instead")
	}

	self := actor.UserID == target.ID
	if self && action == ActionUpdateStatus {
		return deny(RuleSelfStatusChange, "you cannot change the status of your own account")
	}

	if actor.IsSuperAdmin() {
		return nil
	}

	targetTier := tierOf(target.Roles)
	if targetTier == tierSuperAdmin {
		return deny(RuleSuperAdminTarget, "only a super admin can modify a super admin")
	}
	if self {
		return nil
	}

	actorTier := tierOf(actor.Roles)
	if actorTier == tierAdmin && targetTier == tierAdmin {
		return deny(RulePeerAdmin, "administrators cannot modify other administrators")
	}
	if targetTier > actorTier {
		return deny(RuleHigherTierTarget, "target holds a higher administrative tier")
	}
	return nil
}

// CheckGrant rejects a non-super actor adding ADMIN or SUPER_ADMIN to an
// account. current is what the target already holds (nil at creation).
func (p *HierarchyPolicy) CheckGrant(actor *SessionContext, current, requested []models.Role) error {
	if actor.IsSuperAdmin() {
		return nil
	}

	held := make(map[uint]struct{}, len(current))
	for _, r := range current {
		held[r.ID] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := held[r.ID]; ok {
			continue
		}
		switch RoleType(r.Type) {
		case RoleSuperAdmin, RoleAdmin:
			return deny(RuleElevatedRoleGrant, "only a super admin can grant the %s role", r.Type)
		}
	}
	return nil
}

// CheckRoleDelete allows deleting CUSTOM roles only, whoever asks.
func (p *HierarchyPolicy) CheckRoleDelete(role *models.Role) error {
	if RoleType(role.Type) != RoleCustom {
		return deny(RuleSystemRoleDelete, "system role %s cannot be deleted", role.Name)
	}
	return nil
}

func tierOf(roles []models.Role) int {
	switch {
	case holdsRoleType(roles, RoleSuperAdmin):
		return tierSuperAdmin
	case holdsRoleType(roles, RoleAdmin):
		return tierAdmin
	default:
		return tierStaff
	}
}

func deny(rule, format string, args ...any) error {
	metrics.AuthzDenials.WithLabelValues(rule).Inc()
	return forbidden(rule, format, args...)
}

package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"utility-cms/internal/models"
)

func TestResolveSystemRoles(t *testing.T) {
	r := NewPermissionResolver(nil)

	admin := r.Resolve([]models.Role{{Name: "ADMIN", Type: "ADMIN"}})
	assert.Len(t, admin, len(AllPermissions))
	assert.True(t, admin.Has(PermUsersWrite))

	editor := r.Resolve([]models.Role{{Name: "EDITOR", Type: "EDITOR"}})
	assert.True(t, editor.Has(PermNewsWrite))
	assert.False(t, editor.Has(PermUsersRead))
	assert.False(t, editor.Has(PermAuditRead))

	support := r.Resolve([]models.Role{{Name: "SUPPORT", Type: "SUPPORT"}})
	assert.Equal(t, []Permission{PermComplaintsWrite, PermFAQWrite}, support.Sorted())
}

func TestResolveUnionCollapsesDuplicates(t *testing.T) {
	r := NewPermissionResolver(nil)

	set := r.Resolve([]models.Role{
		{Name: "EDITOR", Type: "EDITOR"},
		{Name: "SUPPORT", Type: "SUPPORT"},
		{Name: "FAQ_ONLY", Type: "CUSTOM", Permissions: models.StringArray{"faq:write", "FAQ:WRITE"}},
	})

	assert.Len(t, set, len(contentPermissions)+1)
	assert.True(t, set.Has(PermComplaintsWrite))
}

func TestResolveDropsUnknownCustomTags(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := NewPermissionResolver(zap.New(core))

	set := r.Resolve([]models.Role{
		{Name: "LEGACY", Type: "CUSTOM", Permissions: models.StringArray{"news:write", "reports:export"}},
	})

	assert.Equal(t, []Permission{PermNewsWrite}, set.Sorted())
	assert.Equal(t, 1, logs.FilterMessage("custom role carries unknown permissions").Len())
}

func TestPermissionSetHas(t *testing.T) {
	var empty PermissionSet
	assert.True(t, empty.Has(""), "empty requirement means authenticated only")
	assert.False(t, empty.Has(PermUsersRead))
}

func TestParsePermissions(t *testing.T) {
	perms, unknown := ParsePermissions([]string{" users:read ", "Audit:Read", "nope"})

	assert.Equal(t, []Permission{PermUsersRead, PermAuditRead}, perms)
	assert.Equal(t, []string{"nope"}, unknown)
}

func TestSystemRoles(t *testing.T) {
	for _, rt := range SystemRoles() {
		assert.True(t, IsSystemRole(rt))
	}
	assert.False(t, IsSystemRole(RoleCustom))
}

package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-cms/internal/models"
)

func TestEnsureSystemRolesIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Roles.EnsureSystemRoles(ctx))

	roles, err := env.svc.Roles.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, len(SystemRoles()))
	for i, rt := range SystemRoles() {
		assert.Equal(t, string(rt), roles[i].Name)
		assert.Equal(t, string(rt), roles[i].Type)
	}
}

func TestCreateRole(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	admin := env.createTestUser(t, "admin@example.com", "ADMIN")
	_, sc := env.sessionFor(t, admin)

	role, err := env.svc.Roles.CreateRole(ctx, sc, CreateRoleInput{
		Name:        "news_desk",
		Label:       "News desk",
		Permissions: []string{"news:write", "NEWS:WRITE", "media:write"},
	}, ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, "NEWS_DESK", role.Name)
	assert.Equal(t, string(RoleCustom), role.Type)
	assert.Equal(t, models.StringArray{"news:write", "media:write"}, role.Permissions)

	rows := env.auditRows(t, ActionRoleCreate)
	require.Len(t, rows, 1)
	assert.Equal(t, recordRef(role.ID), *rows[0].RecordID)

	_, err = env.svc.Roles.CreateRole(ctx, sc, CreateRoleInput{Name: "NEWS_DESK", Permissions: []string{"news:write"}}, ClientMeta{})
	var cerr *ConflictError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "name", cerr.Field)
}

func TestCreateRoleValidation(t *testing.T) {
	env := setupTestEnv(t)
	admin := env.createTestUser(t, "admin@example.com", "ADMIN")
	_, sc := env.sessionFor(t, admin)

	tests := []struct {
		name  string
		in    CreateRoleInput
		field string
	}{
		{"reserved name", CreateRoleInput{Name: "ADMIN", Permissions: []string{"news:write"}}, "name"},
		{"custom keyword", CreateRoleInput{Name: "CUSTOM", Permissions: []string{"news:write"}}, "name"},
		{"bad name", CreateRoleInput{Name: "9lives", Permissions: []string{"news:write"}}, "name"},
		{"no permissions", CreateRoleInput{Name: "EMPTY"}, "permissions"},
		{"unknown permission", CreateRoleInput{Name: "ODD", Permissions: []string{"reports:export"}}, "permissions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Roles.CreateRole(context.Background(), sc, tt.in, ClientMeta{})
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestDeleteRole(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	super := env.createTestUser(t, "root@example.com", "SUPER_ADMIN")
	_, sc := env.sessionFor(t, super)

	role, err := env.svc.Roles.CreateRole(ctx, sc, CreateRoleInput{Name: "FAQ_TEAM", Permissions: []string{"faq:write"}}, ClientMeta{})
	require.NoError(t, err)
	member := env.createTestUser(t, "faq@example.com", "FAQ_TEAM")
	memberToken, _ := env.sessionFor(t, member)

	require.NoError(t, env.svc.Roles.DeleteRole(ctx, sc, role.ID, ClientMeta{}))

	var links int64
	require.NoError(t, env.db.Model(&models.UserRole{}).Where("role_id = ?", role.ID).Count(&links).Error)
	assert.Zero(t, links)

	sess, err := env.svc.Sessions.Validate(ctx, memberToken)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.Permissions.Has(PermFAQWrite), "permissions follow the current roles")

	rows := env.auditRows(t, ActionRoleDelete)
	require.Len(t, rows, 1)
	assert.Equal(t, float64(1), rows[0].Diff["assignmentsRemoved"])

	var nerr *NotFoundError
	assert.True(t, errors.As(env.svc.Roles.DeleteRole(ctx, sc, role.ID, ClientMeta{}), &nerr))
}

func TestDeleteSystemRoleForbiddenForEveryone(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	super := env.createTestUser(t, "root@example.com", "SUPER_ADMIN")
	_, sc := env.sessionFor(t, super)

	roles, err := env.svc.Roles.ListRoles(ctx)
	require.NoError(t, err)
	for _, r := range roles {
		requireRule(t, env.svc.Roles.DeleteRole(ctx, sc, r.ID, ClientMeta{}), RuleSystemRoleDelete)
	}

	after, err := env.svc.Roles.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, after, len(roles))
}

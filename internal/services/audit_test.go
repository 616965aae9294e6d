package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-cms/internal/models"
)

func TestAuditAppendAndList(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	actorID := uint(7)

	for i := 0; i < 3; i++ {
		require.NoError(t, env.svc.Audit.Append(ctx, nil, AuditEntry{
			Module:   ModuleUsers,
			Action:   ActionUserStatusUpdate,
			ActorID:  &actorID,
			RecordID: recordRef(uint(i + 1)),
			Diff:     map[string]any{"status": Change("ACTIVE", "INACTIVE")},
			Client:   ClientMeta{IPAddress: "10.0.0.1", RequestID: "req-1"},
		}))
	}
	require.NoError(t, env.svc.Audit.Append(ctx, nil, AuditEntry{Module: ModuleAuth, Action: ActionLoginFailed}))

	all, total, err := env.svc.Audit.List(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, all, 4)
	assert.Equal(t, ActionLoginFailed, all[0].Action, "newest first")
	assert.Nil(t, all[0].ActorID)
	assert.Nil(t, all[0].RecordID)

	users, total, err := env.svc.Audit.List(ctx, AuditFilter{Module: ModuleUsers, ActorID: &actorID, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, users, 2)
	assert.Equal(t, "3", *users[0].RecordID)
	assert.Equal(t, "req-1", users[0].RequestID)
	assert.Equal(t, map[string]any{"before": "ACTIVE", "after": "INACTIVE"}, users[0].Diff["status"])

	byRecord, _, err := env.svc.Audit.List(ctx, AuditFilter{RecordID: "1"})
	require.NoError(t, err)
	assert.Len(t, byRecord, 1)
}

func TestAuditAppendRequiresModuleAndAction(t *testing.T) {
	env := setupTestEnv(t)

	err := env.svc.Audit.Append(context.Background(), nil, AuditEntry{Module: ModuleUsers})
	var ierr *InternalError
	assert.True(t, errors.As(err, &ierr))
}

func TestAuditFailureAbortsMutation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	super := env.createTestUser(t, "root@example.com", "SUPER_ADMIN")
	editor := env.createTestUser(t, "editor@example.com", "EDITOR")
	_, sc := env.sessionFor(t, super)
	editorToken, _ := env.sessionFor(t, editor)

	failAuditWrites(t, env.db)

	_, err := env.svc.Users.UpdateStatus(ctx, sc, editor.ID, models.UserStatusInactive, ClientMeta{})
	var ierr *InternalError
	require.True(t, errors.As(err, &ierr))

	var reloaded models.User
	require.NoError(t, env.db.First(&reloaded, editor.ID).Error)
	assert.Equal(t, models.UserStatusActive, reloaded.Status, "status change rolled back")

	still, err := env.svc.Sessions.Validate(ctx, editorToken)
	require.NoError(t, err)
	assert.NotNil(t, still, "session revocation rolled back")

	_, err = env.svc.Roles.CreateRole(ctx, sc, CreateRoleInput{Name: "NEWS_DESK", Permissions: []string{"news:write"}}, ClientMeta{})
	require.Error(t, err)
	var count int64
	require.NoError(t, env.db.Model(&models.Role{}).Where("name = ?", "NEWS_DESK").Count(&count).Error)
	assert.Zero(t, count)
}

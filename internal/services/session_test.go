package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-cms/internal/models"
)

func TestSessionCreateStoresDigestOnly(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()

	issued, err := env.svc.Sessions.Create(ctx, nil, user.ID, false, ClientMeta{IPAddress: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	assert.Len(t, issued.Token, 64)
	assert.Equal(t, env.clock.Now().Add(time.Hour), issued.ExpiresAt)

	var stored models.AdminSession
	require.NoError(t, env.db.First(&stored, issued.Session.ID).Error)
	assert.Equal(t, hashToken(issued.Token), stored.TokenHash)
	assert.NotEqual(t, issued.Token, stored.TokenHash)
	assert.Nil(t, stored.RememberUntil)

	var reloaded models.User
	require.NoError(t, env.db.First(&reloaded, user.ID).Error)
	require.NotNil(t, reloaded.LastLoginAt)
}

func TestSessionValidateUntilExpiry(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()

	issued, err := env.svc.Sessions.Create(ctx, nil, user.ID, false, ClientMeta{})
	require.NoError(t, err)

	sc, err := env.svc.Sessions.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, user.ID, sc.UserID)
	assert.Equal(t, []string{"EDITOR"}, sc.RoleNames())
	assert.True(t, sc.Permissions.Has(PermPagesWrite))

	env.clock.Advance(time.Hour - time.Second)
	sc, err = env.svc.Sessions.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.NotNil(t, sc, "still valid just before expiry")
	assert.True(t, sc.ExpiresAt.Equal(issued.ExpiresAt), "use does not extend the session")

	env.clock.Advance(time.Second)
	sc, err = env.svc.Sessions.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, sc, "invalid at expiry")
	assert.Zero(t, env.sessionCount(t, user.ID), "expired row is collected")
}

func TestSessionRememberWindow(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()

	issued, err := env.svc.Sessions.Create(ctx, nil, user.ID, true, ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now().Add(12*time.Hour), issued.ExpiresAt)

	env.clock.Advance(2 * time.Hour)
	sc, err := env.svc.Sessions.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.NotNil(t, sc, "remember window outlives the short ttl")

	env.clock.Advance(10*time.Hour + time.Nanosecond)
	sc, err = env.svc.Sessions.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestSessionRevokeIsIdempotent(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()
	token, _ := env.sessionFor(t, user)

	require.NoError(t, env.svc.Sessions.Revoke(ctx, token))
	sc, err := env.svc.Sessions.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, sc)

	assert.NoError(t, env.svc.Sessions.Revoke(ctx, token))
	assert.NoError(t, env.svc.Sessions.Revoke(ctx, "not-a-token"))
}

func TestSessionValidateRejectsGarbage(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	for _, token := range []string{"", "abc", strings.Repeat("z", 64), strings.Repeat("a", 64)} {
		sc, err := env.svc.Sessions.Validate(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, sc, token)
	}
}

func TestSessionValidateRejectsNearMissToken(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	token, _ := env.sessionFor(t, user)

	last := token[len(token)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	sc, err := env.svc.Sessions.Validate(ctx, token[:len(token)-1]+string(flipped))
	require.NoError(t, err)
	assert.Nil(t, sc)

	sc, err = env.svc.Sessions.Validate(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, user.ID, sc.UserID)
}

func TestSessionValidateInactiveUser(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()
	token, _ := env.sessionFor(t, user)

	require.NoError(t, env.db.Model(&models.User{}).Where("id = ?", user.ID).Update("status", models.UserStatusInactive).Error)

	sc, err := env.svc.Sessions.Validate(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, sc)
	assert.Zero(t, env.sessionCount(t, user.ID))
}

func TestSessionConcurrentExpiredValidation(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()
	token, _ := env.sessionFor(t, user)

	env.clock.Advance(2 * time.Hour)

	var wg sync.WaitGroup
	results := make([]*SessionContext, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Sessions.Validate(ctx, token)
		}(i)
	}
	wg.Wait()

	for i := range results {
		assert.NoError(t, errs[i])
		assert.Nil(t, results[i])
	}
	assert.Zero(t, env.sessionCount(t, user.ID))
}

func TestSessionRevokeAllForUser(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	other := env.createTestUser(t, "support@example.com", "SUPPORT")
	ctx := context.Background()

	env.sessionFor(t, user)
	env.sessionFor(t, user)
	otherToken, _ := env.sessionFor(t, other)

	n, err := env.svc.Sessions.RevokeAllForUser(ctx, nil, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, env.sessionCount(t, user.ID))

	sc, err := env.svc.Sessions.Validate(ctx, otherToken)
	require.NoError(t, err)
	assert.NotNil(t, sc)
}

func TestSessionListAndPurge(t *testing.T) {
	env := setupTestEnv(t)
	user := env.createTestUser(t, "editor@example.com", "EDITOR")
	ctx := context.Background()

	_, err := env.svc.Sessions.Create(ctx, nil, user.ID, false, ClientMeta{})
	require.NoError(t, err)
	_, err = env.svc.Sessions.Create(ctx, nil, user.ID, true, ClientMeta{})
	require.NoError(t, err)

	live, err := env.svc.Sessions.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, live, 2)

	env.clock.Advance(90 * time.Minute)
	live, err = env.svc.Sessions.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.NotNil(t, live[0].RememberUntil)

	purged, err := env.svc.Sessions.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, int64(1), env.sessionCount(t, user.ID))
}

package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"utility-cms/internal/metrics"
)

func TestAccessGuardEnsure(t *testing.T) {
	env := setupTestEnv(t)
	editor := env.createTestUser(t, "editor@example.com", "EDITOR")
	token, _ := env.sessionFor(t, editor)
	ctx := context.Background()

	t.Run("authenticated only", func(t *testing.T) {
		sc, err := env.svc.Guard.Ensure(ctx, token, "")
		require.NoError(t, err)
		assert.Equal(t, editor.ID, sc.UserID)
	})

	t.Run("holds permission", func(t *testing.T) {
		sc, err := env.svc.Guard.Ensure(ctx, token, PermNewsWrite)
		require.NoError(t, err)
		assert.NotNil(t, sc)
	})

	t.Run("missing permission", func(t *testing.T) {
		before := testutil.ToFloat64(metrics.AuthzDenials.WithLabelValues("missing-permission"))

		_, err := env.svc.Guard.Ensure(ctx, token, PermUsersWrite)
		var ferr *ForbiddenError
		require.True(t, errors.As(err, &ferr))
		assert.Equal(t, "missing-permission", ferr.Rule)

		after := testutil.ToFloat64(metrics.AuthzDenials.WithLabelValues("missing-permission"))
		assert.Equal(t, before+1, after)
	})

	t.Run("no session", func(t *testing.T) {
		_, err := env.svc.Guard.Ensure(ctx, "", PermNewsWrite)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("expired session", func(t *testing.T) {
		env.clock.Advance(2 * time.Hour)
		_, err := env.svc.Guard.Ensure(ctx, token, "")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}

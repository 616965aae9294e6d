package services

import (
	"context"

	"utility-cms/internal/metrics"
)

// AccessGuard is the single entry point privileged handlers go through.
type AccessGuard struct {
	sessions *SessionStore
}

func NewAccessGuard(sessions *SessionStore) *AccessGuard {
	return &AccessGuard{sessions: sessions}
}

// Ensure resolves the session behind token and checks required. An empty
// required permission only demands a valid session.
func (g *AccessGuard) Ensure(ctx context.Context, token string, required Permission) (*SessionContext, error) {
	sc, err := g.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		metrics.AuthzDenials.WithLabelValues("unauthenticated").Inc()
		return nil, ErrUnauthenticated
	}
	if !sc.Permissions.Has(required) {
		metrics.AuthzDenials.WithLabelValues("missing-permission").Inc()
		return nil, forbidden("missing-permission", "permission %s is required", required)
	}
	return sc, nil
}

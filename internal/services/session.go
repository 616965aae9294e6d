package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"utility-cms/internal/models"
)

const sessionTokenBytes = 32

// SessionContext is the authenticated caller, produced by AccessGuard.Ensure
// and passed explicitly to every service call that needs an actor.
type SessionContext struct {
	SessionID   uint
	UserID      uint
	Email       string
	Name        string
	Roles       []models.Role
	Permissions PermissionSet
	ExpiresAt   time.Time
}

// HasRole reports whether the caller holds a role of type t.
func (c *SessionContext) HasRole(t RoleType) bool {
	return holdsRoleType(c.Roles, t)
}

func (c *SessionContext) IsSuperAdmin() bool {
	return c.HasRole(RoleSuperAdmin)
}

func (c *SessionContext) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for _, r := range c.Roles {
		names = append(names, r.Name)
	}
	return names
}

// ClientMeta describes where a login came from.
type ClientMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// IssuedSession is returned once at login; Token is never persisted.
type IssuedSession struct {
	Token     string
	Session   *models.AdminSession
	ExpiresAt time.Time
}

type SessionStore struct {
	db          *gorm.DB
	resolver    *PermissionResolver
	ttl         time.Duration
	rememberTTL time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

// SessionOption configures SessionStore behavior.
type SessionOption func(*SessionStore)

// WithSessionClock overrides the time source (useful for tests).
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSessionStore(db *gorm.DB, resolver *PermissionResolver, ttl, rememberTTL time.Duration, logger *zap.Logger, opts ...SessionOption) *SessionStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rememberTTL < ttl {
		rememberTTL = ttl
	}
	s := &SessionStore{
		db:          db,
		resolver:    resolver,
		ttl:         ttl,
		rememberTTL: rememberTTL,
		now:         time.Now,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create issues a new session for userID inside tx (or the store's db when
// tx is nil) and stamps the user's last login time.
func (s *SessionStore) Create(ctx context.Context, tx *gorm.DB, userID uint, remember bool, meta ClientMeta) (*IssuedSession, error) {
	if tx == nil {
		tx = s.db
	}
	tx = tx.WithContext(ctx)

	raw := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, &InternalError{Op: "generate session token", Err: err}
	}
	token := hex.EncodeToString(raw)

	now := s.now().UTC()
	session := &models.AdminSession{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(s.ttl),
		IPAddress: meta.IPAddress,
		UserAgent: truncate(meta.UserAgent, 500),
		CreatedAt: now,
	}
	if remember {
		until := now.Add(s.rememberTTL)
		session.RememberUntil = &until
	}

	if err := tx.Create(session).Error; err != nil {
		return nil, storeError("create session", err)
	}
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Update("last_login_at", now).Error; err != nil {
		return nil, storeError("update last login", err)
	}

	return &IssuedSession{Token: token, Session: session, ExpiresAt: session.EffectiveExpiry()}, nil
}

// Validate resolves a presented token. It returns (nil, nil) when the token
// does not identify a live session. Expired or revoked rows, and sessions of
// deactivated users, are deleted on the way out.
func (s *SessionStore) Validate(ctx context.Context, token string) (*SessionContext, error) {
	if !wellFormedToken(token) {
		return nil, nil
	}
	digest := hashToken(token)
	db := s.db.WithContext(ctx)

	// The indexed digest lookup is the comparison; only hashes reach the store.
	var session models.AdminSession
	if err := db.Where("token_hash = ?", digest).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeError("load session", err)
	}

	now := s.now().UTC()
	if session.RevokedAt != nil {
		s.discard(ctx, &session, "revoked")
		return nil, nil
	}
	if !now.Before(session.EffectiveExpiry()) {
		s.discard(ctx, &session, "expired")
		return nil, nil
	}

	var user models.User
	if err := db.First(&user, session.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.discard(ctx, &session, "user missing")
			return nil, nil
		}
		return nil, storeError("load session user", err)
	}
	if user.Status != models.UserStatusActive {
		s.discard(ctx, &session, "user inactive")
		return nil, nil
	}

	roles, err := loadUserRoles(db, user.ID)
	if err != nil {
		return nil, err
	}

	return &SessionContext{
		SessionID:   session.ID,
		UserID:      user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Roles:       roles,
		Permissions: s.resolver.Resolve(roles),
		ExpiresAt:   session.EffectiveExpiry(),
	}, nil
}

// Revoke deletes the session behind token. Unknown tokens are not an error.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	_, err := s.revokeIn(ctx, s.db, token)
	return err
}

// revokeIn deletes the session behind token inside tx and returns the
// removed row, or nil when there was none.
func (s *SessionStore) revokeIn(ctx context.Context, tx *gorm.DB, token string) (*models.AdminSession, error) {
	if !wellFormedToken(token) {
		return nil, nil
	}
	tx = tx.WithContext(ctx)

	var session models.AdminSession
	if err := tx.Where("token_hash = ?", hashToken(token)).First(&session).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeError("revoke session", err)
	}
	if err := tx.Delete(&models.AdminSession{}, session.ID).Error; err != nil {
		return nil, storeError("revoke session", err)
	}
	return &session, nil
}

// RevokeAllForUser deletes every session of userID inside tx.
func (s *SessionStore) RevokeAllForUser(ctx context.Context, tx *gorm.DB, userID uint) (int64, error) {
	if tx == nil {
		tx = s.db
	}
	res := tx.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.AdminSession{})
	if res.Error != nil {
		return 0, storeError("revoke user sessions", res.Error)
	}
	return res.RowsAffected, nil
}

// ListForUser returns the live sessions of userID, newest first.
func (s *SessionStore) ListForUser(ctx context.Context, userID uint) ([]models.AdminSession, error) {
	var sessions []models.AdminSession
	if err := s.db.WithContext(ctx).Where("user_id = ? AND revoked_at IS NULL", userID).Order("created_at DESC").Find(&sessions).Error; err != nil {
		return nil, storeError("list sessions", err)
	}

	now := s.now().UTC()
	live := sessions[:0]
	for _, sess := range sessions {
		if now.Before(sess.EffectiveExpiry()) {
			live = append(live, sess)
		}
	}
	return live, nil
}

// PurgeExpired removes every dead session in one statement. Validate already
// collects them lazily; this is for the optional periodic sweep.
func (s *SessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).
		Where("revoked_at IS NOT NULL OR (remember_until IS NULL AND expires_at <= ?) OR (remember_until IS NOT NULL AND remember_until <= ?)", now, now).
		Delete(&models.AdminSession{})
	if res.Error != nil {
		return 0, storeError("purge sessions", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *SessionStore) discard(ctx context.Context, session *models.AdminSession, reason string) {
	if err := s.db.WithContext(ctx).Delete(&models.AdminSession{}, session.ID).Error; err != nil {
		s.logger.Warn("failed to delete dead session",
			zap.Uint("session_id", session.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func wellFormedToken(token string) bool {
	if len(token) != sessionTokenBytes*2 {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

func loadUserRoles(db *gorm.DB, userID uint) ([]models.Role, error) {
	var roles []models.Role
	err := db.Model(&models.Role{}).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.user_id = ?", userID).
		Order("roles.id").
		Find(&roles).Error
	if err != nil {
		return nil, storeError("load user roles", err)
	}
	return roles, nil
}

func holdsRoleType(roles []models.Role, t RoleType) bool {
	for _, r := range roles {
		if RoleType(r.Type) == t {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"utility-cms/internal/config"
	"utility-cms/internal/models"
)

const testPassword = "Correct-Horse-Battery-9"

// testClock is a settable time source shared by the session store.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	db    *gorm.DB
	cfg   *config.Config
	svc   *Services
	clock *testClock
}

// setupTestEnv opens a fresh sqlite file and seeds the system roles.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "cms_test.db")

	db, err := models.InitDB(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	clock := newTestClock()
	svc := New(db, cfg, zap.NewNop(), WithSessionClock(clock.Now))
	require.NoError(t, svc.Roles.EnsureSystemRoles(context.Background()))

	return &testEnv{db: db, cfg: cfg, svc: svc, clock: clock}
}

// createTestUser inserts an active user holding roles, with testPassword.
func (e *testEnv) createTestUser(t *testing.T, email string, roles ...string) *models.User {
	t.Helper()

	hash, err := e.svc.Vault.Hash(testPassword)
	require.NoError(t, err)

	user := &models.User{Email: email, Name: email, PasswordHash: hash, Status: models.UserStatusActive}
	require.NoError(t, e.db.Create(user).Error)
	require.NoError(t, e.db.Create(&models.PasswordHistory{UserID: user.ID, PasswordHash: hash}).Error)

	if len(roles) > 0 {
		held, err := rolesByName(e.db, roles)
		require.NoError(t, err)
		require.NoError(t, assignRoles(e.db, user.ID, held))
		user.Roles = held
	}
	return user
}

// sessionFor opens a session for user and returns its token and context.
func (e *testEnv) sessionFor(t *testing.T, user *models.User) (string, *SessionContext) {
	t.Helper()

	issued, err := e.svc.Sessions.Create(context.Background(), nil, user.ID, false, ClientMeta{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	sc, err := e.svc.Sessions.Validate(context.Background(), issued.Token)
	require.NoError(t, err)
	require.NotNil(t, sc)
	return issued.Token, sc
}

func (e *testEnv) auditRows(t *testing.T, action string) []models.AuditLog {
	t.Helper()

	var rows []models.AuditLog
	require.NoError(t, e.db.Where("action = ?", action).Order("id").Find(&rows).Error)
	return rows
}

func (e *testEnv) sessionCount(t *testing.T, userID uint) int64 {
	t.Helper()

	var n int64
	require.NoError(t, e.db.Model(&models.AdminSession{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

// failAuditWrites makes every insert into audit_logs fail.
func failAuditWrites(t *testing.T, db *gorm.DB) {
	t.Helper()

	err := db.Callback().Create().Before("gorm:create").Register("test:fail_audit", func(tx *gorm.DB) {
		if tx.Statement.Table == "audit_logs" {
			tx.AddError(errAuditUnavailable)
		}
	})
	require.NoError(t, err)
}

var errAuditUnavailable = errors.New("audit store unavailable")

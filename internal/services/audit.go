package services

import (
	"context"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"

	"utility-cms/internal/metrics"
	"utility-cms/internal/models"
)

const (
	ModuleAuth  = "auth"
	ModuleUsers = "users"
	ModuleRoles = "roles"
)

const (
	ActionLogin            = "AUTH_LOGIN"
	ActionLoginFailed      = "AUTH_LOGIN_FAILED"
	ActionLogout           = "AUTH_LOGOUT"
	ActionPasswordChange   = "USER_PASSWORD_CHANGE"
	ActionPasswordRehash   = "USER_PASSWORD_REHASH"
	ActionUserCreate       = "USER_CREATE"
	ActionUserRolesUpdate  = "USER_ROLES_UPDATE"
	ActionUserStatusUpdate = "USER_STATUS_UPDATE"
	ActionUserPasswordSet  = "USER_PASSWORD_RESET"
	ActionRoleCreate       = "ROLE_CREATE"
	ActionRoleDelete       = "ROLE_DELETE"
	ActionBootstrap        = "SYSTEM_BOOTSTRAP"
)

const (
	defaultAuditPageSize = 50
	maxAuditPageSize     = 500
)

// AuditEntry describes one state change. ActorID is nil for events the
// system raises on its own behalf.
type AuditEntry struct {
	Module   string
	Action   string
	ActorID  *uint
	RecordID string
	Diff     map[string]any
	Client   ClientMeta
}

// AuditLogger appends write-once audit rows.
type AuditLogger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditLogger(db *gorm.DB) *AuditLogger {
	return &AuditLogger{db: db, now: time.Now}
}

// Append writes entry using tx, the transaction of the mutation it
// documents. Any error must abort that transaction.
func (a *AuditLogger) Append(ctx context.Context, tx *gorm.DB, entry AuditEntry) error {
	if tx == nil {
		tx = a.db
	}
	if entry.Module == "" || entry.Action == "" {
		return &InternalError{Op: "append audit log", Err: errMissingAuditFields}
	}

	row := &models.AuditLog{
		ID:        ulid.Make().String(),
		Module:    entry.Module,
		Action:    entry.Action,
		ActorID:   entry.ActorID,
		IPAddress: entry.Client.IPAddress,
		RequestID: entry.Client.RequestID,
		CreatedAt: a.now().UTC(),
	}
	if entry.RecordID != "" {
		id := entry.RecordID
		row.RecordID = &id
	}
	if len(entry.Diff) > 0 {
		row.Diff = models.JSONMap(entry.Diff)
	}

	if err := tx.WithContext(ctx).Create(row).Error; err != nil {
		metrics.AuditWrites.WithLabelValues(entry.Module, "error").Inc()
		return &InternalError{Op: "append audit log", Err: err}
	}
	metrics.AuditWrites.WithLabelValues(entry.Module, "ok").Inc()
	return nil
}

// AuditFilter narrows List results. Zero values match everything.
type AuditFilter struct {
	Module   string
	Action   string
	ActorID  *uint
	RecordID string
	Limit    int
	Offset   int
}

// List returns matching entries newest first together with the total count.
func (a *AuditLogger) List(ctx context.Context, f AuditFilter) ([]models.AuditLog, int64, error) {
	q := a.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if f.RecordID != "" {
		q = q.Where("record_id = ?", f.RecordID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, storeError("count audit logs", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultAuditPageSize
	}
	if limit > maxAuditPageSize {
		limit = maxAuditPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entries []models.AuditLog
	if err := q.Order("id DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, storeError("list audit logs", err)
	}
	return entries, total, nil
}

// Change is the before/after pair stored for one diff key.
func Change(before, after any) map[string]any {
	return map[string]any{"before": before, "after": after}
}

func actorRef(sc *SessionContext) *uint {
	if sc == nil {
		return nil
	}
	id := sc.UserID
	return &id
}

func recordRef(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

package models

import (
	"time"
)

const (
	UserStatusActive   = "ACTIVE"
	UserStatusInactive = "INACTIVE"
)

type User struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	Email        string     `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Name         string     `json:"name,omitempty" gorm:"type:varchar(255)"`
	Phone        string     `json:"phone,omitempty" gorm:"type:varchar(50)"`
	PasswordHash string     `json:"-" gorm:"type:varchar(255);not null"`
	Status       string     `json:"status" gorm:"type:varchar(20);not null;default:'ACTIVE'"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Roles is filled by the services layer from user_roles.
	Roles []Role `json:"roles,omitempty" gorm:"-"`
}

// Role is either a seeded system role (Type == Name) or a CUSTOM role whose
// permissions are stored on the row.
type Role struct {
	ID          uint        `json:"id" gorm:"primaryKey"`
	Name        string      `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	Label       string      `json:"label" gorm:"type:varchar(255)"`
	Type        string      `json:"type" gorm:"type:varchar(50);not null;index"`
	Permissions StringArray `json:"permissions" gorm:"type:json"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type UserRole struct {
	UserID    uint      `json:"user_id" gorm:"primaryKey"`
	RoleID    uint      `json:"role_id" gorm:"primaryKey;index"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserRole) TableName() string {
	return "user_roles"
}

// AdminSession never stores the bearer token, only its SHA-256 hex digest.
type AdminSession struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	UserID        uint       `json:"user_id" gorm:"not null;index"`
	TokenHash     string     `json:"-" gorm:"type:char(64);uniqueIndex;not null"`
	ExpiresAt     time.Time  `json:"expires_at" gorm:"not null;index"`
	RememberUntil *time.Time `json:"remember_until,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	IPAddress     string     `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent     string     `json:"user_agent" gorm:"type:varchar(500)"`
	CreatedAt     time.Time  `json:"created_at"`
}

// EffectiveExpiry is the remember window when one was granted, otherwise the
// short expiry.
func (s *AdminSession) EffectiveExpiry() time.Time {
	if s.RememberUntil != nil && s.RememberUntil.After(s.ExpiresAt) {
		return *s.RememberUntil
	}
	return s.ExpiresAt
}

type PasswordHistory struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       uint      `json:"user_id" gorm:"not null;index"`
	PasswordHash string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at" gorm:"index"`
}

func (PasswordHistory) TableName() string {
	return "password_history"
}

type AuditLog struct {
	ID        string    `json:"id" gorm:"type:char(26);primaryKey"`
	Module    string    `json:"module" gorm:"type:varchar(50);not null;index"`
	Action    string    `json:"action" gorm:"type:varchar(50);not null;index"`
	RecordID  *string   `json:"record_id,omitempty" gorm:"type:varchar(64)"`
	ActorID   *uint     `json:"actor_id,omitempty" gorm:"index"`
	Diff      JSONMap   `json:"diff,omitempty" gorm:"type:json"`
	IPAddress string    `json:"ip_address,omitempty" gorm:"type:varchar(45)"`
	RequestID string    `json:"request_id,omitempty" gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

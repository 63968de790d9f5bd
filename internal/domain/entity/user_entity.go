package entity

import (
	"time"
)

// UserStatus is the lifecycle state of an account.
type UserStatus string

const (
	StatusPending UserStatus = "PENDING"
	StatusActive  UserStatus = "ACTIVE"
	// StatusInactive is reserved for a future deactivation path; nothing
	// transitions into it yet.
	StatusInactive UserStatus = "INACTIVE"
)

// User is the aggregate root for the user lifecycle domain.
//
// CertificationCode is assigned once at creation and never rotated; it is
// compared verbatim during email verification. LastLoginAt is nil until the
// first successful login.
type User struct {
	ID                int64
	Email             string
	Nickname          string
	Address           string
	Status            UserStatus
	CertificationCode string
	LastLoginAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

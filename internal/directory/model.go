// Package directory defines the user-directory data model consumed by
// the SMTP edge and its Postgres-backed implementation.
package directory

import (
	"crypto/rsa"
	"time"
)

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// User is the subject of SMTP authentication.
type User struct {
	ID             string
	OrganizationID string
	DomainID       string
	Email          string
	DisplayName    string
	Status         Status
	// PasswordHash is empty for SSO-only accounts.
	PasswordHash string
	// LockedUntil is the zero time when the account is not locked.
	LockedUntil time.Time
}

// Locked reports whether the account is under a soft login lock.
func (u *User) Locked(now time.Time) bool {
	return !u.LockedUntil.IsZero() && u.LockedUntil.After(now)
}

// DKIMKey is a domain signing key, shared between DKIM and ARC.
type DKIMKey struct {
	ID         string
	Selector   string
	Algorithm  string
	PrivateKey *rsa.PrivateKey
}

// LoginAttempt is one append-only audit record.
type LoginAttempt struct {
	ID         string
	UserID     *string
	Email      string
	ClientIP   string
	Success    bool
	FailReason string
	Method     string
	CreatedAt  time.Time
}

package directory

import (
	"context"
	"errors"
)

// ErrUserNotFound is returned when no active verified address resolves
// to a user.
var ErrUserNotFound = errors.New("user not found")

// Repository is the read-mostly user directory contract the
// authenticator consumes. UpdateLoginFailure and UpdateLoginSuccess
// are the only mutating calls; both are idempotent against the same
// outcome.
type Repository interface {
	// GetUserByEmail resolves a lowercased, verified email address to
	// its user. Unverified addresses must not resolve.
	GetUserByEmail(ctx context.Context, email string) (*User, error)

	// UpdateLoginFailure increments the persistent failure counter and
	// applies the repository lockout policy.
	UpdateLoginFailure(ctx context.Context, userID string) error

	// UpdateLoginSuccess zeroes the failure counter and records the
	// last-login timestamp and client IP.
	UpdateLoginSuccess(ctx context.Context, userID string, ip string) error

	// RecordLoginAttempt appends an audit row. Best-effort from the
	// caller's perspective.
	RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error
}

// KeyProvider supplies the active signing key for a domain.
type KeyProvider interface {
	GetActiveDKIMKey(ctx context.Context, domain string) (*DKIMKey, error)
}

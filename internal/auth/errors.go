package auth

import "errors"

// Client-visible authentication errors. Password-path failures that
// would reveal which aspect failed (unknown user, wrong password,
// missing hash) all surface as ErrInvalidCredentials; the precise
// reason goes to the audit log only.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTLSRequired        = errors.New("TLS required for authentication")
	ErrRateLimited        = errors.New("too many failed attempts, try again later")
	ErrAccountLocked      = errors.New("account temporarily locked")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrNoPassword         = errors.New("password authentication not available for account")
)

// ErrEmailMismatch is returned when a valid bearer token belongs to a
// different address than the claimed authentication identity.
var ErrEmailMismatch = errors.New("token email does not match authentication identity")

// Audit fail-reason tags. The set is closed; tests enumerate it.
const (
	reasonUserNotFound    = "user_not_found"
	reasonInvalidPassword = "invalid_password"
	reasonNoPassword      = "no_password"
	reasonAccountDisabled = "account_disabled"
	reasonAccountPending  = "account_pending"
	reasonAccountLocked   = "account_locked"
	reasonRateLimited     = "rate_limited"
	reasonEmailMismatch   = "email_mismatch"
	reasonInvalidToken    = "invalid_token"
)

// Audit method tags.
const (
	methodSMTP   = "smtp"
	methodOAuth2 = "oauth2"
)

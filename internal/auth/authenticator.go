// Package auth implements SMTP SASL authentication against the user
// directory: PLAIN, LOGIN, XOAUTH2 and OAUTHBEARER, with TLS gating,
// Redis-backed abuse limits and append-only audit recording.
package auth

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/mailforge/smtp-edge/internal/directory"
	"github.com/mailforge/smtp-edge/internal/oauth2"
)

// AuthResult is produced on successful authentication and consumed by
// the SMTP session to authorize MAIL FROM.
type AuthResult struct {
	UserID         string
	OrganizationID string
	Email          string
	DisplayName    string
	DomainID       string
}

// TokenValidator validates OAuth2 bearer tokens. Satisfied by
// *oauth2.Validator.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*oauth2.TokenInfo, error)
}

// Authenticator authenticates SMTP submission clients.
type Authenticator struct {
	repo      directory.Repository
	limiter   *RateLimiter
	validator TokenValidator // nil disables the OAuth2 mechanisms
}

// New creates an Authenticator.
func New(repo directory.Repository, limiter *RateLimiter, validator TokenValidator) *Authenticator {
	return &Authenticator{
		repo:      repo,
		limiter:   limiter,
		validator: validator,
	}
}

// AuthenticatePlain handles the SASL PLAIN mechanism. The payload is
// the decoded triple authzid NUL authcid NUL password; the
// authorization identity must be empty or equal to the authentication
// identity.
func (a *Authenticator) AuthenticatePlain(ctx context.Context, payload []byte, clientIP net.IP, isTLS bool) (*AuthResult, error) {
	if !isTLS {
		log.Warn().Str("client_ip", clientIP.String()).Msg("PLAIN authentication attempted without TLS")
		return nil, ErrTLSRequired
	}

	ip := clientIP.String()

	authzID, email, password, err := parsePlain(payload)
	if err != nil || email == "" || password == "" || (authzID != "" && !strings.EqualFold(authzID, email)) {
		a.recordAttempt(ctx, nil, normalizeEmail(email), ip, false, reasonInvalidPassword, methodSMTP)
		return nil, ErrInvalidCredentials
	}

	return a.authenticatePassword(ctx, email, password, ip)
}

// authenticatePassword runs the shared password policy chain for
// PLAIN and LOGIN.
func (a *Authenticator) authenticatePassword(ctx context.Context, email, password, ip string) (*AuthResult, error) {
	email = normalizeEmail(email)

	if err := a.limiter.Check(ctx, email, ip); err != nil {
		log.Warn().Str("email", MaskEmail(email)).Str("client_ip", ip).Msg("authentication rate limited")
		a.recordAttempt(ctx, nil, email, ip, false, reasonRateLimited, methodSMTP)
		return nil, err
	}

	user, err := a.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, directory.ErrUserNotFound) {
		a.limiter.RecordFailure(ctx, email, ip)
		a.recordAttempt(ctx, nil, email, ip, false, reasonUserNotFound, methodSMTP)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		// Directory outage is not an authentication failure.
		return nil, err
	}

	if err := a.checkAccountState(ctx, user, email, ip, methodSMTP); err != nil {
		return nil, err
	}

	if user.PasswordHash == "" {
		a.limiter.RecordFailure(ctx, email, ip)
		a.repoLoginFailure(ctx, user.ID)
		a.recordAttempt(ctx, &user.ID, email, ip, false, reasonNoPassword, methodSMTP)
		return nil, ErrNoPassword
	}

	if err := compareHashAndPassword(user.PasswordHash, password); err != nil {
		a.limiter.RecordFailure(ctx, email, ip)
		a.repoLoginFailure(ctx, user.ID)
		a.recordAttempt(ctx, &user.ID, email, ip, false, reasonInvalidPassword, methodSMTP)
		return nil, ErrInvalidCredentials
	}

	return a.finishSuccess(ctx, user, email, ip, methodSMTP)
}

// AuthenticateXOAuth2 handles the XOAUTH2 mechanism (Google style).
// Decoded format: user=<email>\x01auth=Bearer <token>\x01\x01
func (a *Authenticator) AuthenticateXOAuth2(ctx context.Context, payload []byte, clientIP net.IP, isTLS bool) (*AuthResult, error) {
	if a.validator == nil {
		return nil, errors.New("OAuth2 authentication not configured")
	}
	if !isTLS {
		log.Warn().Str("client_ip", clientIP.String()).Msg("XOAUTH2 authentication attempted without TLS")
		return nil, ErrTLSRequired
	}

	email, token, err := parseXOAuth2(string(payload))
	if err != nil {
		log.Debug().Err(err).Msg("failed to parse XOAUTH2 response")
		return nil, oauth2.ErrInvalidToken
	}

	return a.authenticateOAuth2(ctx, email, token, clientIP.String())
}

// AuthenticateOAuthBearer handles the OAUTHBEARER mechanism
// (RFC 7628).
func (a *Authenticator) AuthenticateOAuthBearer(ctx context.Context, payload []byte, clientIP net.IP, isTLS bool) (*AuthResult, error) {
	if a.validator == nil {
		return nil, errors.New("OAuth2 authentication not configured")
	}
	if !isTLS {
		log.Warn().Str("client_ip", clientIP.String()).Msg("OAUTHBEARER authentication attempted without TLS")
		return nil, ErrTLSRequired
	}

	email, token, err := parseOAuthBearer(string(payload))
	if err != nil {
		log.Debug().Err(err).Msg("failed to parse OAUTHBEARER response")
		return nil, oauth2.ErrInvalidToken
	}

	return a.authenticateOAuth2(ctx, email, token, clientIP.String())
}

// authenticateOAuth2 performs the common OAuth2 authentication logic.
func (a *Authenticator) authenticateOAuth2(ctx context.Context, email, token, ip string) (*AuthResult, error) {
	email = normalizeEmail(email)

	if err := a.limiter.Check(ctx, email, ip); err != nil {
		log.Warn().Str("email", MaskEmail(email)).Str("client_ip", ip).Msg("OAuth2 authentication rate limited")
		a.recordAttempt(ctx, nil, email, ip, false, reasonRateLimited, methodOAuth2)
		return nil, err
	}

	tokenInfo, err := a.validator.ValidateToken(ctx, token)
	if err != nil {
		if errors.Is(err, oauth2.ErrProviderError) {
			// Provider outage is not an authentication failure and
			// must not burn rate-limit budget.
			return nil, err
		}
		log.Debug().Err(err).Str("email", MaskEmail(email)).Str("client_ip", ip).Msg("OAuth2 token validation failed")
		a.limiter.RecordFailure(ctx, email, ip)
		a.recordAttempt(ctx, nil, email, ip, false, reasonInvalidToken, methodOAuth2)
		return nil, oauth2.ErrInvalidToken
	}

	if !strings.EqualFold(tokenInfo.Email, email) {
		log.Warn().
			Str("auth_email", MaskEmail(email)).
			Str("token_email", MaskEmail(tokenInfo.Email)).
			Str("client_ip", ip).
			Msg("OAuth2 token email mismatch")
		a.limiter.RecordFailure(ctx, email, ip)
		a.recordAttempt(ctx, nil, email, ip, false, reasonEmailMismatch, methodOAuth2)
		return nil, ErrEmailMismatch
	}

	user, err := a.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, directory.ErrUserNotFound) {
		a.limiter.RecordFailure(ctx, email, ip)
		a.recordAttempt(ctx, nil, email, ip, false, reasonUserNotFound, methodOAuth2)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if err := a.checkAccountState(ctx, user, email, ip, methodOAuth2); err != nil {
		return nil, err
	}

	result, err := a.finishSuccess(ctx, user, email, ip, methodOAuth2)
	if err == nil {
		log.Info().
			Str("user_id", user.ID).
			Str("email", MaskEmail(email)).
			Str("provider", string(tokenInfo.Provider)).
			Str("client_ip", ip).
			Msg("OAuth2 authentication successful")
	}
	return result, err
}

// checkAccountState enforces status and lock gates shared by every
// mechanism.
func (a *Authenticator) checkAccountState(ctx context.Context, user *directory.User, email, ip, method string) error {
	switch user.Status {
	case directory.StatusSuspended, directory.StatusDeleted:
		log.Warn().
			Str("user_id", user.ID).
			Str("email", MaskEmail(email)).
			Str("client_ip", ip).
			Msg("authentication attempt on disabled account")
		a.recordAttempt(ctx, &user.ID, email, ip, false, reasonAccountDisabled, method)
		return ErrAccountDisabled
	case directory.StatusPending:
		a.recordAttempt(ctx, &user.ID, email, ip, false, reasonAccountPending, method)
		return ErrAccountDisabled
	}

	if user.Locked(timeNow()) {
		a.recordAttempt(ctx, &user.ID, email, ip, false, reasonAccountLocked, method)
		return ErrAccountLocked
	}

	return nil
}

// finishSuccess clears failure counters, persists the success and
// emits the audit row.
func (a *Authenticator) finishSuccess(ctx context.Context, user *directory.User, email, ip, method string) (*AuthResult, error) {
	a.limiter.Clear(ctx, email, ip)

	if err := a.repo.UpdateLoginSuccess(ctx, user.ID, ip); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("failed to update login success")
	}

	a.recordAttempt(ctx, &user.ID, email, ip, true, "", method)

	if method == methodSMTP {
		log.Info().
			Str("user_id", user.ID).
			Str("email", MaskEmail(email)).
			Str("client_ip", ip).
			Msg("authentication successful")
	}

	return &AuthResult{
		UserID:         user.ID,
		OrganizationID: user.OrganizationID,
		Email:          user.Email,
		DisplayName:    user.DisplayName,
		DomainID:       user.DomainID,
	}, nil
}

// repoLoginFailure bumps the persistent failure counter; the
// repository applies its own lockout policy.
func (a *Authenticator) repoLoginFailure(ctx context.Context, userID string) {
	if err := a.repo.UpdateLoginFailure(ctx, userID); err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("failed to update login failure")
	}
}

// recordAttempt appends an audit row. Audit failures never fail the
// authentication outcome.
func (a *Authenticator) recordAttempt(ctx context.Context, userID *string, email, ip string, success bool, reason, method string) {
	attempt := directory.LoginAttempt{
		UserID:     userID,
		Email:      email,
		ClientIP:   ip,
		Success:    success,
		FailReason: reason,
		Method:     method,
	}
	if err := a.repo.RecordLoginAttempt(ctx, attempt); err != nil {
		log.Error().Err(err).Str("email", MaskEmail(email)).Msg("failed to record login attempt")
	}
}

// bcryptSem bounds concurrent bcrypt verification; a burst of logins
// must not monopolize every core.
var bcryptSem = make(chan struct{}, runtime.GOMAXPROCS(0))

func compareHashAndPassword(hash, password string) error {
	bcryptSem <- struct{}{}
	defer func() { <-bcryptSem }()
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

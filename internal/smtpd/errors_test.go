package smtpd

import (
	"errors"
	"testing"

	"github.com/mailforge/smtp-edge/internal/auth"
	"github.com/mailforge/smtp-edge/internal/oauth2"
)

func TestToSMTPError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"tls required", auth.ErrTLSRequired, 538, "Encryption required for requested authentication mechanism"},
		{"rate limited", auth.ErrRateLimited, 454, "Too many failed attempts, try again later"},
		{"account locked", auth.ErrAccountLocked, 535, "Account temporarily locked"},
		{"account disabled", auth.ErrAccountDisabled, 535, "Account disabled"},
		{"invalid credentials", auth.ErrInvalidCredentials, 535, "Authentication credentials invalid"},
		{"no password", auth.ErrNoPassword, 535, "Authentication credentials invalid"},
		{"email mismatch", auth.ErrEmailMismatch, 535, "Authentication credentials invalid"},
		{"invalid token", oauth2.ErrInvalidToken, 535, "Authentication credentials invalid"},
		{"expired token", oauth2.ErrTokenExpired, 535, "Authentication credentials invalid"},
		{"provider outage", oauth2.ErrProviderError, 454, "Temporary authentication failure"},
		{"unexpected", errors.New("pg: connection reset"), 454, "Temporary authentication failure"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toSMTPError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestToSMTPError_CredentialFailuresIndistinguishable(t *testing.T) {
	// A probing client must see the same reply regardless of which
	// credential aspect failed.
	base := toSMTPError(auth.ErrInvalidCredentials)
	for _, err := range []error{auth.ErrNoPassword, auth.ErrEmailMismatch, oauth2.ErrInvalidToken, oauth2.ErrTokenExpired} {
		got := toSMTPError(err)
		if got.Code != base.Code || got.Message != base.Message || got.EnhancedCode != base.EnhancedCode {
			t.Errorf("reply for %v differs from invalid-credentials reply", err)
		}
	}
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{auth.ErrTLSRequired, "tls_required"},
		{auth.ErrRateLimited, "rate_limited"},
		{auth.ErrAccountLocked, "account_locked"},
		{auth.ErrAccountDisabled, "account_disabled"},
		{auth.ErrEmailMismatch, "email_mismatch"},
		{oauth2.ErrInvalidToken, "invalid_token"},
		{auth.ErrInvalidCredentials, "invalid_credentials"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := resultLabel(tt.err); got != tt.want {
			t.Errorf("resultLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

package smtpd

import (
	"errors"

	"github.com/emersion/go-smtp"

	"github.com/mailforge/smtp-edge/internal/auth"
	"github.com/mailforge/smtp-edge/internal/oauth2"
)

// toSMTPError maps authenticator errors onto SMTP replies with
// enhanced status codes. Every credential-shaped failure collapses to
// the same 535 so clients cannot probe which aspect failed.
func toSMTPError(err error) *smtp.SMTPError {
	switch {
	case errors.Is(err, auth.ErrTLSRequired):
		return &smtp.SMTPError{
			Code:         538,
			EnhancedCode: smtp.EnhancedCode{5, 7, 11},
			Message:      "Encryption required for requested authentication mechanism",
		}
	case errors.Is(err, auth.ErrRateLimited):
		return &smtp.SMTPError{
			Code:         454,
			EnhancedCode: smtp.EnhancedCode{4, 7, 0},
			Message:      "Too many failed attempts, try again later",
		}
	case errors.Is(err, auth.ErrAccountLocked):
		return &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Account temporarily locked",
		}
	case errors.Is(err, auth.ErrAccountDisabled):
		return &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Account disabled",
		}
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrNoPassword),
		errors.Is(err, auth.ErrEmailMismatch),
		errors.Is(err, oauth2.ErrInvalidToken),
		errors.Is(err, oauth2.ErrTokenExpired),
		errors.Is(err, oauth2.ErrUnsupportedProvider):
		return &smtp.SMTPError{
			Code:         535,
			EnhancedCode: smtp.EnhancedCode{5, 7, 8},
			Message:      "Authentication credentials invalid",
		}
	default:
		// Infrastructure trouble is always transient to the client.
		return &smtp.SMTPError{
			Code:         454,
			EnhancedCode: smtp.EnhancedCode{4, 7, 0},
			Message:      "Temporary authentication failure",
		}
	}
}

// resultLabel converts an authentication outcome into a metrics
// label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, auth.ErrTLSRequired):
		return "tls_required"
	case errors.Is(err, auth.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, auth.ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, auth.ErrAccountDisabled):
		return "account_disabled"
	case errors.Is(err, auth.ErrEmailMismatch):
		return "email_mismatch"
	case errors.Is(err, oauth2.ErrInvalidToken), errors.Is(err, oauth2.ErrTokenExpired):
		return "invalid_token"
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrNoPassword):
		return "invalid_credentials"
	default:
		return "error"
	}
}

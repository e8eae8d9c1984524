// Package smtpd adapts the authentication stack onto an SMTP
// submission listener.
package smtpd

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/mailforge/smtp-edge/internal/arc"
	"github.com/mailforge/smtp-edge/internal/auth"
)

// Backend creates a session per connection and carries the shared
// dependencies those sessions use.
type Backend struct {
	Auth *auth.Authenticator

	// Signer seals submitted messages before handoff. nil disables
	// ARC sealing.
	Signer *arc.Signer
	// Verifier validates any ARC chain already present on a
	// submitted message. nil skips verification and seals with
	// cv=none.
	Verifier *arc.Verifier
	// SigningDomain selects the DKIM key used for sealing.
	SigningDomain string

	// OAuth2Enabled controls whether XOAUTH2 and OAUTHBEARER are
	// advertised and accepted.
	OAuth2Enabled bool

	// OpTimeout bounds each authentication exchange and each DATA
	// sealing pass. Zero selects 30 seconds.
	OpTimeout time.Duration
}

// opContext returns the deadline-carrying context handed to the
// authenticator and ARC calls. go-smtp exposes no per-session context,
// so the bound is per operation.
func (b *Backend) opContext() (context.Context, context.CancelFunc) {
	timeout := b.OpTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// NewSession implements smtp.Backend.
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &session{backend: b, conn: c}, nil
}

// Options configures the SMTP listener.
type Options struct {
	Addr            string
	Domain          string
	TLSConfig       *tls.Config
	MaxMessageBytes int64
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// NewServer builds a submission server around the backend. STARTTLS is
// offered when a TLS config is present; authentication is still gated
// per session so plaintext connections never see AUTH.
func NewServer(backend *Backend, opts Options) *smtp.Server {
	s := smtp.NewServer(backend)

	s.Addr = opts.Addr
	s.Domain = opts.Domain
	s.TLSConfig = opts.TLSConfig
	s.AllowInsecureAuth = false

	s.MaxMessageBytes = opts.MaxMessageBytes
	if s.MaxMessageBytes == 0 {
		s.MaxMessageBytes = 50 * 1024 * 1024
	}
	s.MaxRecipients = opts.MaxRecipients
	if s.MaxRecipients == 0 {
		s.MaxRecipients = 100
	}
	s.ReadTimeout = opts.ReadTimeout
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 60 * time.Second
	}
	s.WriteTimeout = opts.WriteTimeout
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 60 * time.Second
	}

	return s
}

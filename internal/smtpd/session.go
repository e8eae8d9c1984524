package smtpd

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/rs/zerolog/log"

	"github.com/mailforge/smtp-edge/internal/arc"
	"github.com/mailforge/smtp-edge/internal/auth"
	"github.com/mailforge/smtp-edge/internal/metrics"
)

// XOAUTH2 is widely implemented but predates the OAUTHBEARER
// registration, so go-sasl carries no constant for it.
const mechXOAuth2 = "XOAUTH2"

// session is one SMTP connection. The embedded AuthResult authorizes
// MAIL FROM once a SASL exchange succeeds.
type session struct {
	backend *Backend
	conn    *smtp.Conn
	result  *auth.AuthResult
}

func (s *session) clientIP() net.IP {
	if addr, ok := s.conn.Conn().RemoteAddr().(*net.TCPAddr); ok {
		return addr.IP
	}
	host, _, err := net.SplitHostPort(s.conn.Conn().RemoteAddr().String())
	if err != nil {
		return net.IPv4zero
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip
	}
	return net.IPv4zero
}

func (s *session) isTLS() bool {
	_, ok := s.conn.TLSConnectionState()
	return ok
}

// AuthMechanisms advertises SASL mechanisms. Nothing is offered
// before STARTTLS.
func (s *session) AuthMechanisms() []string {
	if !s.isTLS() {
		return nil
	}
	mechs := []string{sasl.Plain, sasl.Login}
	if s.backend.OAuth2Enabled {
		mechs = append(mechs, mechXOAuth2, sasl.OAuthBearer)
	}
	return mechs
}

// Auth starts a SASL exchange for the requested mechanism.
func (s *session) Auth(mech string) (sasl.Server, error) {
	switch mech {
	case sasl.Plain:
		return &responseServer{s: s, mech: sasl.Plain, handle: s.handlePlain}, nil
	case sasl.Login:
		return &loginServer{s: s}, nil
	case mechXOAuth2:
		return &responseServer{s: s, mech: mechXOAuth2, handle: s.handleXOAuth2}, nil
	case sasl.OAuthBearer:
		return &responseServer{s: s, mech: sasl.OAuthBearer, handle: s.handleOAuthBearer}, nil
	default:
		return nil, smtp.ErrAuthUnknownMechanism
	}
}

func (s *session) handlePlain(ctx context.Context, response []byte) error {
	result, err := s.backend.Auth.AuthenticatePlain(ctx, response, s.clientIP(), s.isTLS())
	s.result = result
	return err
}

func (s *session) handleXOAuth2(ctx context.Context, response []byte) error {
	result, err := s.backend.Auth.AuthenticateXOAuth2(ctx, response, s.clientIP(), s.isTLS())
	s.result = result
	return err
}

func (s *session) handleOAuthBearer(ctx context.Context, response []byte) error {
	result, err := s.backend.Auth.AuthenticateOAuthBearer(ctx, response, s.clientIP(), s.isTLS())
	s.result = result
	return err
}

// responseServer runs single-response mechanisms (PLAIN, XOAUTH2,
// OAUTHBEARER): one client response, no server challenge.
type responseServer struct {
	s      *session
	mech   string
	handle func(ctx context.Context, response []byte) error
	done   bool
}

func (r *responseServer) Next(response []byte) ([]byte, bool, error) {
	if r.done {
		return nil, false, smtp.ErrAuthFailed
	}
	if response == nil {
		// No initial response; ask the client for one.
		return nil, false, nil
	}
	r.done = true

	ctx, cancel := r.s.backend.opContext()
	defer cancel()

	err := r.handle(ctx, response)
	metrics.AuthAttempts.WithLabelValues(r.mech, resultLabel(err)).Inc()
	if err != nil {
		return nil, false, toSMTPError(err)
	}
	return nil, true, nil
}

// loginServer runs the two-step LOGIN exchange by driving the
// authenticator's state machine.
type loginServer struct {
	s     *session
	state auth.LoginState
	begun bool
}

func (l *loginServer) Next(response []byte) ([]byte, bool, error) {
	if !l.begun {
		l.begun = true
		if response == nil {
			return []byte("Username:"), false, nil
		}
	}
	if l.state.Done() {
		return nil, false, smtp.ErrAuthFailed
	}

	ctx, cancel := l.s.backend.opContext()
	defer cancel()

	result, challenge, err := l.s.backend.Auth.AuthenticateLoginStep(
		ctx, &l.state, response, l.s.clientIP(), l.s.isTLS())
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(sasl.Login, resultLabel(err)).Inc()
		return nil, false, toSMTPError(err)
	}
	if challenge != "" {
		// The state machine emits the wire (base64) form; the SASL
		// framing re-encodes, so hand it over decoded.
		raw, decErr := base64.StdEncoding.DecodeString(challenge)
		if decErr != nil {
			raw = []byte(challenge)
		}
		return raw, false, nil
	}

	l.s.result = result
	metrics.AuthAttempts.WithLabelValues(sasl.Login, "success").Inc()
	return nil, true, nil
}

// Mail requires a completed authentication and restricts the sender
// to the authenticated identity's address.
func (s *session) Mail(from string, opts *smtp.MailOptions) error {
	if s.result == nil {
		return &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	if from != "" && !strings.EqualFold(from, s.result.Email) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 7, 1},
			Message:      "Sender address does not match authenticated identity",
		}
	}
	log.Debug().Str("user_id", s.result.UserID).Str("from", from).Msg("mail transaction started")
	return nil
}

func (s *session) Rcpt(to string, opts *smtp.RcptOptions) error {
	if s.result == nil {
		return &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	return nil
}

// Data reads the submitted message and seals it with ARC before
// handoff. Queueing and routing belong to the relay behind this edge.
func (s *session) Data(r io.Reader) error {
	message, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	if s.backend.Signer != nil {
		sealed, err := s.sealMessage(message)
		if err != nil {
			log.Error().Err(err).Str("user_id", s.result.UserID).Msg("ARC sealing failed")
			metrics.ARCOperations.WithLabelValues("sign", "error").Inc()
		} else {
			message = sealed
			metrics.ARCOperations.WithLabelValues("sign", "success").Inc()
		}
	}

	log.Debug().Int("bytes", len(message)).Str("user_id", s.result.UserID).Msg("message accepted for handoff")
	return nil
}

// sealMessage verifies any existing ARC chain and appends this hop's
// set. The chain verdict seeds the new seal's cv= tag.
func (s *session) sealMessage(message []byte) ([]byte, error) {
	ctx, cancel := s.backend.opContext()
	defer cancel()

	cv := arc.ChainValidationNone
	if s.backend.Verifier != nil {
		chain, err := s.backend.Verifier.Verify(ctx, message)
		if err != nil {
			return nil, err
		}
		cv = chain.Validation
		metrics.ARCOperations.WithLabelValues("verify", string(chain.Validation)).Inc()
	}

	authResults := []arc.AuthResult{{
		Method: "auth",
		Result: "pass",
		Properties: map[string]string{
			"smtp.auth": s.result.Email,
		},
	}}
	if cv != arc.ChainValidationNone {
		authResults = append(authResults, arc.AuthResult{Method: "arc", Result: string(cv)})
	}

	return s.backend.Signer.Sign(ctx, s.backend.SigningDomain, message, authResults, cv)
}

func (s *session) Reset() {
	// MAIL transaction state lives in the server; authentication
	// survives RSET.
}

func (s *session) Logout() error {
	return nil
}

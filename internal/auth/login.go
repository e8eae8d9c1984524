package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"time"
)

// timeNow is swapped out in tests.
var timeNow = time.Now

// loginChallenge is the server challenge sent after the username step,
// pre-encoded the way LOGIN clients expect it on the wire.
var loginChallenge = base64.StdEncoding.EncodeToString([]byte("Password:"))

// LOGIN state machine steps.
const (
	loginStepUser = iota
	loginStepPassword
	loginStepDone
)

// LoginState threads the two-step LOGIN exchange through a single
// connection. One instance per connection; not safe for concurrent
// use.
type LoginState struct {
	step     int
	username string
}

// Done reports whether the exchange reached a terminal state.
func (s *LoginState) Done() bool {
	return s.step == loginStepDone
}

// AuthenticateLoginStep advances the LOGIN exchange by one client
// response. The first step consumes the username and returns the
// password challenge; the second consumes the password and finalizes.
// An empty response at either step terminates the exchange with
// ErrInvalidCredentials.
func (a *Authenticator) AuthenticateLoginStep(ctx context.Context, state *LoginState, response []byte, clientIP net.IP, isTLS bool) (*AuthResult, string, error) {
	if !isTLS {
		state.step = loginStepDone
		return nil, "", ErrTLSRequired
	}

	switch state.step {
	case loginStepUser:
		if len(response) == 0 {
			state.step = loginStepDone
			a.recordAttempt(ctx, nil, "", clientIP.String(), false, reasonInvalidPassword, methodSMTP)
			return nil, "", ErrInvalidCredentials
		}
		state.username = string(response)
		state.step = loginStepPassword
		return nil, loginChallenge, nil

	case loginStepPassword:
		state.step = loginStepDone
		if len(response) == 0 {
			a.recordAttempt(ctx, nil, normalizeEmail(state.username), clientIP.String(), false, reasonInvalidPassword, methodSMTP)
			return nil, "", ErrInvalidCredentials
		}
		result, err := a.authenticatePassword(ctx, state.username, string(response), clientIP.String())
		return result, "", err

	default:
		return nil, "", errors.New("LOGIN exchange already completed")
	}
}

package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/mailforge/smtp-edge/internal/directory"
)

func TestLoginExchange_Success(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t, nil)
	repo.addUser("alice@example.com", "s3cret", directory.StatusActive)

	var state LoginState

	result, challenge, err := a.AuthenticateLoginStep(context.Background(), &state, []byte("alice@example.com"), testIP, true)
	if err != nil {
		t.Fatalf("username step failed: %v", err)
	}
	if result != nil {
		t.Fatal("no result expected before the password step")
	}
	decoded, decErr := base64.StdEncoding.DecodeString(challenge)
	if decErr != nil || string(decoded) != "Password:" {
		t.Fatalf("challenge = %q, want base64 of Password:", challenge)
	}
	if state.Done() {
		t.Fatal("exchange should still be open after the username step")
	}

	result, challenge, err = a.AuthenticateLoginStep(context.Background(), &state, []byte("s3cret"), testIP, true)
	if err != nil {
		t.Fatalf("password step failed: %v", err)
	}
	if challenge != "" {
		t.Error("no challenge expected after the password step")
	}
	if result == nil || result.Email != "alice@example.com" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !state.Done() {
		t.Error("exchange should be terminal after the password step")
	}
}

func TestLoginExchange_WrongPassword(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t, nil)
	repo.addUser("alice@example.com", "s3cret", directory.StatusActive)

	var state LoginState
	a.AuthenticateLoginStep(context.Background(), &state, []byte("alice@example.com"), testIP, true)

	_, _, err := a.AuthenticateLoginStep(context.Background(), &state, []byte("wrong"), testIP, true)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !state.Done() {
		t.Error("failed exchange must be terminal")
	}
}

func TestLoginExchange_EmptyUsername(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t, nil)

	var state LoginState
	_, _, err := a.AuthenticateLoginStep(context.Background(), &state, []byte{}, testIP, true)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if !state.Done() {
		t.Error("empty username must terminate the exchange")
	}
	if repo.lastAttempt(t).FailReason != reasonInvalidPassword {
		t.Error("should audit as invalid_password")
	}
}

func TestLoginExchange_EmptyPassword(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t, nil)
	repo.addUser("alice@example.com", "s3cret", directory.StatusActive)

	var state LoginState
	a.AuthenticateLoginStep(context.Background(), &state, []byte("alice@example.com"), testIP, true)

	_, _, err := a.AuthenticateLoginStep(context.Background(), &state, []byte{}, testIP, true)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginExchange_TLSRequired(t *testing.T) {
	a, _, _ := newTestAuthenticator(t, nil)

	var state LoginState
	_, _, err := a.AuthenticateLoginStep(context.Background(), &state, []byte("alice@example.com"), testIP, false)
	if !errors.Is(err, ErrTLSRequired) {
		t.Fatalf("expected ErrTLSRequired, got %v", err)
	}
	if !state.Done() {
		t.Error("TLS refusal must terminate the exchange")
	}
}

func TestLoginExchange_StepAfterDone(t *testing.T) {
	a, repo, _ := newTestAuthenticator(t, nil)
	repo.addUser("alice@example.com", "s3cret", directory.StatusActive)

	var state LoginState
	a.AuthenticateLoginStep(context.Background(), &state, []byte("alice@example.com"), testIP, true)
	a.AuthenticateLoginStep(context.Background(), &state, []byte("s3cret"), testIP, true)

	_, _, err := a.AuthenticateLoginStep(context.Background(), &state, []byte("again"), testIP, true)
	if err == nil {
		t.Fatal("stepping a completed exchange must fail")
	}
}

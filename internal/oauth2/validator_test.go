package oauth2

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "internal-test-secret"

func signInternal(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func internalClaims(email string, exp time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   "mailforge",
		"sub":   "user-123",
		"email": email,
		"exp":   exp.Unix(),
	}
}

func newTestValidator(t *testing.T, config Config) (*Validator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	config.InternalJWTSecret = testSecret
	config.InternalIssuer = "mailforge"
	return NewValidator(config, rdb), mr
}

func TestValidateInternalToken(t *testing.T) {
	v, _ := newTestValidator(t, Config{})

	token := signInternal(t, testSecret, internalClaims("alice@example.com", time.Now().Add(time.Hour)))

	info, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, ProviderInternal, info.Provider)
	assert.Equal(t, "user-123", info.Subject)
}

func TestValidateInternalToken_Expired(t *testing.T) {
	v, _ := newTestValidator(t, Config{})

	token := signInternal(t, testSecret, internalClaims("alice@example.com", time.Now().Add(-time.Hour)))

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateInternalToken_WrongSecret(t *testing.T) {
	v, _ := newTestValidator(t, Config{})

	token := signInternal(t, "some-other-secret", internalClaims("alice@example.com", time.Now().Add(time.Hour)))

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateInternalToken_MissingExpiry(t *testing.T) {
	v, _ := newTestValidator(t, Config{})

	token := signInternal(t, testSecret, jwt.MapClaims{
		"iss":   "mailforge",
		"email": "alice@example.com",
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateInternalToken_MissingEmail(t *testing.T) {
	v, _ := newTestValidator(t, Config{})

	token := signInternal(t, testSecret, jwt.MapClaims{
		"iss": "mailforge",
		"sub": "user-123",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err := v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateInternalToken_RejectsNonHMAC(t *testing.T) {
	v, _ := newTestValidator(t, Config{})

	// alg=none with a bare payload must never pass.
	token := jwt.NewWithClaims(jwt.SigningMethodNone, internalClaims("alice@example.com", time.Now().Add(time.Hour)))
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), signed)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func googleTokenInfoServer(t *testing.T, hits *int, body string, status int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hits++
		assert.NotEmpty(t, r.URL.Query().Get("access_token"))
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestValidateGoogleToken(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{
		"aud": "client-1.apps.googleusercontent.com",
		"azp": "client-1.apps.googleusercontent.com",
		"sub": "10987",
		"email": "alice@example.com",
		"email_verified": "true",
		"expires_in": "3500",
		"scope": "openid email https://mail.google.com/"
	}`, http.StatusOK)

	v, _ := newTestValidator(t, Config{
		GoogleTokenInfoURL: server.URL,
		GoogleClientIDs:    []string{"client-1.apps.googleusercontent.com"},
	})

	info, err := v.ValidateToken(context.Background(), "ya29.opaque-token")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, ProviderGoogle, info.Provider)
	assert.Equal(t, "10987", info.ProviderUserID)
	assert.WithinDuration(t, time.Now().Add(3500*time.Second), info.ExpiresAt, 5*time.Second)
	assert.Equal(t, 1, hits)
}

func TestValidateGoogleToken_ClientIDNotAllowed(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{
		"aud": "rogue-client",
		"sub": "10987",
		"email": "alice@example.com",
		"expires_in": "3600",
		"scope": "email"
	}`, http.StatusOK)

	v, _ := newTestValidator(t, Config{
		GoogleTokenInfoURL: server.URL,
		GoogleClientIDs:    []string{"client-1.apps.googleusercontent.com"},
	})

	_, err := v.ValidateToken(context.Background(), "ya29.opaque-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGoogleToken_MissingEmailScope(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{
		"aud": "client-1",
		"sub": "10987",
		"email": "alice@example.com",
		"expires_in": "3600",
		"scope": "openid profile"
	}`, http.StatusOK)

	v, _ := newTestValidator(t, Config{GoogleTokenInfoURL: server.URL})

	_, err := v.ValidateToken(context.Background(), "ya29.opaque-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGoogleToken_Rejected(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{"error":"invalid_token"}`, http.StatusBadRequest)

	v, _ := newTestValidator(t, Config{GoogleTokenInfoURL: server.URL})

	_, err := v.ValidateToken(context.Background(), "ya29.expired")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateGoogleToken_ProviderUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	v, _ := newTestValidator(t, Config{GoogleTokenInfoURL: server.URL})

	_, err := v.ValidateToken(context.Background(), "ya29.opaque-token")
	assert.ErrorIs(t, err, ErrProviderError)
}

func microsoftToken(t *testing.T) string {
	t.Helper()
	return signInternal(t, "irrelevant", jwt.MapClaims{
		"iss": "https://login.microsoftonline.com/tenant-id/v2.0",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
}

func TestValidateMicrosoftToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.Write([]byte(`{
			"id": "ms-user-id",
			"userPrincipalName": "alice@contoso.com",
			"mail": "alice@example.com",
			"displayName": "Alice"
		}`))
	}))
	t.Cleanup(server.Close)

	v, _ := newTestValidator(t, Config{MicrosoftGraphURL: server.URL})

	info, err := v.ValidateToken(context.Background(), microsoftToken(t))
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", info.Email)
	assert.Equal(t, ProviderMicrosoft, info.Provider)
	assert.Equal(t, "ms-user-id", info.ProviderUserID)
}

func TestValidateMicrosoftToken_MailFallsBackToUPN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "ms-user-id", "userPrincipalName": "alice@contoso.com"}`))
	}))
	t.Cleanup(server.Close)

	v, _ := newTestValidator(t, Config{MicrosoftGraphURL: server.URL})

	info, err := v.ValidateToken(context.Background(), microsoftToken(t))
	require.NoError(t, err)
	assert.Equal(t, "alice@contoso.com", info.Email)
}

func TestValidateMicrosoftToken_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	v, _ := newTestValidator(t, Config{MicrosoftGraphURL: server.URL})

	_, err := v.ValidateToken(context.Background(), microsoftToken(t))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateMicrosoftToken_GraphOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	v, _ := newTestValidator(t, Config{MicrosoftGraphURL: server.URL})

	_, err := v.ValidateToken(context.Background(), microsoftToken(t))
	assert.ErrorIs(t, err, ErrProviderError)
}

func TestDetectProvider_UnknownIssuer(t *testing.T) {
	v := NewValidator(Config{}, nil)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "https://idp.unknown.example",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("x"))
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}

func TestValidateToken_CachesResult(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{
		"aud": "client-1",
		"sub": "10987",
		"email": "alice@example.com",
		"expires_in": "3600",
		"scope": "email"
	}`, http.StatusOK)

	v, mr := newTestValidator(t, Config{GoogleTokenInfoURL: server.URL})

	token := "ya29.cached-token"
	_, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	_, err = v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "second validation must be served from cache")

	// The raw token never appears in a key or value.
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, token)
		value, _ := mr.Get(key)
		assert.NotContains(t, value, token)
	}
}

func TestValidateToken_CacheTTLBoundedByTokenExpiry(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{
		"aud": "client-1",
		"sub": "10987",
		"email": "alice@example.com",
		"expires_in": "60",
		"scope": "email"
	}`, http.StatusOK)

	v, mr := newTestValidator(t, Config{
		GoogleTokenInfoURL: server.URL,
		TokenCacheTTL:      5 * time.Minute,
	})

	_, err := v.ValidateToken(context.Background(), "ya29.short-lived")
	require.NoError(t, err)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	ttl := mr.TTL(keys[0])
	assert.LessOrEqual(t, ttl, 61*time.Second)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestValidateToken_CacheExpiresWithWindow(t *testing.T) {
	var hits int
	server := googleTokenInfoServer(t, &hits, `{
		"aud": "client-1",
		"sub": "10987",
		"email": "alice@example.com",
		"expires_in": "3600",
		"scope": "email"
	}`, http.StatusOK)

	v, mr := newTestValidator(t, Config{
		GoogleTokenInfoURL: server.URL,
		TokenCacheTTL:      time.Minute,
	})

	token := "ya29.window"
	_, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 2, hits, "expired cache entry must revalidate")
}

func TestHashToken(t *testing.T) {
	h := hashToken("ya29.secret-token")
	assert.Len(t, h, 32)
	assert.NotContains(t, h, "secret")
	assert.Equal(t, h, hashToken("ya29.secret-token"))
	assert.NotEqual(t, h, hashToken("ya29.other-token"))
}

// Package oauth2 validates OAuth2 bearer tokens presented over SMTP
// SASL. Tokens are dispatched to Google's tokeninfo endpoint,
// Microsoft Graph, or the internal JWT verifier, and validation
// results are cached in Redis keyed by a hash of the token.
package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mailforge/smtp-edge/internal/metrics"
)

var (
	ErrInvalidToken        = errors.New("invalid OAuth2 token")
	ErrTokenExpired        = errors.New("OAuth2 token expired")
	ErrProviderError       = errors.New("OAuth2 provider error")
	ErrUnsupportedProvider = errors.New("unsupported OAuth2 provider")
)

// Provider identifies a supported OAuth2 identity provider.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
	ProviderInternal  Provider = "internal"
)

// TokenInfo contains validated token information. It is cached as
// JSON; the raw token never appears in it.
type TokenInfo struct {
	Email          string    `json:"email"`
	Subject        string    `json:"subject"`
	Issuer         string    `json:"issuer"`
	Audience       string    `json:"audience"`
	ExpiresAt      time.Time `json:"expires_at"`
	Provider       Provider  `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
}

// Config holds OAuth2 validation configuration.
type Config struct {
	// GoogleClientIDs restricts accepted Google tokens to these
	// client IDs. Empty means any client.
	GoogleClientIDs []string
	// InternalJWTSecret verifies internal HS256 tokens.
	InternalJWTSecret string
	// InternalIssuer is the issuer tag that marks a JWT as internal.
	InternalIssuer string
	// TokenCacheTTL bounds how long validation results are cached.
	TokenCacheTTL time.Duration

	// Endpoint overrides for tests.
	GoogleTokenInfoURL string
	MicrosoftGraphURL  string
}

const (
	defaultGoogleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	defaultMicrosoftGraphURL  = "https://graph.microsoft.com/v1.0/me"
)

// Validator validates OAuth2 tokens from multiple providers. Safe for
// concurrent use.
type Validator struct {
	config     Config
	redis      *redis.Client
	httpClient *http.Client
}

// NewValidator creates a Validator. redisClient may be nil to disable
// result caching.
func NewValidator(config Config, redisClient *redis.Client) *Validator {
	if config.TokenCacheTTL <= 0 {
		config.TokenCacheTTL = 5 * time.Minute
	}
	if config.GoogleTokenInfoURL == "" {
		config.GoogleTokenInfoURL = defaultGoogleTokenInfoURL
	}
	if config.MicrosoftGraphURL == "" {
		config.MicrosoftGraphURL = defaultMicrosoftGraphURL
	}
	return &Validator{
		config: config,
		redis:  redisClient,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ValidateToken validates a bearer token and returns its token
// information. The raw token is never logged or stored.
func (v *Validator) ValidateToken(ctx context.Context, token string) (*TokenInfo, error) {
	if info := v.cachedTokenInfo(ctx, token); info != nil {
		metrics.OAuth2Validations.WithLabelValues(string(info.Provider), "cache_hit").Inc()
		return info, nil
	}

	provider, err := v.detectProvider(token)
	if err != nil {
		metrics.OAuth2Validations.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	var info *TokenInfo
	switch provider {
	case ProviderGoogle:
		info, err = v.validateGoogleToken(ctx, token)
	case ProviderMicrosoft:
		info, err = v.validateMicrosoftToken(ctx, token)
	case ProviderInternal:
		info, err = v.validateInternalToken(token)
	default:
		return nil, ErrUnsupportedProvider
	}
	if err != nil {
		label := "rejected"
		if errors.Is(err, ErrProviderError) {
			label = "provider_error"
		}
		metrics.OAuth2Validations.WithLabelValues(string(provider), label).Inc()
		return nil, err
	}
	metrics.OAuth2Validations.WithLabelValues(string(provider), "success").Inc()

	v.cacheTokenInfo(ctx, token, info)
	return info, nil
}

// detectProvider determines the issuing provider from the token
// shape. Opaque tokens are tried against Google's tokeninfo; JWTs are
// dispatched on their issuer claim.
func (v *Validator) detectProvider(token string) (Provider, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ProviderGoogle, nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", ErrInvalidToken
	}

	var claims struct {
		Iss string `json:"iss"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", ErrInvalidToken
	}

	switch {
	case strings.Contains(claims.Iss, "accounts.google.com") || strings.Contains(claims.Iss, "googleapis.com"):
		return ProviderGoogle, nil
	case strings.Contains(claims.Iss, "login.microsoftonline.com") || strings.Contains(claims.Iss, "sts.windows.net"):
		return ProviderMicrosoft, nil
	case v.config.InternalIssuer != "" && strings.Contains(claims.Iss, v.config.InternalIssuer),
		v.config.InternalJWTSecret != "":
		return ProviderInternal, nil
	default:
		return "", ErrUnsupportedProvider
	}
}

// hashToken derives the cache key material from a token. SHA-256,
// truncated; the raw token must never reach Redis.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:32]
}

func cacheKey(token string) string {
	return "oauth2:token:" + hashToken(token)
}

func (v *Validator) cachedTokenInfo(ctx context.Context, token string) *TokenInfo {
	if v.redis == nil {
		return nil
	}

	data, err := v.redis.Get(ctx, cacheKey(token)).Bytes()
	if err != nil {
		return nil
	}

	var info TokenInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		return nil
	}
	return &info
}

// cacheTokenInfo stores the validation result with a TTL bounded by
// both the configured cache TTL and the token's own expiry.
func (v *Validator) cacheTokenInfo(ctx context.Context, token string, info *TokenInfo) {
	if v.redis == nil {
		return
	}

	data, err := json.Marshal(info)
	if err != nil {
		return
	}

	ttl := v.config.TokenCacheTTL
	if !info.ExpiresAt.IsZero() {
		if remaining := time.Until(info.ExpiresAt); remaining < ttl {
			ttl = remaining
		}
	}
	if ttl <= 0 {
		return
	}

	if err := v.redis.Set(ctx, cacheKey(token), data, ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to cache token validation result")
	}
}

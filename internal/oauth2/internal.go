package oauth2

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// validateInternalToken verifies an internal JWT against the
// configured HS256 secret. The signing method is pinned to HMAC and
// expiry is mandatory; a token that merely decodes is not accepted.
func (v *Validator) validateInternalToken(token string) (*TokenInfo, error) {
	if v.config.InternalJWTSecret == "" {
		return nil, ErrUnsupportedProvider
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(v.config.InternalJWTSecret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	iss, _ := claims["iss"].(string)
	aud, _ := claims["aud"].(string)
	if email == "" {
		return nil, ErrInvalidToken
	}

	var expiresAt time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiresAt = exp.Time
	}

	return &TokenInfo{
		Email:          email,
		Subject:        sub,
		Issuer:         iss,
		Audience:       aud,
		ExpiresAt:      expiresAt,
		Provider:       ProviderInternal,
		ProviderUserID: sub,
	}, nil
}

package oauth2

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// validateGoogleToken validates a Google access token against the
// tokeninfo introspection endpoint.
func (v *Validator) validateGoogleToken(ctx context.Context, token string) (*TokenInfo, error) {
	endpoint := v.config.GoogleTokenInfoURL + "?access_token=" + url.QueryEscape(token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, ErrProviderError
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("google tokeninfo request failed")
		return nil, ErrProviderError
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrInvalidToken
	}

	var body struct {
		Azp           string `json:"azp"`
		Aud           string `json:"aud"`
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified string `json:"email_verified"`
		ExpiresIn     string `json:"expires_in"`
		Scope         string `json:"scope"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, ErrProviderError
	}

	// Restrict to configured client IDs when an allow-list is set.
	if len(v.config.GoogleClientIDs) > 0 {
		valid := false
		for _, clientID := range v.config.GoogleClientIDs {
			if body.Aud == clientID || body.Azp == clientID {
				valid = true
				break
			}
		}
		if !valid {
			log.Warn().Str("aud", body.Aud).Str("azp", body.Azp).Msg("google token has unexpected client id")
			return nil, ErrInvalidToken
		}
	}

	if !strings.Contains(body.Scope, "email") {
		return nil, ErrInvalidToken
	}

	var expiresAt time.Time
	if secs, err := strconv.Atoi(body.ExpiresIn); err == nil && secs > 0 {
		expiresAt = time.Now().Add(time.Duration(secs) * time.Second)
	}

	return &TokenInfo{
		Email:          body.Email,
		Subject:        body.Sub,
		Issuer:         "https://accounts.google.com",
		Audience:       body.Aud,
		ExpiresAt:      expiresAt,
		Provider:       ProviderGoogle,
		ProviderUserID: body.Sub,
	}, nil
}

package oauth2

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// validateMicrosoftToken validates a Microsoft access token by
// resolving the current user through Microsoft Graph.
func (v *Validator) validateMicrosoftToken(ctx context.Context, token string) (*TokenInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.MicrosoftGraphURL, nil)
	if err != nil {
		return nil, ErrProviderError
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("microsoft graph request failed")
		return nil, ErrProviderError
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		return nil, ErrProviderError
	}

	var userInfo struct {
		ID                string `json:"id"`
		UserPrincipalName string `json:"userPrincipalName"`
		Mail              string `json:"mail"`
		DisplayName       string `json:"displayName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&userInfo); err != nil {
		return nil, ErrProviderError
	}

	email := userInfo.Mail
	if email == "" {
		email = userInfo.UserPrincipalName
	}

	return &TokenInfo{
		Email:          email,
		Subject:        userInfo.ID,
		Issuer:         "https://login.microsoftonline.com",
		Provider:       ProviderMicrosoft,
		ProviderUserID: userInfo.ID,
	}, nil
}

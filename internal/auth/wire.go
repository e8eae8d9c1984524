package auth

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// parsePlain splits a decoded SASL PLAIN response into its
// authorization identity, authentication identity and password
// (RFC 4616: authzid NUL authcid NUL passwd).
func parsePlain(payload []byte) (authzID, authcID, password string, err error) {
	parts := bytes.Split(payload, []byte{0})
	if len(parts) != 3 {
		return "", "", "", errors.New("malformed PLAIN response")
	}
	return string(parts[0]), string(parts[1]), string(parts[2]), nil
}

// parseXOAuth2 parses the XOAUTH2 authentication string.
// Format: user=<email>\x01auth=Bearer <token>\x01\x01
func parseXOAuth2(s string) (email, token string, err error) {
	parts := strings.Split(s, "\x01")
	if len(parts) < 2 {
		return "", "", errors.New("invalid XOAUTH2 format")
	}

	for _, part := range parts {
		if strings.HasPrefix(part, "user=") {
			email = strings.TrimPrefix(part, "user=")
		} else if strings.HasPrefix(part, "auth=Bearer ") {
			token = strings.TrimPrefix(part, "auth=Bearer ")
		}
	}

	if email == "" || token == "" {
		return "", "", errors.New("missing email or token in XOAUTH2")
	}

	return email, token, nil
}

// parseOAuthBearer parses the OAUTHBEARER authentication string
// (RFC 7628).
// Format: n,a=<authzid>,\x01host=<host>\x01port=<port>\x01auth=Bearer <token>\x01\x01
func parseOAuthBearer(s string) (email, token string, err error) {
	// First line contains GS2 header with authzid
	lines := strings.SplitN(s, "\x01", 2)
	if len(lines) < 2 {
		return "", "", errors.New("invalid OAUTHBEARER format")
	}

	// Parse GS2 header: n,a=<authzid>,
	gs2Parts := strings.Split(lines[0], ",")
	for _, part := range gs2Parts {
		if strings.HasPrefix(part, "a=") {
			email = strings.TrimPrefix(part, "a=")
		}
	}

	// Parse key-value pairs
	kvParts := strings.Split(lines[1], "\x01")
	for _, part := range kvParts {
		if strings.HasPrefix(part, "auth=Bearer ") {
			token = strings.TrimPrefix(part, "auth=Bearer ")
		}
	}

	if email == "" || token == "" {
		return "", "", errors.New("missing email or token in OAUTHBEARER")
	}

	return email, token, nil
}

// BuildXOAuth2 generates a base64 XOAUTH2 authentication string.
// Useful for clients and tests.
func BuildXOAuth2(email, token string) string {
	s := fmt.Sprintf("user=%s\x01auth=Bearer %s\x01\x01", email, token)
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// BuildOAuthBearer generates a base64 OAUTHBEARER authentication
// string (RFC 7628).
func BuildOAuthBearer(email, token, host string, port int) string {
	s := fmt.Sprintf("n,a=%s,\x01host=%s\x01port=%d\x01auth=Bearer %s\x01\x01", email, host, port, token)
	return base64.StdEncoding.EncodeToString([]byte(s))
}

package auth

import "strings"

// MaskEmail redacts an email address for logging. The local part is
// reduced to its first and last character; short local parts are
// hidden entirely. Values that are not email addresses become "***".
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}

	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return "**" + domain
	}
	return local[:1] + "***" + local[len(local)-1:] + domain
}

package auth

import (
	"encoding/base64"
	"testing"
)

func TestParsePlain(t *testing.T) {
	authz, authc, password, err := parsePlain([]byte("admin@example.com\x00alice@example.com\x00hunter2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if authz != "admin@example.com" || authc != "alice@example.com" || password != "hunter2" {
		t.Errorf("got (%q, %q, %q)", authz, authc, password)
	}
}

func TestParsePlain_Malformed(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("alice@example.com"),
		[]byte("a\x00b"),
		[]byte("a\x00b\x00c\x00d"),
	}
	for _, payload := range cases {
		if _, _, _, err := parsePlain(payload); err == nil {
			t.Errorf("parsePlain(%q) should fail", payload)
		}
	}
}

func TestParsePlain_PasswordMayContainColon(t *testing.T) {
	_, _, password, err := parsePlain([]byte("\x00alice@example.com\x00pa:ss\x01word"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if password != "pa:ss\x01word" {
		t.Errorf("password = %q", password)
	}
}

func TestXOAuth2RoundTrip(t *testing.T) {
	wire := BuildXOAuth2("alice@example.com", "ya29.a0AfH6SMB")

	decoded, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		t.Fatalf("built string is not base64: %v", err)
	}

	email, token, err := parseXOAuth2(string(decoded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "alice@example.com" || token != "ya29.a0AfH6SMB" {
		t.Errorf("got (%q, %q)", email, token)
	}
}

func TestParseXOAuth2_Malformed(t *testing.T) {
	cases := []string{
		"",
		"user=alice@example.com",
		"user=alice@example.com\x01auth=Basic dXNlcg==\x01\x01",
		"auth=Bearer tok\x01\x01",
	}
	for _, s := range cases {
		if _, _, err := parseXOAuth2(s); err == nil {
			t.Errorf("parseXOAuth2(%q) should fail", s)
		}
	}
}

func TestOAuthBearerRoundTrip(t *testing.T) {
	wire := BuildOAuthBearer("alice@example.com", "eyJhbGciOi", "mail.example.com", 587)

	decoded, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		t.Fatalf("built string is not base64: %v", err)
	}

	email, token, err := parseOAuthBearer(string(decoded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if email != "alice@example.com" || token != "eyJhbGciOi" {
		t.Errorf("got (%q, %q)", email, token)
	}
}

func TestParseOAuthBearer_Malformed(t *testing.T) {
	cases := []string{
		"",
		"n,,",
		"n,a=alice@example.com,",
		"n,a=alice@example.com,\x01host=h\x01port=587\x01\x01",
	}
	for _, s := range cases {
		if _, _, err := parseOAuthBearer(s); err == nil {
			t.Errorf("parseOAuthBearer(%q) should fail", s)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "a***e@example.com"},
		{"bob@example.com", "b***b@example.com"},
		{"ab@example.com", "**@example.com"},
		{"a@example.com", "**@example.com"},
		{"not-an-email", "***"},
		{"@example.com", "***"},
		{"", "***"},
	}
	for _, tt := range tests {
		if got := MaskEmail(tt.in); got != tt.want {
			t.Errorf("MaskEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

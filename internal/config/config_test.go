package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Auth.MaxFailuresPerEmail != 5 || cfg.Auth.MaxFailuresPerIP != 15 {
		t.Errorf("unexpected failure limits: %d/%d", cfg.Auth.MaxFailuresPerEmail, cfg.Auth.MaxFailuresPerIP)
	}
	if cfg.Auth.LockoutWindow != 15*time.Minute {
		t.Errorf("lockout window = %v", cfg.Auth.LockoutWindow)
	}
	if cfg.OAuth2.TokenCacheTTL != 5*time.Minute {
		t.Errorf("token cache ttl = %v", cfg.OAuth2.TokenCacheTTL)
	}
	if len(cfg.ARC.Headers) == 0 || cfg.ARC.HeaderCanonicalization != "relaxed" {
		t.Error("ARC defaults missing")
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Addr != ":587" {
		t.Errorf("smtp addr = %s", cfg.SMTP.Addr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
smtp:
  addr: ":2525"
  hostname: mx1.mailforge.io
  domain: mailforge.io
auth:
  max_failures_per_email: 3
oauth2:
  enabled: false
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SMTP.Addr != ":2525" || cfg.SMTP.Hostname != "mx1.mailforge.io" {
		t.Errorf("smtp overrides not applied: %+v", cfg.SMTP)
	}
	if cfg.Auth.MaxFailuresPerEmail != 3 {
		t.Errorf("auth override not applied: %d", cfg.Auth.MaxFailuresPerEmail)
	}
	if cfg.OAuth2.Enabled {
		t.Error("oauth2 disable not applied")
	}
	// Untouched keys keep their defaults.
	if cfg.Auth.MaxFailuresPerIP != 15 {
		t.Errorf("default lost on partial override: %d", cfg.Auth.MaxFailuresPerIP)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

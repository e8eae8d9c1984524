// Package config loads the SMTP edge configuration from a YAML file
// with environment-variable overrides applied by the caller.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the SMTP edge service.
type Config struct {
	SMTP     SMTPConfig   `yaml:"smtp"`
	Ops      OpsConfig    `yaml:"ops"`
	Database DBConfig     `yaml:"database"`
	Redis    RedisConfig  `yaml:"redis"`
	Auth     AuthConfig   `yaml:"auth"`
	OAuth2   OAuth2Config `yaml:"oauth2"`
	ARC      ARCConfig    `yaml:"arc"`
}

// SMTPConfig configures the submission listener.
type SMTPConfig struct {
	Addr     string `yaml:"addr"`
	Hostname string `yaml:"hostname"`
	Domain   string `yaml:"domain"`
	TLSCert  string `yaml:"tls_cert"`
	TLSKey   string `yaml:"tls_key"`
}

// OpsConfig configures the health/metrics HTTP listener.
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// DBConfig configures the user directory database.
type DBConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig configures the shared Redis instance used for rate-limit
// counters and the OAuth2 validation cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds the anti-abuse limits for SMTP authentication.
// These values are the single source of truth for lockout behavior;
// the directory repository receives them from here.
type AuthConfig struct {
	MaxFailuresPerEmail int           `yaml:"max_failures_per_email"`
	MaxFailuresPerIP    int           `yaml:"max_failures_per_ip"`
	LockoutWindow       time.Duration `yaml:"lockout_window"`
}

// OAuth2Config holds OAuth2 bearer-token validation configuration.
type OAuth2Config struct {
	Enabled           bool          `yaml:"enabled"`
	GoogleClientIDs   []string      `yaml:"google_client_ids"`
	InternalJWTSecret string        `yaml:"internal_jwt_secret"`
	InternalIssuer    string        `yaml:"internal_issuer"`
	TokenCacheTTL     time.Duration `yaml:"token_cache_ttl"`
}

// ARCConfig holds ARC signing and verification configuration.
type ARCConfig struct {
	Headers                []string `yaml:"headers"`
	HeaderCanonicalization string   `yaml:"header_canonicalization"`
	BodyCanonicalization   string   `yaml:"body_canonicalization"`
	VerifyKeys             bool     `yaml:"verify_keys"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		SMTP: SMTPConfig{
			Addr:     ":587",
			Hostname: "mail.localhost",
		},
		Ops: OpsConfig{
			Addr: ":9090",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			MaxFailuresPerEmail: 5,
			MaxFailuresPerIP:    15,
			LockoutWindow:       15 * time.Minute,
		},
		OAuth2: OAuth2Config{
			Enabled:        true,
			InternalIssuer: "mailforge",
			TokenCacheTTL:  5 * time.Minute,
		},
		ARC: ARCConfig{
			Headers: []string{
				"from", "to", "cc", "subject", "date",
				"message-id", "reply-to", "references",
				"in-reply-to", "content-type", "mime-version",
				"dkim-signature",
			},
			HeaderCanonicalization: "relaxed",
			BodyCanonicalization:   "relaxed",
		},
	}
}

// Load reads the YAML file at path on top of the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

package directory

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open creates the PostgreSQL connection pool for the directory.
func Open(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	// Connection pool configuration
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Verify connectivity
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("postgres connection pool created")

	return pool, nil
}

// Store is the pgx-backed Repository and KeyProvider.
type Store struct {
	db *pgxpool.Pool

	// Lockout policy, injected from config so the SQL threshold and
	// the Redis-side limits cannot drift apart.
	lockThreshold int
	lockDuration  time.Duration
}

// NewStore creates a Store with the given lockout policy.
func NewStore(db *pgxpool.Pool, lockThreshold int, lockDuration time.Duration) *Store {
	return &Store{
		db:            db,
		lockThreshold: lockThreshold,
		lockDuration:  lockDuration,
	}
}

// GetUserByEmail resolves a verified email address to its user.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var (
		u           User
		lockedUntil *time.Time
		pwHash      *string
	)
	err := s.db.QueryRow(ctx,
		`SELECT u.id, u.organization_id, u.domain_id, ea.address, u.display_name,
		        u.status, u.password_hash, u.locked_until
		   FROM email_addresses ea
		   JOIN users u ON u.id = ea.user_id
		  WHERE ea.address = $1 AND ea.verified`, email).
		Scan(&u.ID, &u.OrganizationID, &u.DomainID, &u.Email, &u.DisplayName,
			&u.Status, &pwHash, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	if pwHash != nil {
		u.PasswordHash = *pwHash
	}
	if lockedUntil != nil {
		u.LockedUntil = *lockedUntil
	}
	return &u, nil
}

// UpdateLoginFailure increments failed_login_attempts and locks the
// account once the configured threshold is reached.
func (s *Store) UpdateLoginFailure(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users
		    SET failed_login_attempts = failed_login_attempts + 1,
		        locked_until = CASE
		            WHEN failed_login_attempts + 1 >= $2 THEN now() + $3
		            ELSE locked_until
		        END
		  WHERE id = $1`, userID, s.lockThreshold, s.lockDuration)
	if err != nil {
		return fmt.Errorf("update login failure: %w", err)
	}
	return nil
}

// UpdateLoginSuccess zeroes the failure counter, clears any lock and
// records the last login.
func (s *Store) UpdateLoginSuccess(ctx context.Context, userID string, ip string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE users
		    SET failed_login_attempts = 0,
		        locked_until = NULL,
		        last_login_at = now(),
		        last_login_ip = $2
		  WHERE id = $1`, userID, ip)
	if err != nil {
		return fmt.Errorf("update login success: %w", err)
	}
	return nil
}

// RecordLoginAttempt appends an audit row.
func (s *Store) RecordLoginAttempt(ctx context.Context, attempt LoginAttempt) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO login_attempts (id, user_id, email, client_ip, success, fail_reason, method, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, now())`,
		uuid.NewString(), attempt.UserID, attempt.Email, attempt.ClientIP,
		attempt.Success, attempt.FailReason, attempt.Method)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// GetActiveDKIMKey returns the active signing key for a domain, with
// the PEM private key parsed and ready for signing.
func (s *Store) GetActiveDKIMKey(ctx context.Context, domain string) (*DKIMKey, error) {
	var (
		key    DKIMKey
		keyPEM string
	)
	err := s.db.QueryRow(ctx,
		`SELECT k.id, k.selector, k.algorithm, k.private_key
		   FROM dkim_keys k
		   JOIN domains d ON d.id = k.domain_id
		  WHERE d.name = $1 AND k.active`, domain).
		Scan(&key.ID, &key.Selector, &key.Algorithm, &keyPEM)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dkim key: %w", err)
	}

	priv, err := ParsePrivateKey([]byte(keyPEM))
	if err != nil {
		return nil, fmt.Errorf("parse dkim key %s: %w", key.ID, err)
	}
	key.PrivateKey = priv
	return &key, nil
}

// ParsePrivateKey decodes a PEM-encoded RSA private key in either
// PKCS#1 or PKCS#8 form.
func ParsePrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

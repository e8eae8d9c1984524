package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mailforge/smtp-edge/internal/arc"
	"github.com/mailforge/smtp-edge/internal/auth"
	"github.com/mailforge/smtp-edge/internal/config"
	"github.com/mailforge/smtp-edge/internal/directory"
	"github.com/mailforge/smtp-edge/internal/oauth2"
	"github.com/mailforge/smtp-edge/internal/ops"
	"github.com/mailforge/smtp-edge/internal/smtpd"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "smtp-edge").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()

	cfg, err := config.Load(env("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Environment overrides for the secrets that never belong in a file
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SMTP_ADDR"); v != "" {
		cfg.SMTP.Addr = v
	}
	if v := os.Getenv("INTERNAL_JWT_SECRET"); v != "" {
		cfg.OAuth2.InternalJWTSecret = v
	}

	if cfg.Database.URL == "" {
		log.Fatal().Msg("database url is required")
	}

	// User directory
	pool, err := directory.Open(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	store := directory.NewStore(pool, cfg.Auth.MaxFailuresPerEmail, cfg.Auth.LockoutWindow)

	// Shared Redis for rate limiting and the token cache
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	limiter := auth.NewRateLimiter(rdb, auth.RateLimitConfig{
		MaxFailuresPerEmail: cfg.Auth.MaxFailuresPerEmail,
		MaxFailuresPerIP:    cfg.Auth.MaxFailuresPerIP,
		Window:              cfg.Auth.LockoutWindow,
	})

	var validator auth.TokenValidator
	if cfg.OAuth2.Enabled {
		validator = oauth2.NewValidator(oauth2.Config{
			GoogleClientIDs:   cfg.OAuth2.GoogleClientIDs,
			InternalJWTSecret: cfg.OAuth2.InternalJWTSecret,
			InternalIssuer:    cfg.OAuth2.InternalIssuer,
			TokenCacheTTL:     cfg.OAuth2.TokenCacheTTL,
		}, rdb)
	}

	authenticator := auth.New(store, limiter, validator)

	// ARC sealing and verification
	signer := arc.NewSigner(store, cfg.SMTP.Hostname, &arc.SignatureConfig{
		Headers:                cfg.ARC.Headers,
		HeaderCanonicalization: cfg.ARC.HeaderCanonicalization,
		BodyCanonicalization:   cfg.ARC.BodyCanonicalization,
	})
	var verifier *arc.Verifier
	if cfg.ARC.VerifyKeys {
		verifier = arc.NewVerifier(&arc.DNSKeyLookup{Resolver: net.DefaultResolver})
	} else {
		verifier = arc.NewVerifier(nil)
	}

	// SMTP submission listener
	var tlsConfig *tls.Config
	if cfg.SMTP.TLSCert != "" && cfg.SMTP.TLSKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.SMTP.TLSCert, cfg.SMTP.TLSKey)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load TLS keypair")
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	} else {
		log.Warn().Msg("no TLS keypair configured, AUTH will not be offered")
	}

	backend := &smtpd.Backend{
		Auth:          authenticator,
		Signer:        signer,
		Verifier:      verifier,
		SigningDomain: cfg.SMTP.Domain,
		OAuth2Enabled: cfg.OAuth2.Enabled,
	}
	smtpServer := smtpd.NewServer(backend, smtpd.Options{
		Addr:      cfg.SMTP.Addr,
		Domain:    cfg.SMTP.Hostname,
		TLSConfig: tlsConfig,
	})

	go func() {
		log.Info().Str("addr", cfg.SMTP.Addr).Msg("starting SMTP server")
		if err := smtpServer.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
			log.Fatal().Err(err).Msg("SMTP server failed")
		}
	}()

	// Operational HTTP server (health, metrics)
	opsSrv := &ops.Server{DB: pool, Redis: rdb}
	opsServer := &http.Server{
		Addr:         cfg.Ops.Addr,
		Handler:      opsSrv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Ops.Addr).Msg("starting ops server")
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ops server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := smtpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("SMTP server shutdown error")
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server shutdown error")
	}

	log.Info().Msg("server stopped")
}

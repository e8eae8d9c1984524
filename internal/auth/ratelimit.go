package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimitConfig bounds failed authentication attempts per identity
// and per client IP. The IP limit is higher to tolerate NAT.
type RateLimitConfig struct {
	MaxFailuresPerEmail int
	MaxFailuresPerIP    int
	Window              time.Duration
}

// DefaultRateLimitConfig returns the production limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxFailuresPerEmail: 5,
		MaxFailuresPerIP:    15,
		Window:              15 * time.Minute,
	}
}

// RateLimiter tracks authentication failures in Redis so limits hold
// across every edge instance. Counters expire after the lockout
// window and are re-extended on each failure.
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
}

// NewRateLimiter creates a Redis-backed rate limiter.
func NewRateLimiter(redisClient *redis.Client, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{redis: redisClient, config: config}
}

func emailFailKey(email string) string {
	return "smtp:auth:fail:email:" + strings.ToLower(email)
}

func ipFailKey(ip string) string {
	return "smtp:auth:fail:ip:" + ip
}

// Check returns ErrRateLimited when either counter is at its limit.
// A Redis outage must not lock every user out, so infrastructure
// errors skip the check with a warning.
func (rl *RateLimiter) Check(ctx context.Context, email, ip string) error {
	if rl == nil || rl.redis == nil {
		return nil
	}

	emailCount, err := rl.redis.Get(ctx, emailFailKey(email)).Int()
	if err != nil && err != redis.Nil {
		log.Warn().Err(err).Msg("rate limit check skipped, redis unavailable")
		return nil
	}
	if emailCount >= rl.config.MaxFailuresPerEmail {
		return ErrRateLimited
	}

	ipCount, err := rl.redis.Get(ctx, ipFailKey(ip)).Int()
	if err != nil && err != redis.Nil {
		log.Warn().Err(err).Msg("rate limit check skipped, redis unavailable")
		return nil
	}
	if ipCount >= rl.config.MaxFailuresPerIP {
		return ErrRateLimited
	}

	return nil
}

// RecordFailure increments both counters and re-extends their TTL to
// the full lockout window.
func (rl *RateLimiter) RecordFailure(ctx context.Context, email, ip string) {
	if rl == nil || rl.redis == nil {
		return
	}

	pipe := rl.redis.Pipeline()
	pipe.Incr(ctx, emailFailKey(email))
	pipe.Expire(ctx, emailFailKey(email), rl.config.Window)
	pipe.Incr(ctx, ipFailKey(ip))
	pipe.Expire(ctx, ipFailKey(ip), rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to record auth failure counters")
	}
}

// Clear deletes both counters after a successful authentication.
func (rl *RateLimiter) Clear(ctx context.Context, email, ip string) {
	if rl == nil || rl.redis == nil {
		return
	}

	if err := rl.redis.Del(ctx, emailFailKey(email), ipFailKey(ip)).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to clear auth failure counters")
	}
}

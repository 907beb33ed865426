package stepauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitConfig defines a public type used by stepauth APIs.
// RateLimitConfig instances are intended to be configured during initialization and then
// treated as immutable unless documented otherwise.
type RateLimitConfig struct {
	// MaxAttempts is the number of login attempts allowed per identifier
	// and per IP inside one window.
	MaxAttempts int

	// Window is the fixed counting window.
	Window time.Duration

	KeyPrefix string
}

// DefaultRateLimitConfig describes the defaultratelimitconfig operation and its observable behavior.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttempts: 10,
		Window:      time.Minute,
		KeyPrefix:   "rl",
	}
}

// RedisPolicyEngine is a fixed-window login rate limiter backed by the same
// Redis the engine uses. It satisfies [PolicyEngine]; plug it in through
// [Builder.WithPolicyEngine].
type RedisPolicyEngine struct {
	rdb redis.UniversalClient
	cfg RateLimitConfig
}

// NewRedisPolicyEngine describes the newredispolicyengine operation and its observable behavior.
func NewRedisPolicyEngine(rdb redis.UniversalClient, cfg RateLimitConfig) *RedisPolicyEngine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRateLimitConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitConfig().Window
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRateLimitConfig().KeyPrefix
	}
	return &RedisPolicyEngine{rdb: rdb, cfg: cfg}
}

// CheckLogin describes the checklogin operation and its observable behavior.
//
// CheckLogin may return an error when input validation, dependency calls, or security checks fail.
// Both the identifier and the client IP are counted; either exceeding the
// limit denies the attempt. Identifiers are hashed before keying so raw
// addresses never appear in Redis.
func (p *RedisPolicyEngine) CheckLogin(ctx context.Context, email, ip string) (PolicyDecision, error) {
	keys := []string{p.key("e", strings.ToLower(email))}
	if ip != "" {
		keys = append(keys, p.key("ip", ip))
	}

	for _, key := range keys {
		count, err := p.rdb.Incr(ctx, key).Result()
		if err != nil {
			return PolicyDecision{}, fmt.Errorf("rate limit check: %w", err)
		}
		if count == 1 {
			if err := p.rdb.Expire(ctx, key, p.cfg.Window).Err(); err != nil {
				return PolicyDecision{}, fmt.Errorf("rate limit window: %w", err)
			}
		}
		if count > int64(p.cfg.MaxAttempts) {
			retryAfter, _ := p.rdb.TTL(ctx, key).Result()
			if retryAfter < 0 {
				retryAfter = p.cfg.Window
			}
			return PolicyDecision{
				Allow:      false,
				Reason:     "rate_limit",
				RetryAfter: retryAfter,
			}, nil
		}
	}
	return PolicyDecision{Allow: true}, nil
}

func (p *RedisPolicyEngine) key(kind, value string) string {
	sum := sha256.Sum256([]byte(value))
	return p.cfg.KeyPrefix + ":" + kind + ":" + hex.EncodeToString(sum[:8])
}

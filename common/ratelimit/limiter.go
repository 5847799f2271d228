// Package ratelimit throttles run scheduling with Redis-backed
// fixed-window counters. Counters are keyed per wallet and per
// workflow tier so light and heavy workloads draw from separate
// quotas.
package ratelimit

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/redis/go-redis/v9"
)

//go:embed rate_limit.lua
var rateLimitScript string

// Logger is the narrow logging interface the limiter uses.
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result reports the outcome of a limit check.
type Result struct {
	Allowed           bool
	CurrentCount      int64
	Limit             int64
	RetryAfterSeconds int64
}

// Limiter checks fixed-window limits atomically via a Lua script.
type Limiter struct {
	redis  *redis.Client
	script *redis.Script
	limits Limits
	logger Logger
}

// New creates a limiter.
func New(client *redis.Client, limits Limits, logger Logger) *Limiter {
	return &Limiter{
		redis:  client,
		script: redis.NewScript(rateLimitScript),
		limits: limits,
		logger: logger,
	}
}

// CheckGlobal checks the service-wide schedule quota.
func (l *Limiter) CheckGlobal(ctx context.Context) (*Result, error) {
	return l.check(ctx, "rate_limit:global", l.limits.Global, 60)
}

// CheckWallet checks a wallet's quota for the given workflow tier.
func (l *Limiter) CheckWallet(ctx context.Context, wallet string, tier Tier) (*Result, error) {
	key := fmt.Sprintf("rate_limit:wallet:%s:tier:%s", wallet, tier)
	return l.check(ctx, key, l.limits.ForTier(tier), 60)
}

func (l *Limiter) check(ctx context.Context, key string, limit int64, windowSec int) (*Result, error) {
	raw, err := l.script.Run(ctx, l.redis, []string{key}, limit, windowSec).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check %s: %w", key, err)
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return nil, fmt.Errorf("rate limit check %s: unexpected script result", key)
	}

	result := &Result{
		Allowed:           values[0].(int64) == 1,
		CurrentCount:      values[1].(int64),
		Limit:             values[2].(int64),
		RetryAfterSeconds: values[3].(int64),
	}
	if !result.Allowed {
		l.logger.Warn("rate limit exceeded",
			"key", key,
			"current", result.CurrentCount,
			"limit", result.Limit,
			"retry_after", result.RetryAfterSeconds)
	} else {
		l.logger.Debug("rate limit check passed", "key", key, "current", result.CurrentCount)
	}
	return result, nil
}

// Reset clears a counter. Used by tests and admin tooling.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, key).Err()
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/launchblocks/creditgate/internal/config"
)

const keyConfirmUser = "confirm:user:%d"

// ConfirmLimiter throttles /credit/confirm per user. Confirmation calls
// fan out into chain RPC requests, so an unthrottled retry loop on the
// caller side turns into an RPC storm.
type ConfirmLimiter struct {
	enabled bool

	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewConfirmLimiter(cfg config.Config) (*ConfirmLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ConfirmRate <= 0 || limitCfg.ConfirmBurst <= 0 {
		return nil, errors.New("confirm rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
	})

	return &ConfirmLimiter{
		enabled: true,
		bucket:  NewTokenBucket(client),
		rate:    limitCfg.ConfirmRate,
		burst:   limitCfg.ConfirmBurst,
	}, nil
}

func (l *ConfirmLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowUser reports whether the user may run another confirmation now.
// Redis outages fail open so that payment confirmation keeps working.
func (l *ConfirmLimiter) AllowUser(ctx context.Context, userID int64) (bool, time.Duration, error) {
	if !l.Enabled() {
		return true, 0, nil
	}
	res, err := l.bucket.Allow(ctx, fmt.Sprintf(keyConfirmUser, userID), l.rate, l.burst)
	if err != nil {
		return true, 0, err
	}
	return res.Allowed, res.RetryAfter, nil
}

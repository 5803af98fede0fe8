package ratelimit

import (
	"context"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyRequests = "memberhub:ratelimit:%s:%s"

// RequestLimiter bounds requests per scope and client. A nil or disabled
// limiter allows everything.
type RequestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewRequestLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *RequestLimiter {
	log = log.Named("ratelimit")
	if !cfg.RateLimit.Enabled {
		return nil
	}
	if cfg.RedisAddr == "" {
		log.Warn("ratelimit.disabled_without_redis")
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewRequestLimiterWithClient(client, cfg.RateLimit, log)
}

func NewRequestLimiterWithClient(client *redis.Client, cfg config.RateLimitConfig, log *zap.Logger) *RequestLimiter {
	return &RequestLimiter{
		bucket: NewTokenBucket(client),
		rate:   cfg.Rate,
		burst:  cfg.Burst,
		log:    log,
	}
}

func (l *RequestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow fails open when Redis is unreachable.
func (l *RequestLimiter) Allow(ctx context.Context, scope, client string) *Result {
	if !l.Enabled() {
		return &Result{Allowed: true}
	}
	key := fmt.Sprintf(keyRequests, scope, strings.TrimSpace(client))
	res, err := l.bucket.Allow(ctx, key, l.rate, l.burst)
	if err != nil {
		l.log.Warn("ratelimit.check_failed", zap.String("scope", scope), zap.Error(err))
		return &Result{Allowed: true}
	}
	return res
}

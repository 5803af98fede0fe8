package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/memberhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newLimiter(t *testing.T, burst int) (*RequestLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRequestLimiterWithClient(client, config.RateLimitConfig{Enabled: true, Rate: 0.001, Burst: burst}, zaptest.NewLogger(t)), mr
}

func TestRequestLimiterExhaustsBurst(t *testing.T) {
	limiter, mr := newLimiter(t, 2)
	ctx := context.Background()

	assert.True(t, limiter.Allow(ctx, "webhooks", "10.0.0.1").Allowed)
	assert.True(t, limiter.Allow(ctx, "webhooks", "10.0.0.1").Allowed)

	denied := limiter.Allow(ctx, "webhooks", "10.0.0.1")
	assert.False(t, denied.Allowed)
	assert.Equal(t, 2, denied.Limit)
	assert.Positive(t, denied.RetryAfter)
	assert.True(t, mr.Exists("memberhub:ratelimit:webhooks:10.0.0.1"))

	assert.True(t, limiter.Allow(ctx, "webhooks", "10.0.0.2").Allowed)
	assert.True(t, limiter.Allow(ctx, "api", "10.0.0.1").Allowed)
}

func TestRequestLimiterFailsOpen(t *testing.T) {
	limiter, mr := newLimiter(t, 1)
	mr.Close()

	assert.True(t, limiter.Allow(context.Background(), "api", "10.0.0.1").Allowed)
}

func TestNilRequestLimiterAllows(t *testing.T) {
	var limiter *RequestLimiter
	require.False(t, limiter.Enabled())
	assert.True(t, limiter.Allow(context.Background(), "api", "x").Allowed)
}

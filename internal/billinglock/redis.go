package billinglock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockRefreshScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

type RedisLockerConfig struct {
	Prefix       string
	TTL          time.Duration
	PollInterval time.Duration
}

// RedisLocker shares lock keys between service instances. Waiters poll with
// SET NX, so they are not served in arrival order; only LocalLocker is FIFO.
type RedisLocker struct {
	client  *redis.Client
	release *redis.Script
	refresh *redis.Script
	cfg     RedisLockerConfig
	log     *zap.Logger
}

func NewRedisLocker(client *redis.Client, cfg RedisLockerConfig, log *zap.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "memberhub:lock:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:  client,
		release: redis.NewScript(lockReleaseScript),
		refresh: redis.NewScript(lockRefreshScript),
		cfg:     cfg,
		log:     log.Named("billinglock.redis"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	if key == "" {
		return nil, ErrEmptyKey
	}

	redisKey := l.cfg.Prefix + key
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	released := false
	return func() {
		if released {
			return
		}
		released = true
		close(stop)
		<-done

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.release.Run(releaseCtx, l.client, []string{redisKey}, token).Err(); err != nil {
			l.log.Warn("lock.release_failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.cfg.TTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.cfg.TTL/3)
			err := l.refresh.Run(ctx, l.client, []string{redisKey}, token, l.cfg.TTL.Milliseconds()).Err()
			cancel()
			if err != nil {
				l.log.Warn("lock.refresh_failed", zap.String("key", redisKey), zap.Error(err))
			}
		}
	}
}

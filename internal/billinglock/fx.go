package billinglock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/memberhub/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("billinglock",
	fx.Provide(NewLocker),
	fx.Provide(NewLocks),
)

// NewLocker picks Redis when REDIS_ADDR is configured, otherwise in-process queues.
func NewLocker(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Locker {
	if cfg.RedisAddr == "" {
		log.Info("billing locks are process-local")
		return NewLocalLocker()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("billing locks use redis", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client, RedisLockerConfig{}, log)
}

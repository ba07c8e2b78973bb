package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/tcc-account/internal/config"
	"github.com/sirupsen/logrus"
)

// InitRedis returns a connected client, or nil when Redis is unreachable. Without Redis
// the sweeper falls back to its in-process guard.
func InitRedis(ctx context.Context, cfg config.RedisConfig, logger *logrus.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Warn("redis connection failed, continuing without redis")
		rdb.Close()
		return nil
	}

	logger.WithField("addr", cfg.Addr()).Info("redis connection established")
	return rdb
}

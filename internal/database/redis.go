package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InitRedis initializes Redis client with config. Job locks, the job queue
// and notifications all depend on it, so a failed ping is fatal.
func InitRedis(ctx context.Context, logger *zap.Logger) *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.String("addr", addr), zap.Error(err))
	}

	logger.Info("redis connection established", zap.String("addr", addr))
	return rdb
}

package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/doubt-service/internal/config"
)

const redisPingTimeout = 3 * time.Second

// Redis holds the optional client used to relay workflow events.
type Redis struct {
	Client *redis.Client
}

// NewRedis builds a client when an address is configured. An unreachable
// server is logged but not fatal; readiness reports it.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) *Redis {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not provided; event relay disabled")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	r := &Redis{Client: client}
	if err := r.Ping(ctx); err != nil {
		logger.Warn("redis unreachable", zap.String("addr", cfg.Addr), zap.Error(err))
	} else {
		logger.Info("connected to redis", zap.String("addr", cfg.Addr), zap.Int("db", cfg.DB))
	}
	return r
}

// Enabled reports whether a client was configured.
func (r *Redis) Enabled() bool {
	return r != nil && r.Client != nil
}

// Close closes the client.
func (r *Redis) Close() {
	if r.Enabled() {
		_ = r.Client.Close()
	}
}

// Ping checks connectivity, bounded by a short timeout.
func (r *Redis) Ping(ctx context.Context) error {
	if !r.Enabled() {
		return errNotConfigured("redis")
	}
	ctx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	return r.Client.Ping(ctx).Err()
}

func errNotConfigured(name string) error {
	return fmt.Errorf("%s client not configured", name)
}

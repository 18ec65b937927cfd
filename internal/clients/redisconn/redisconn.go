package redisconn

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/molehq/molesearch-backend/internal/config"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

// New builds a redis client and verifies connectivity with one ping.
// The returned client is a process-wide singleton owned by the caller.
func New(ctx context.Context, log *logger.Logger, cfg config.TaskStoreConfig) (*redis.Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	log.Info("redis connected", "addr", cfg.Addr(), "db", cfg.DB)
	return client, nil
}

package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/molehq/molesearch-backend/internal/platform/ctxutil"
	"github.com/molehq/molesearch-backend/internal/platform/logger"
)

type redisStore struct {
	log    *logger.Logger
	client *redis.Client
}

// NewRedisStore wraps an already constructed redis client in the Store
// contract. The caller owns connectivity checks (Ping) and shutdown.
func NewRedisStore(log *logger.Logger, client *redis.Client) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &redisStore{
		log:    log.With("service", "RedisTaskStore"),
		client: client,
	}, nil
}

func (s *redisStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctxutil.Default(ctx), key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctxutil.Default(ctx), key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctxutil.Default(ctx), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return raw, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctxutil.Default(ctx), key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) SetAdd(ctx context.Context, setKey, member string) error {
	if err := s.client.SAdd(ctxutil.Default(ctx), setKey, member).Err(); err != nil {
		return fmt.Errorf("redis sadd %s: %w", setKey, err)
	}
	return nil
}

func (s *redisStore) SetRemove(ctx context.Context, setKey, member string) error {
	if err := s.client.SRem(ctxutil.Default(ctx), setKey, member).Err(); err != nil {
		return fmt.Errorf("redis srem %s: %w", setKey, err)
	}
	return nil
}

func (s *redisStore) SetMembers(ctx context.Context, setKey string) ([]string, error) {
	members, err := s.client.SMembers(ctxutil.Default(ctx), setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers %s: %w", setKey, err)
	}
	return members, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctxutil.Default(ctx)).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (s *redisStore) Close() error {
	s.log.Info("redis connections released")
	return s.client.Close()
}

package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/genx/internal/auth"
	"github.com/desertthunder/genx/internal/shared"
	"github.com/redis/go-redis/v9"
)

var _ auth.Store = (*RedisSessionStore)(nil)

// RedisSessionStore keeps session values in a redis hash per profile so several
// processes on different machines can share one login.
type RedisSessionStore struct {
	client  *redis.Client
	profile string
	ttl     time.Duration
}

// NewRedisSessionStore connects to redis and verifies the connection with PING.
func NewRedisSessionStore(ctx context.Context, cfg shared.SessionConfig) (*RedisSessionStore, error) {
	if cfg.RedisAddress == "" {
		return nil, fmt.Errorf("%w: session.redis_address is required", shared.ErrMissingConfig)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddress, err)
	}

	return NewRedisSessionStoreWithClient(client, cfg.Profile), nil
}

// NewRedisSessionStoreWithClient wraps an existing client.
func NewRedisSessionStoreWithClient(client *redis.Client, profile string) *RedisSessionStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisSessionStore{client: client, profile: profile, ttl: 30 * 24 * time.Hour}
}

func (s *RedisSessionStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.HGet(ctx, s.hashKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read session %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisSessionStore) Set(ctx context.Context, key, value string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.hashKey(), key, value)
	pipe.Expire(ctx, s.hashKey(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write session %s: %w", key, err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(), key).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisSessionStore) Close() error { return s.client.Close() }

func (s *RedisSessionStore) hashKey() string { return fmt.Sprintf("genx:session:%s", s.profile) }

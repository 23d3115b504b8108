// Package redis provides a Redis key-value store backend.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/leopold-dedup/internal/store"
)

// Config holds configuration for the Redis key-value store.
type Config struct {
	Addr        string
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
}

// KVStore implements store.KVStore using Redis. Records live forever (no
// TTL): the reference counter, not expiry, governs chunk lifetime.
type KVStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewKVStore creates a new Redis key-value store and verifies the
// connection.
func NewKVStore(ctx context.Context, cfg Config, logger zerolog.Logger) (*KVStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis")

	return &KVStore{client: client, logger: logger}, nil
}

// Close closes the Redis connection.
func (s *KVStore) Close() error {
	s.logger.Info().Msg("closing Redis connection")
	return s.client.Close()
}

// Health checks the Redis connection health.
func (s *KVStore) Health(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func redisKey(namespace, key string) string {
	return namespace + ":" + key
}

// Put stores value under the key, overwriting any previous value.
func (s *KVStore) Put(ctx context.Context, namespace, key string, value []byte) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	if err := s.client.Set(ctx, redisKey(namespace, key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Get returns the value stored under the key.
func (s *KVStore) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if namespace == "" {
		return nil, store.ErrInvalidNamespace
	}

	value, err := s.client.Get(ctx, redisKey(namespace, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Delete removes the key.
func (s *KVStore) Delete(ctx context.Context, namespace, key string) error {
	if namespace == "" {
		return store.ErrInvalidNamespace
	}

	deleted, err := s.client.Del(ctx, redisKey(namespace, key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if deleted == 0 {
		return store.ErrKeyNotFound
	}
	return nil
}

// List returns all keys in the namespace starting with prefix. Glob
// metacharacters in prefix are escaped so that it matches literally.
func (s *KVStore) List(ctx context.Context, namespace, prefix string) ([]string, error) {
	if namespace == "" {
		return nil, store.ErrInvalidNamespace
	}

	escaped := make([]byte, 0, len(prefix))
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '*', '?', '[', ']', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, prefix[i])
	}
	match := redisKey(namespace, string(escaped)) + "*"
	cut := len(namespace) + 1

	var keys []string
	iter := s.client.Scan(ctx, 0, match, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[cut:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// Ensure KVStore implements store.KVStore
var _ store.KVStore = (*KVStore)(nil)

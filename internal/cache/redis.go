package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements BlobStore on Redis so several replicas can share
// the byte tier. Keys are hashed like the disk tier, then prefixed.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisConfig struct {
	Prefix string
	// TTL of each blob; zero keeps blobs until Redis evicts them.
	TTL time.Duration
}

// NewRedisStore creates a Redis-backed byte tier.
func NewRedisStore(client *redis.Client, config RedisConfig) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: config.Prefix,
		ttl:    config.TTL,
	}
}

// key builds the final Redis key with prefix.
func (c *RedisStore) key(k string) string {
	id := HashKey(k)
	if c.prefix == "" {
		return id
	}
	return c.prefix + ":" + id
}

// Get retrieves a blob. A missing key is a clean miss.
func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, fmt.Errorf("context error: %w", err)
	}

	res, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &CacheIOError{Op: "redis get", Path: c.key(key), Err: err}
	}
	return res, true, nil
}

// Set stores a blob. Empty blobs are ignored.
func (c *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if len(value) == 0 {
		return nil
	}

	if err := c.client.Set(ctx, c.key(key), value, c.ttl).Err(); err != nil {
		return &CacheIOError{Op: "redis set", Path: c.key(key), Err: err}
	}
	return nil
}

// Delete removes a blob.
func (c *RedisStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return &CacheIOError{Op: "redis del", Path: c.key(key), Err: err}
	}
	return nil
}

// Ping checks if Redis connection is healthy.
func (c *RedisStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context error: %w", err)
	}
	return c.client.Ping(ctx).Err()
}

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreKey(t *testing.T) {
	t.Parallel()

	s := NewRedisStore(nil, RedisConfig{Prefix: "netimage"})
	assert.Equal(t, "netimage:"+HashKey("k"), s.key("k"))

	bare := NewRedisStore(nil, RedisConfig{})
	assert.Equal(t, HashKey("k"), bare.key("k"))
}

// Needs a live server: REDIS_ADDR=127.0.0.1:6379 go test ./internal/cache
func TestRedisStoreRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	s := NewRedisStore(client, RedisConfig{Prefix: "netimage-test", TTL: time.Minute})
	require.NoError(t, s.Ping(ctx))

	key := "https://example.com/" + t.Name()
	t.Cleanup(func() { _ = s.Delete(ctx, key) })

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, []byte("blob")))
	require.NoError(t, s.Set(ctx, RawKey(key), nil), "empty blobs are ignored")

	data, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("blob"), data)
}

func TestNewBlobStorePicksBackend(t *testing.T) {
	t.Parallel()

	disk := NewBlobStore(Config{Backend: BackendDisk, Dir: t.TempDir(), Namespace: "n"}, nil, nil)
	assert.IsType(t, &DiskCache{}, disk)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	assert.IsType(t, &RedisStore{}, NewBlobStore(Config{Backend: BackendRedis}, client, nil))
}

package cache

import (
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendDisk  = "disk"
	BackendRedis = "redis"
)

type Config struct {
	Backend   string
	Dir       string
	Namespace string
	MaxBytes  int64
	Prefix    string
	TTL       time.Duration
}

// NewBlobStore picks the byte tier named by cfg.Backend. Anything other
// than "redis" gets the disk cache.
func NewBlobStore(cfg Config, redisClient *redis.Client, logger *zap.Logger) BlobStore {
	switch cfg.Backend {
	case BackendRedis:
		return NewRedisStore(redisClient, RedisConfig{
			Prefix: cfg.Prefix,
			TTL:    cfg.TTL,
		})
	default:
		return NewDiskCache(cfg.Dir, cfg.Namespace,
			WithMaxBytes(cfg.MaxBytes),
			WithDiskLogger(logger),
		)
	}
}

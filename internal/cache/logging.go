package cache

import (
	"context"
	"time"

	"netimage/internal/metrics"
	"netimage/pkg/logging/logging"

	"go.uber.org/zap"
)

// LoggingStore wraps a BlobStore with logging + metrics.
type LoggingStore struct {
	inner BlobStore
	tier  string
}

// NewLoggingStore returns a store that logs and records metrics under the
// given tier label.
func NewLoggingStore(inner BlobStore, tier string) BlobStore {
	return &LoggingStore{inner: inner, tier: tier}
}

func (c *LoggingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
	}
	metrics.CacheLookupsTotal.WithLabelValues(c.tier, result).Inc()

	fields := []zap.Field{
		zap.String("cache_tier", c.tier),
		zap.String("cache_key", key),
		zap.String("cache_id", HashKey(key)),
		zap.String("cache_result", result), // hit | miss | error
		zap.Int("size_bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("blob_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("blob_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingStore) Set(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.CacheWritesTotal.WithLabelValues(c.tier, result).Inc()

	fields := []zap.Field{
		zap.String("cache_tier", c.tier),
		zap.String("cache_key", key),
		zap.String("cache_id", HashKey(key)),
		zap.Int("size_bytes", len(value)),
		zap.Float64("latency_ms", latencyMs),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("blob_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("blob_cache_set", fields...)
	}

	return err
}

func (c *LoggingStore) Delete(ctx context.Context, key string) error {
	err := c.inner.Delete(ctx, key)

	result := "deleted"
	if err != nil {
		result = "error"
	}
	metrics.CacheWritesTotal.WithLabelValues(c.tier, result).Inc()

	fields := []zap.Field{
		zap.String("cache_tier", c.tier),
		zap.String("cache_key", key),
		zap.String("cache_id", HashKey(key)),
	}

	logger := logging.L(ctx)
	if err != nil {
		logger.Warn("blob_cache_delete", append(fields, zap.Error(err))...)
	} else {
		logger.Debug("blob_cache_delete", fields...)
	}

	return err
}

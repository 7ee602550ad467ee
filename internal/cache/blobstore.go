package cache

import (
	"context"
	"fmt"
)

// BlobStore is the byte tier of the cache, keyed by logical cache key.
// Implemented by the disk cache (default) and Redis (shared across replicas).
//
// Get distinguishes a miss (nil, false, nil) from a failure (nil, false, err).
// Callers treat the byte tier as best-effort and collapse failures to misses.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Delete evicts key. A missing entry is not an error.
	Delete(ctx context.Context, key string) error
}

// CacheIOError reports a failed read, write or directory operation on a
// byte tier.
type CacheIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheIOError) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheIOError) Unwrap() error {
	return e.Err
}

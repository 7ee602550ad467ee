package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"netimage/internal/metrics"
	"netimage/pkg/logging/logging"
)

type stubStore struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func (s *stubStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *stubStore) Set(_ context.Context, key string, value []byte) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func TestLoggingStoreRecordsOutcomes(t *testing.T) {
	ctx := logging.WithLogger(context.Background(), zaptest.NewLogger(t))
	inner := &stubStore{data: map[string][]byte{}}
	store := NewLoggingStore(inner, "test_outcomes")

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte("v")))

	v, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	inner.getErr = &CacheIOError{Op: "read", Path: "p", Err: errors.New("eio")}
	_, _, err = store.Get(ctx, "k")
	assert.Error(t, err)

	inner.setErr = errors.New("full")
	assert.Error(t, store.Set(ctx, "k", []byte("v")))

	require.NoError(t, store.Delete(ctx, "k"))
	_, present := inner.data["k"]
	assert.False(t, present)

	lookups := metrics.CacheLookupsTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(lookups.WithLabelValues("test_outcomes", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lookups.WithLabelValues("test_outcomes", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lookups.WithLabelValues("test_outcomes", "error")))
	writes := metrics.CacheWritesTotal
	assert.Equal(t, 1.0, testutil.ToFloat64(writes.WithLabelValues("test_outcomes", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(writes.WithLabelValues("test_outcomes", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(writes.WithLabelValues("test_outcomes", "deleted")))
}

func TestCacheIOErrorUnwraps(t *testing.T) {
	t.Parallel()

	base := errors.New("disk full")
	err := error(&CacheIOError{Op: "write", Path: "/tmp/x", Err: base})
	assert.ErrorIs(t, err, base)
	assert.Contains(t, err.Error(), "/tmp/x")
}

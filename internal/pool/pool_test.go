package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := New(cfg, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})
	return p
}

// occupy submits a task that holds the pool's only worker until release is
// closed, and waits for it to start.
func occupy(t *testing.T, p *Pool, release <-chan struct{}) {
	t.Helper()
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never started")
	}
}

func TestPoolStartsLazily(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{})
	assert.Equal(t, Stats{}, p.Stats())
}

func TestPoolRunsAllTasks(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 4, QueueSize: 256})

	var (
		wg  sync.WaitGroup
		ran atomic.Int32
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()

	assert.Equal(t, int32(200), ran.Load())
	assert.LessOrEqual(t, p.Stats().Workers, 4)
}

func TestPoolRejectFail(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 1, QueueSize: 1})
	release := make(chan struct{})
	occupy(t, p, release)

	var queuedRan atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func() { queuedRan.Store(true) }))

	err := p.Submit(context.Background(), func() { t.Error("rejected task must not run") })
	assert.ErrorIs(t, err, ErrPoolSaturated)

	close(release)
	require.Eventually(t, queuedRan.Load, 5*time.Second, 5*time.Millisecond)
}

func TestPoolRejectCallerRuns(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 1, QueueSize: 1, Reject: RejectCallerRuns})
	release := make(chan struct{})
	defer close(release)
	occupy(t, p, release)
	require.NoError(t, p.Submit(context.Background(), func() {}))

	ran := false
	require.NoError(t, p.Submit(context.Background(), func() { ran = true }))
	assert.True(t, ran, "task runs on the submitting goroutine")
}

func TestPoolRejectBlockHonorsContext(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 1, QueueSize: 1, Reject: RejectBlock})
	release := make(chan struct{})
	defer close(release)
	occupy(t, p, release)
	require.NoError(t, p.Submit(context.Background(), func() {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolRejectBlockWaitsForRoom(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 1, QueueSize: 1, Reject: RejectBlock})
	release := make(chan struct{})
	occupy(t, p, release)
	require.NoError(t, p.Submit(context.Background(), func() {}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("blocked task never ran")
	}
}

func TestPoolShutdownDrainsQueue(t *testing.T) {
	t.Parallel()

	p := New(Config{MaxWorkers: 2, QueueSize: 64}, zaptest.NewLogger(t))

	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Submit(context.Background(), func() {
			time.Sleep(time.Millisecond)
			ran.Add(1)
		}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))

	assert.Equal(t, int32(50), ran.Load())
	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrPoolClosed)
	assert.NoError(t, p.Shutdown(ctx), "shutdown is idempotent")
}

func TestPoolIdleWorkersRetire(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 2, IdleTimeout: 20 * time.Millisecond})
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))
	<-done

	require.Eventually(t, func() bool {
		return p.Stats().Workers == 0
	}, 5*time.Second, 5*time.Millisecond)

	// A retired pool picks work up again.
	again := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(again) }))
	select {
	case <-again:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran after workers retired")
	}
}

func TestPoolRecoversPanics(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{MaxWorkers: 1})
	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { close(done) }))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker died with the panicking task")
	}
}

func TestPoolRejectsNilTask(t *testing.T) {
	t.Parallel()

	p := newTestPool(t, Config{})
	assert.Error(t, p.Submit(context.Background(), nil))
}

func TestParseRejectPolicy(t *testing.T) {
	t.Parallel()

	tests := map[string]RejectPolicy{
		"":            RejectFail,
		"fail":        RejectFail,
		"Block":       RejectBlock,
		"caller-runs": RejectCallerRuns,
	}
	for in, want := range tests {
		got, err := ParseRejectPolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" {
			assert.Equal(t, want.String(), got.String())
		}
	}

	_, err := ParseRejectPolicy("discard-oldest")
	assert.True(t, err != nil && !errors.Is(err, ErrPoolSaturated))
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := (&Config{}).WithDefaults()
	assert.Positive(t, cfg.MaxWorkers)
	assert.Equal(t, 128, cfg.QueueSize)
	assert.Equal(t, 60*time.Second, cfg.IdleTimeout)
	assert.Equal(t, RejectFail, cfg.Reject)
}

func TestPoolSpawnsForBackToBackSubmits(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		p := newTestPool(t, Config{MaxWorkers: 2, QueueSize: 4})
		release := make(chan struct{})

		var started sync.WaitGroup
		started.Add(2)
		for j := 0; j < 2; j++ {
			require.NoError(t, p.Submit(context.Background(), func() {
				started.Done()
				<-release
			}))
		}

		both := make(chan struct{})
		go func() {
			started.Wait()
			close(both)
		}()
		select {
		case <-both:
		case <-time.After(5 * time.Second):
			t.Fatalf("iteration %d: second task waited behind a busy worker: %+v", i, p.Stats())
		}
		close(release)
	}
}

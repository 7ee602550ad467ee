package decode

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuardLimitsConcurrency(t *testing.T) {
	t.Parallel()

	g := NewGuard(2)
	require.Equal(t, int64(2), g.Limit())

	var (
		wg       sync.WaitGroup
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := g.Do(context.Background(), func() error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestGuardMinimumOne(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1), NewGuard(0).Limit())
	assert.Equal(t, int64(1), NewGuard(-3).Limit())
}

func TestGuardRecoversPanic(t *testing.T) {
	t.Parallel()

	g := NewGuard(1)
	err := g.Do(context.Background(), func() error { panic("corrupt stream") })
	require.ErrorIs(t, err, ErrDecodePanic)
	assert.Contains(t, err.Error(), "corrupt stream")

	// The slot was released.
	assert.NoError(t, g.Do(context.Background(), func() error { return nil }))
}

func TestGuardHonorsContext(t *testing.T) {
	t.Parallel()

	g := NewGuard(1)
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.Do(context.Background(), func() error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, func() error {
		t.Error("must not run without a slot")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

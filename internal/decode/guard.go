package decode

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// ErrDecodePanic wraps a panic raised inside a decoder.
var ErrDecodePanic = errors.New("decode: decoder panicked")

// Guard bounds how many decodes run at once across the whole process,
// independently of how many workers fetch. The default of one serializes
// decoding, trading throughput for a low peak of transient pixel memory.
type Guard struct {
	sem *semaphore.Weighted
	n   int64
}

// NewGuard allows n concurrent decodes; n < 1 is treated as 1.
func NewGuard(n int64) *Guard {
	if n < 1 {
		n = 1
	}
	return &Guard{sem: semaphore.NewWeighted(n), n: n}
}

// Limit returns the number of concurrent decodes allowed.
func (g *Guard) Limit() int64 {
	return g.n
}

// Do runs fn holding one decode slot. A panic in fn is returned as an
// error wrapping ErrDecodePanic.
func (g *Guard) Do(ctx context.Context, fn func() error) (err error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("decode guard: %w", err)
	}
	defer g.sem.Release(1)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: %v", ErrDecodePanic, rec)
		}
	}()
	return fn()
}

package pipeline

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	KindInternal Kind = iota
	KindNetwork
	KindDecode
	KindCacheIO
	KindPoolSaturated
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindDecode:
		return "decode"
	case KindCacheIO:
		return "cache_io"
	case KindPoolSaturated:
		return "pool_saturated"
	default:
		return "internal"
	}
}

// Error is the error delivered to a sink, or returned by Load when the
// request could not be scheduled.
type Error struct {
	Kind Kind
	Key  string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline: %s error for %q: %v", e.Kind, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a pipeline *Error of kind k.
func IsKind(err error, k Kind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == k
}

package pipeline

import (
	"netimage/internal/decode"
	"netimage/internal/fetch"
)

// State is a step of the per-request state machine.
type State int

const (
	StateInit State = iota
	StateMemoryLookup
	StateDiskLookup
	StateNetworkFetch
	StateDecode
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateMemoryLookup:
		return "memory_lookup"
	case StateDiskLookup:
		return "disk_lookup"
	case StateNetworkFetch:
		return "network_fetch"
	case StateDecode:
		return "decode"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Request describes one image to load.
type Request struct {
	// ID correlates log lines; Load assigns a uuid when empty.
	ID string

	// Key identifies the resource, typically its URL. It is also the cache key.
	Key string

	MaxWidth  int // 0 = unconstrained
	MaxHeight int // 0 = unconstrained
	Scale     decode.ScaleType
	Format    decode.PixelFormat

	// Call performs the network fetch. When nil the pipeline's Fetcher
	// builds one from Key.
	Call fetch.Call
}

func (r *Request) constraints(maxPixels int) decode.Constraints {
	return decode.Constraints{
		MaxWidth:  r.MaxWidth,
		MaxHeight: r.MaxHeight,
		Scale:     r.Scale,
		Format:    r.Format,
		MaxPixels: maxPixels,
	}
}

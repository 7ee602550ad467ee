package cache

import (
	"math"
	"runtime/debug"

	"github.com/shirou/gopsutil/v4/mem"
)

// DefaultMemoryFraction is the share of available memory given to the
// in-memory image cache.
const DefaultMemoryFraction = 0.125

// fallbackAvailable is assumed when neither the runtime limit nor the host
// can be queried.
const fallbackAvailable = 512 << 20

// CapacityFromAvailable returns fraction of the memory available to this
// process. The Go runtime soft limit (GOMEMLIMIT) wins when it is set;
// otherwise the host's available memory is used.
func CapacityFromAvailable(fraction float64) int64 {
	if fraction <= 0 || fraction > 1 {
		fraction = DefaultMemoryFraction
	}
	available := availableMemory()
	if available <= 0 {
		available = fallbackAvailable
	}
	return int64(float64(available) * fraction)
}

func availableMemory() int64 {
	// A negative input only reads the current limit.
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit < math.MaxInt64 {
		return limit
	}
	vm, err := mem.VirtualMemory()
	if err != nil || vm.Available > math.MaxInt64 {
		return 0
	}
	return int64(vm.Available)
}

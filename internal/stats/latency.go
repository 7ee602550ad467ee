package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Pipeline stage names recorded by the loader.
const (
	StageMemory  = "memory_lookup"
	StageDisk    = "disk_lookup"
	StageNetwork = "network_fetch"
	StageDecode  = "decode"
	StageTotal   = "total"
)

// DefaultAccuracy is the relative accuracy of quantile estimates (1%).
const DefaultAccuracy = 0.01

// LatencyTracker keeps per-stage latency quantiles in DDSketches.
type LatencyTracker struct {
	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
	accuracy float64
}

// NewLatencyTracker creates a tracker; accuracy <= 0 uses DefaultAccuracy.
func NewLatencyTracker(accuracy float64) *LatencyTracker {
	if accuracy <= 0 {
		accuracy = DefaultAccuracy
	}
	return &LatencyTracker{
		sketches: make(map[string]*ddsketch.DDSketch),
		accuracy: accuracy,
	}
}

// Record adds a duration sample for stage. A nil tracker ignores samples.
func (lt *LatencyTracker) Record(stage string, d time.Duration) {
	if lt == nil {
		return
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[stage]
	if !ok {
		var err error
		sketch, err = ddsketch.LogUnboundedDenseDDSketch(lt.accuracy)
		if err != nil {
			sketch, _ = ddsketch.NewDefaultDDSketch(lt.accuracy)
		}
		lt.sketches[stage] = sketch
	}

	// milliseconds
	_ = sketch.Add(float64(d.Microseconds()) / 1000.0)
}

// RecordFunc runs fn and records how long it took.
func (lt *LatencyTracker) RecordFunc(stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	lt.Record(stage, time.Since(start))
	return err
}

// Stats summarizes one stage, in milliseconds.
type Stats struct {
	Stage string  `json:"stage"`
	Count int64   `json:"count"`
	Min   float64 `json:"min_ms"`
	P50   float64 `json:"p50_ms"`
	P90   float64 `json:"p90_ms"`
	P95   float64 `json:"p95_ms"`
	P99   float64 `json:"p99_ms"`
	Max   float64 `json:"max_ms"`
}

// GetStats returns the summary for stage.
func (lt *LatencyTracker) GetStats(stage string) (Stats, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	sketch, ok := lt.sketches[stage]
	if !ok {
		return Stats{}, fmt.Errorf("no data for stage: %s", stage)
	}
	return summarize(stage, sketch), nil
}

// GetAllStats returns summaries for every recorded stage, sorted by name.
func (lt *LatencyTracker) GetAllStats() []Stats {
	if lt == nil {
		return nil
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()

	out := make([]Stats, 0, len(lt.sketches))
	for stage, sketch := range lt.sketches {
		out = append(out, summarize(stage, sketch))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

func summarize(stage string, sketch *ddsketch.DDSketch) Stats {
	count := sketch.GetCount()
	if count == 0 {
		return Stats{Stage: stage}
	}

	minV, _ := sketch.GetMinValue()
	p50, _ := sketch.GetValueAtQuantile(0.50)
	p90, _ := sketch.GetValueAtQuantile(0.90)
	p95, _ := sketch.GetValueAtQuantile(0.95)
	p99, _ := sketch.GetValueAtQuantile(0.99)
	maxV, _ := sketch.GetMaxValue()

	return Stats{
		Stage: stage,
		Count: int64(count),
		Min:   minV,
		P50:   p50,
		P90:   p90,
		P95:   p95,
		P99:   p99,
		Max:   maxV,
	}
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Stage)
	}
	return fmt.Sprintf("%s (n=%d): min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Stage, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: lookups per cache tier, by outcome (hit | miss | error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netimage_cache_lookups_total",
			Help: "Cache lookups by tier and result.",
		},
		[]string{"tier", "result"},
	)

	// Counter: blob writes per tier, by outcome (ok | error).
	CacheWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netimage_cache_writes_total",
			Help: "Cache writes by tier and result.",
		},
		[]string{"tier", "result"},
	)

	// Gauge: bytes held by the in-memory image cache.
	MemoryCacheBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "netimage_memory_cache_bytes",
			Help: "Bytes accounted to decoded images in the memory cache.",
		},
	)

	// Counter: network fetches by outcome.
	FetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netimage_fetch_total",
			Help: "Network fetches by result.",
		},
		[]string{"result"},
	)

	// Histogram: time spent decoding, including time waiting on the decode guard.
	DecodeSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netimage_decode_seconds",
			Help:    "Decode latency in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"kind"},
	)

	// Counter: terminal deliveries by channel (raster | animated | error).
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netimage_deliveries_total",
			Help: "Terminal request deliveries by channel.",
		},
		[]string{"channel"},
	)

	// Counter: submissions rejected by a full worker queue.
	PoolRejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "netimage_pool_rejections_total",
			Help: "Tasks rejected because the worker queue was full.",
		},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "netimage_http_latency_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"path", "method", "status_code"},
	)
)

// Register is called once in main() to register metrics.
func Register() {
	prometheus.MustRegister(
		CacheLookupsTotal,
		CacheWritesTotal,
		MemoryCacheBytes,
		FetchTotal,
		DecodeSeconds,
		DeliveriesTotal,
		PoolRejectionsTotal,
		HTTPLatencySeconds,
	)
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware measures latency for each HTTP request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		HTTPLatencySeconds.
			WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

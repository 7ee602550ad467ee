package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"netimage/internal/handlers"
	"netimage/internal/metrics"
	"netimage/internal/middleware"
)

// Pinger reports whether a dependency is reachable.
type Pinger func(r *http.Request) error

func SetupRouter(r *chi.Mux, baseLogger *zap.Logger, imageHandler *handlers.ImageHandler, requestTimeout time.Duration, ready Pinger) {

	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Timeout(requestTimeout)).Get("/images", imageHandler.GetImage)
	})

	r.Get("/debug/latency", imageHandler.LatencyStats)

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}

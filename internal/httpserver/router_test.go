package httpserver

import (
	"context"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"netimage/internal/fetch"
	"netimage/internal/handlers"
	"netimage/internal/pipeline"
	"netimage/internal/stats"
)

type stubLoader struct{}

func (stubLoader) Load(_ context.Context, _ pipeline.Request, sink pipeline.Sink) error {
	sink.OnRaster(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	return nil
}

func newRouter(t *testing.T, ready Pinger) *chi.Mux {
	t.Helper()
	r := chi.NewRouter()
	h := handlers.NewImageHandler(stubLoader{}, fetch.FetcherFunc(func(string) (fetch.Call, error) {
		return fetch.CallFunc(func(context.Context) (*fetch.Response, error) { return nil, nil }), nil
	}), stats.NewLatencyTracker(0))
	SetupRouter(r, zaptest.NewLogger(t), h, time.Second, ready)
	return r
}

func TestRoutes(t *testing.T) {
	r := newRouter(t, nil)

	cases := []struct {
		path   string
		status int
	}{
		{"/healthz", http.StatusOK},
		{"/v1/images?url=https://example.com/a.png", http.StatusOK},
		{"/debug/latency", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, rr.Code)
		}
	}
}

func TestHealthzReportsDependencyFailure(t *testing.T) {
	r := newRouter(t, func(*http.Request) error { return errors.New("redis down") })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

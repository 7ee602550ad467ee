package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := NewClient(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewCallRejectsUnsupportedKeys(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, Config{})
	for _, key := range []string{"", "ftp://example.com/a.png", "/local/file.png", "http://"} {
		if _, err := c.NewCall(key); !errors.Is(err, ErrUnsupportedKey) {
			t.Fatalf("NewCall(%q): expected ErrUnsupportedKey, got %v", key, err)
		}
	}
}

func TestExecuteSuccess(t *testing.T) {
	t.Parallel()

	var gotAccept, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		gotAccept = r.Header.Get("Accept")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("pixels"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{UserAgent: "test-agent"})
	call, err := c.NewCall(srv.URL + "/a.png")
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	resp, err := call.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != "pixels" {
		t.Fatalf("unexpected body: %q", body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if gotAccept != "image/*" {
		t.Fatalf("unexpected Accept header: %s", gotAccept)
	}
	if gotUA != "test-agent" {
		t.Fatalf("unexpected User-Agent: %s", gotUA)
	}
}

func TestExecuteClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{MaxRetries: 3, BaseBackoff: time.Millisecond})
	call, err := c.NewCall(srv.URL)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	_, err = call.Execute(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected status: %d", statusErr.StatusCode)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", hits.Load())
	}
}

func TestExecuteRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{MaxRetries: 2, BaseBackoff: time.Millisecond})
	call, err := c.NewCall(srv.URL)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	resp, err := call.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	resp.Body.Close()

	if hits.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", hits.Load())
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{MaxRetries: 1, BaseBackoff: time.Millisecond})
	call, err := c.NewCall(srv.URL)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	_, err = call.Execute(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 StatusError, got %v", err)
	}
}

func TestExecuteBodyTooLarge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{MaxBodyBytes: 16})
	call, err := c.NewCall(srv.URL)
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}

	resp, err := call.Execute(context.Background())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	defer resp.Body.Close()

	if _, err := io.ReadAll(resp.Body); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
}

func TestComputeBackoffBounds(t *testing.T) {
	t.Parallel()

	for attempt := 0; attempt < 20; attempt++ {
		d := computeBackoff(100*time.Millisecond, attempt)
		if d < 0 || d > 60*time.Second {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	cases := map[string]time.Duration{
		"":        0,
		"3":       3 * time.Second,
		"-1":      0,
		"100000":  5 * time.Minute,
		"garbage": 0,
	}
	for header, want := range cases {
		resp := &http.Response{Header: http.Header{}}
		if header != "" {
			resp.Header.Set("Retry-After", header)
		}
		if got := parseRetryAfter(resp); got != want {
			t.Fatalf("Retry-After %q: got %v, want %v", header, got, want)
		}
	}
}

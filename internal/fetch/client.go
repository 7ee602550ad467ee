package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Client fetches images over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Fetcher = (*Client)(nil)

// NewClient creates an HTTP fetcher with the given configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: defaultTransport(cfg),
		}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("fetch"),
	}, nil
}

// NewCall prepares a GET for key, which must be an absolute http(s) URL.
func (c *Client) NewCall(key string) (Call, error) {
	u, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKey, key)
	}
	return &httpCall{client: c, url: u.String()}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

type httpCall struct {
	client *Client
	url    string
}

func (hc *httpCall) Execute(parentCtx context.Context) (*Response, error) {
	c := hc.client
	start := time.Now()

	// The timeout covers the body read too, so cancel travels with the body.
	ctx, cancel := context.WithTimeout(parentCtx, c.cfg.Timeout)

	doOnce := func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.url, nil)
		if err != nil {
			return nil, fmt.Errorf("fetch: build HTTP request: %w", err)
		}
		req.Header.Set("Accept", "image/*")
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		return c.httpClient.Do(req)
	}

	resp, err := c.doWithRetry(ctx, doOnce)
	if err != nil {
		cancel()
		c.logger.Warn("fetch failed",
			zap.String("url", hc.url),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		cancel()
		c.logger.Warn("fetch upstream error",
			zap.String("url", hc.url),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{
			URL:        hc.url,
			StatusCode: resp.StatusCode,
			Body:       truncate(string(body), 200),
		}
	}

	c.logger.Debug("fetch response",
		zap.String("url", hc.url),
		zap.Int("status", resp.StatusCode),
		zap.Int64("content_length", resp.ContentLength),
		zap.Duration("duration", time.Since(start)),
	)

	return &Response{
		StatusCode:    resp.StatusCode,
		Header:        resp.Header,
		ContentLength: resp.ContentLength,
		Body: &limitedBody{
			r:      io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1),
			closer: resp.Body,
			cancel: cancel,
			limit:  c.cfg.MaxBodyBytes,
		},
	}, nil
}

// ErrBodyTooLarge is returned from Read once a body exceeds MaxBodyBytes.
var ErrBodyTooLarge = errors.New("fetch: response body too large")

type limitedBody struct {
	r      io.Reader
	closer io.Closer
	cancel context.CancelFunc
	limit  int64
	read   int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	b.read += int64(n)
	if b.read > b.limit {
		return n, ErrBodyTooLarge
	}
	return n, err
}

func (b *limitedBody) Close() error {
	err := b.closer.Close()
	b.cancel()
	return err
}

// truncate limits string length for logging
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

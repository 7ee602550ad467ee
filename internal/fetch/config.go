package fetch

import (
	"errors"
	"net"
	"net/http"
	"time"
)

type Config struct {
	UserAgent string

	Timeout     time.Duration // per-call timeout (default: 30s)
	MaxRetries  int           // retry attempts (default: 2)
	BaseBackoff time.Duration // initial backoff (default: 100ms)

	// MaxBodyBytes caps how much of a response body is read (default: 32MB).
	MaxBodyBytes int64

	// Optional connection pool settings
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 16

	// Custom HTTP client (for testing or special configs)
	HTTPClient *http.Client
}

// Validate rejects settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.MaxBodyBytes < 0 {
		return errors.New("MaxBodyBytes must not be negative")
	}
	return nil
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c

	if cfg.UserAgent == "" {
		cfg.UserAgent = "netimage/1.0"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 32 << 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.MaxIdleConnsPerHost <= 0 {
		cfg.MaxIdleConnsPerHost = 16
	}

	return cfg
}

func defaultTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

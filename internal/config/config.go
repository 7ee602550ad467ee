// Package config loads service settings from an optional YAML file,
// environment variables and command-line flags, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"netimage/internal/cache"
	"netimage/internal/pool"
	"netimage/pkg/logging/logging"
)

type Config struct {
	Port           string        `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Log    logging.Config `yaml:"log"`
	Cache  CacheConfig    `yaml:"cache"`
	Redis  RedisConfig    `yaml:"redis"`
	Pool   PoolConfig     `yaml:"pool"`
	Decode DecodeConfig   `yaml:"decode"`
	Fetch  FetchConfig    `yaml:"fetch"`
}

type CacheConfig struct {
	Dir       string `yaml:"dir"`
	Namespace string `yaml:"namespace"`
	Backend   string `yaml:"blob_backend"` // disk | redis

	// MemoryBytes fixes the memory cache size; 0 derives it from
	// MemoryFraction of available memory.
	MemoryBytes    int64   `yaml:"memory_bytes"`
	MemoryFraction float64 `yaml:"memory_fraction"`

	// DiskMaxBytes caps the disk tier; 0 = unbounded.
	DiskMaxBytes int64 `yaml:"disk_max_bytes"`

	// ClearOnStart empties the disk tier before serving.
	ClearOnStart bool `yaml:"clear_on_start"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

type PoolConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	Reject      string        `yaml:"reject"` // fail | block | caller-runs
}

type DecodeConfig struct {
	Concurrency int64 `yaml:"concurrency"`
	MaxPixels   int   `yaml:"max_pixels"`
	Animated    bool  `yaml:"animated"`
	Coalesce    bool  `yaml:"coalesce"`
}

type FetchConfig struct {
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:           "8080",
		RequestTimeout: 30 * time.Second,
		Cache: CacheConfig{
			Dir:            filepath.Join(os.TempDir(), "netimage"),
			Namespace:      "images",
			Backend:        cache.BackendDisk,
			MemoryFraction: cache.DefaultMemoryFraction,
		},
		Redis: RedisConfig{
			Addr:   "127.0.0.1:6379",
			Prefix: "netimage",
			TTL:    24 * time.Hour,
		},
		Pool: PoolConfig{
			Reject: pool.RejectFail.String(),
		},
		Decode: DecodeConfig{
			Concurrency: 1,
			Animated:    true,
		},
	}
}

// WithDefaults returns a copy of Config with zero values replaced by
// the built-in settings.
func (c *Config) WithDefaults() Config {
	def := Default()
	cfg := *c

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = def.Cache.Dir
	}
	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = def.Cache.Namespace
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = def.Cache.Backend
	}
	if cfg.Cache.MemoryFraction <= 0 {
		cfg.Cache.MemoryFraction = def.Cache.MemoryFraction
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = def.Redis.Addr
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = def.Redis.Prefix
	}
	if cfg.Pool.Reject == "" {
		cfg.Pool.Reject = def.Pool.Reject
	}
	if cfg.Decode.Concurrency <= 0 {
		cfg.Decode.Concurrency = def.Decode.Concurrency
	}
	return cfg
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("port %q is not a number", c.Port))
	}
	switch c.Cache.Backend {
	case cache.BackendDisk, cache.BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown blob_backend %q", c.Cache.Backend))
	}
	if c.Cache.MemoryFraction > 1 {
		errs = append(errs, errors.New("memory_fraction must be in (0, 1]"))
	}
	if c.Cache.MemoryBytes < 0 || c.Cache.DiskMaxBytes < 0 {
		errs = append(errs, errors.New("cache sizes must not be negative"))
	}
	if _, err := pool.ParseRejectPolicy(c.Pool.Reject); err != nil {
		errs = append(errs, err)
	}
	if c.Pool.Workers < 0 || c.Pool.QueueSize < 0 {
		errs = append(errs, errors.New("pool sizes must not be negative"))
	}
	if c.Fetch.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("fetch max_body_bytes must not be negative"))
	}

	return errors.Join(errs...)
}

// Load reads the YAML file at path (if any), applies environment
// overrides from getenv, then flags from args. A --config flag in args
// names the file. A nil getenv uses os.Getenv.
func Load(args []string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	path, err := configPath(args, getenv)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}

	fs := pflag.NewFlagSet("netimage", pflag.ContinueOnError)
	fs.String("config", path, "path to a YAML config file")
	BindFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// configPath finds --config without failing on the other flags.
func configPath(args []string, getenv func(string) string) (string, error) {
	fs := pflag.NewFlagSet("netimage-config", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Usage = func() {}
	path := fs.String("config", getenv("NETIMAGE_CONFIG"), "")
	if err := fs.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return "", err
	}
	return *path, nil
}

func readFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// BindFlags registers one flag per setting, defaulting to the current
// values in cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "per-request HTTP timeout")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Log.Env, "log-env", cfg.Log.Env, "logger preset (development, production)")

	fs.StringVar(&cfg.Cache.Dir, "cache-dir", cfg.Cache.Dir, "root directory of the disk cache")
	fs.StringVar(&cfg.Cache.Namespace, "cache-namespace", cfg.Cache.Namespace, "subdirectory of the disk cache")
	fs.StringVar(&cfg.Cache.Backend, "blob-backend", cfg.Cache.Backend, "byte cache backend (disk, redis)")
	fs.Int64Var(&cfg.Cache.MemoryBytes, "memory-bytes", cfg.Cache.MemoryBytes, "memory cache size in bytes (0 = derive from available memory)")
	fs.Float64Var(&cfg.Cache.MemoryFraction, "memory-fraction", cfg.Cache.MemoryFraction, "fraction of available memory for the memory cache")
	fs.Int64Var(&cfg.Cache.DiskMaxBytes, "disk-max-bytes", cfg.Cache.DiskMaxBytes, "disk cache cap in bytes (0 = unbounded)")
	fs.BoolVar(&cfg.Cache.ClearOnStart, "clear-cache", cfg.Cache.ClearOnStart, "empty the disk cache before serving")

	fs.StringVar(&cfg.Redis.Addr, "redis-addr", cfg.Redis.Addr, "redis address")
	fs.StringVar(&cfg.Redis.Prefix, "redis-prefix", cfg.Redis.Prefix, "redis key prefix")
	fs.DurationVar(&cfg.Redis.TTL, "redis-ttl", cfg.Redis.TTL, "redis entry TTL (0 = no expiry)")

	fs.IntVar(&cfg.Pool.Workers, "workers", cfg.Pool.Workers, "max worker goroutines (0 = 2*GOMAXPROCS+1)")
	fs.IntVar(&cfg.Pool.QueueSize, "queue-size", cfg.Pool.QueueSize, "pending request queue size (0 = 128)")
	fs.DurationVar(&cfg.Pool.IdleTimeout, "worker-idle-timeout", cfg.Pool.IdleTimeout, "idle time before a worker exits (0 = 60s)")
	fs.StringVar(&cfg.Pool.Reject, "reject-policy", cfg.Pool.Reject, "full queue policy (fail, block, caller-runs)")

	fs.Int64Var(&cfg.Decode.Concurrency, "decode-concurrency", cfg.Decode.Concurrency, "concurrent decodes")
	fs.IntVar(&cfg.Decode.MaxPixels, "max-pixels", cfg.Decode.MaxPixels, "largest decodable image in pixels (0 = 64M)")
	fs.BoolVar(&cfg.Decode.Animated, "animated", cfg.Decode.Animated, "decode multi-frame GIFs as animations")
	fs.BoolVar(&cfg.Decode.Coalesce, "coalesce", cfg.Decode.Coalesce, "share concurrent loads of the same image")

	fs.StringVar(&cfg.Fetch.UserAgent, "user-agent", cfg.Fetch.UserAgent, "User-Agent for upstream requests")
	fs.DurationVar(&cfg.Fetch.Timeout, "fetch-timeout", cfg.Fetch.Timeout, "upstream request timeout")
	fs.IntVar(&cfg.Fetch.MaxRetries, "fetch-retries", cfg.Fetch.MaxRetries, "upstream retry attempts")
	fs.Int64Var(&cfg.Fetch.MaxBodyBytes, "fetch-max-body-bytes", cfg.Fetch.MaxBodyBytes, "largest accepted upstream body")
}

// applyEnv overrides cfg from environment variables.
func applyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	num64 := func(key string, dst *int64) {
		if v := getenv(key); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &cfg.Port)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("ENV", &cfg.Log.Env)
	str("CACHE_DIR", &cfg.Cache.Dir)
	str("CACHE_NAMESPACE", &cfg.Cache.Namespace)
	str("BLOB_BACKEND", &cfg.Cache.Backend)
	num64("MEMORY_CACHE_BYTES", &cfg.Cache.MemoryBytes)
	num64("DISK_MAX_BYTES", &cfg.Cache.DiskMaxBytes)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("REDIS_PREFIX", &cfg.Redis.Prefix)
	dur("REDIS_TTL", &cfg.Redis.TTL)
	num("POOL_WORKERS", &cfg.Pool.Workers)
	num("POOL_QUEUE_SIZE", &cfg.Pool.QueueSize)
	str("POOL_REJECT", &cfg.Pool.Reject)
	num64("DECODE_CONCURRENCY", &cfg.Decode.Concurrency)
	boolean("DECODE_ANIMATED", &cfg.Decode.Animated)
	boolean("COALESCE", &cfg.Decode.Coalesce)
	str("FETCH_USER_AGENT", &cfg.Fetch.UserAgent)
	dur("FETCH_TIMEOUT", &cfg.Fetch.Timeout)
	num("FETCH_MAX_RETRIES", &cfg.Fetch.MaxRetries)

	return errors.Join(errs...)
}

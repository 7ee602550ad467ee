package logging

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

// prevents differences when adding new constants
const loggerKey ctxKey = iota

var (
	defaultLogger     *zap.Logger
	defaultLoggerOnce sync.Once
)

// Config selects the encoder and level. Empty fields fall back to the
// ENV and LOG_LEVEL environment variables.
type Config struct {
	Env   string `yaml:"env"`   // "dev"/"development" for console output
	Level string `yaml:"level"` // debug, info, warn, error
}

// NewLogger builds a zap logger from cfg.
func NewLogger(cfg Config) (*zap.Logger, error) {
	if cfg.Env == "" {
		cfg.Env = os.Getenv("ENV")
	}
	if cfg.Level == "" {
		cfg.Level = os.Getenv("LOG_LEVEL")
	}

	var config zap.Config
	if cfg.Env == "dev" || cfg.Env == "development" {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.DisableCaller = false
	}

	if cfg.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(cfg.Level)); err == nil {
			config.Level = zap.NewAtomicLevelAt(level)
		}
	}

	return config.Build()
}

// DefaultLogger returns the process-wide logger, built from the environment
// on first use.
func DefaultLogger() *zap.Logger {
	defaultLoggerOnce.Do(func() {
		logger, err := NewLogger(Config{})
		if err != nil {
			_, _ = os.Stderr.WriteString("failed to create logger: " + err.Error() + "\n")
			logger = zap.NewNop()
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// SetDefault replaces the process-wide logger. Call it before any request
// is served.
func SetDefault(logger *zap.Logger) {
	DefaultLogger()
	if logger != nil {
		defaultLogger = logger
	}
}

// WithLogger attaches a logger to ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger attached to ctx, or the default logger.
func FromContext(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return DefaultLogger()
	}

	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	if ok && logger != nil {
		return logger
	}
	return DefaultLogger()
}

// Lookup returns the logger attached to ctx, if any.
func Lookup(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return logger, ok && logger != nil
}

func L(ctx context.Context) *zap.Logger {
	return FromContext(ctx)
}

// WithFields adds structured fields to the logger in context.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	logger := FromContext(ctx).With(fields...)
	return WithLogger(ctx, logger)
}

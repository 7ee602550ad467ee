package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"netimage/internal/cache"
	"netimage/internal/config"
	"netimage/internal/decode"
	"netimage/internal/fetch"
	"netimage/internal/handlers"
	"netimage/internal/httpserver"
	"netimage/internal/metrics"
	"netimage/internal/pipeline"
	"netimage/internal/pool"
	"netimage/internal/stats"
	"netimage/pkg/logging/logging"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		log.Fatalf("netimage exited with error: %v", err)
	}
}

func run() error {
	// ----- Config -----
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	// ----- Logger -----
	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logging.SetDefault(logger)

	// ----- Metrics -----
	metrics.Register()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("blob_backend", cfg.Cache.Backend),
		zap.String("cache_dir", cfg.Cache.Dir),
		zap.Int64("disk_max_bytes", cfg.Cache.DiskMaxBytes),
		zap.Int("workers", cfg.Pool.Workers),
		zap.String("reject_policy", cfg.Pool.Reject),
		zap.Int64("decode_concurrency", cfg.Decode.Concurrency),
		zap.Bool("coalesce", cfg.Decode.Coalesce),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.Cache.Backend == cache.BackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
	}

	// ----- Caches -----
	memCapacity := cfg.Cache.MemoryBytes
	if memCapacity <= 0 {
		memCapacity = cache.CapacityFromAvailable(cfg.Cache.MemoryFraction)
	}
	memory := cache.NewMemoryCache(memCapacity, decode.SizeOf)
	memory.OnEvict = func(key string, size int64) {
		logger.Debug("memory cache eviction", zap.String("key", key), zap.Int64("size_bytes", size))
	}

	blobs := cache.NewBlobStore(cache.Config{
		Backend:   cfg.Cache.Backend,
		Dir:       cfg.Cache.Dir,
		Namespace: cfg.Cache.Namespace,
		MaxBytes:  cfg.Cache.DiskMaxBytes,
		Prefix:    cfg.Redis.Prefix,
		TTL:       cfg.Redis.TTL,
	}, redisClient, logger)

	if disk, ok := blobs.(*cache.DiskCache); ok && cfg.Cache.ClearOnStart {
		if err := disk.Clear(); err != nil {
			return err
		}
		logger.Info("disk cache cleared", zap.String("dir", disk.Dir()))
	}
	blobs = cache.NewLoggingStore(blobs, cfg.Cache.Backend)

	logger.Info("caches ready",
		zap.Int64("memory_capacity_bytes", memCapacity),
		zap.String("blob_backend", cfg.Cache.Backend),
	)

	// ----- Worker pool -----
	reject, err := pool.ParseRejectPolicy(cfg.Pool.Reject)
	if err != nil {
		return err
	}
	workers := pool.New(pool.Config{
		MaxWorkers:  cfg.Pool.Workers,
		QueueSize:   cfg.Pool.QueueSize,
		IdleTimeout: cfg.Pool.IdleTimeout,
		Reject:      reject,
	}, logger)

	// ----- Fetcher -----
	fetcher, err := fetch.NewClient(fetch.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      cfg.Fetch.Timeout,
		MaxRetries:   cfg.Fetch.MaxRetries,
		BaseBackoff:  cfg.Fetch.BaseBackoff,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, logger)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	// ----- Pipeline -----
	var animated decode.AnimatedDecoder
	if cfg.Decode.Animated {
		animated = decode.GIFDecoder{}
	}
	tracker := stats.NewLatencyTracker(stats.DefaultAccuracy)

	loader, err := pipeline.New(pipeline.Options{
		Memory:    memory,
		Blobs:     blobs,
		Pool:      workers,
		Fetcher:   fetcher,
		Decoder:   decode.StdDecoder{},
		Animated:  animated,
		Guard:     decode.NewGuard(cfg.Decode.Concurrency),
		MaxPixels: cfg.Decode.MaxPixels,
		Coalesce:  cfg.Decode.Coalesce,
		Tracker:   tracker,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	// ----- Router + middleware -----
	var ready httpserver.Pinger
	if redisClient != nil {
		ready = func(r *http.Request) error {
			return redisClient.Ping(r.Context()).Err()
		}
	}
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, handlers.NewImageHandler(loader, fetcher, tracker), cfg.RequestTimeout, ready)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting netimage", zap.String("addr", srv.Addr))

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("server error", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}
	if err := workers.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker pool shutdown error", zap.Error(err))
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

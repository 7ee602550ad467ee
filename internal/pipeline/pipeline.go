// Package pipeline loads images through a memory cache, a byte cache and
// the network, decoding on a bounded worker pool.
//
// A request walks MEMORY_LOOKUP, DISK_LOOKUP (only with an animated
// decoder), NETWORK_FETCH and DECODE, stopping at the first step that
// produces a result. Every request ends in exactly one sink delivery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"runtime/debug"
	"strconv"
	"time"

	"netimage/internal/cache"
	"netimage/internal/decode"
	"netimage/internal/fetch"
	"netimage/internal/metrics"
	"netimage/internal/pool"
	"netimage/internal/stats"
	"netimage/pkg/logging/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Submitter schedules tasks. *pool.Pool implements it.
type Submitter interface {
	Submit(ctx context.Context, task pool.Task) error
}

type Options struct {
	// required
	Memory *cache.MemoryCache
	Blobs  cache.BlobStore // raster bytes under key, raw bytes under cache.RawKey(key)
	Pool   Submitter

	// Fetcher builds calls for requests that carry none.
	Fetcher fetch.Fetcher

	Decoder  decode.Decoder         // default: decode.StdDecoder
	Animated decode.AnimatedDecoder // nil disables the animated path
	Guard    *decode.Guard          // default: one decode at a time

	// MaxPixels bounds the natural size of decoded images (default: decode.DefaultMaxPixels).
	MaxPixels int

	// Coalesce shares one load between concurrent requests of the same shape.
	Coalesce bool

	Tracker *stats.LatencyTracker
	Logger  *zap.Logger
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	memory    *cache.MemoryCache
	blobs     cache.BlobStore
	pool      Submitter
	fetcher   fetch.Fetcher
	decoder   decode.Decoder
	animated  decode.AnimatedDecoder
	guard     *decode.Guard
	maxPixels int
	coalesce  bool
	tracker   *stats.LatencyTracker
	logger    *zap.Logger

	group singleflight.Group
}

// outcome is what a load produced; exactly one field is set on success.
type outcome struct {
	raster   image.Image
	animated *decode.Animation
}

func New(opts Options) (*Pipeline, error) {
	if opts.Memory == nil {
		return nil, errors.New("pipeline: memory cache is required")
	}
	if opts.Blobs == nil {
		return nil, errors.New("pipeline: blob store is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("pipeline: pool is required")
	}
	if opts.Decoder == nil {
		opts.Decoder = decode.StdDecoder{}
	}
	if opts.Guard == nil {
		opts.Guard = decode.NewGuard(1)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Pipeline{
		memory:    opts.Memory,
		blobs:     opts.Blobs,
		pool:      opts.Pool,
		fetcher:   opts.Fetcher,
		decoder:   opts.Decoder,
		animated:  opts.Animated,
		guard:     opts.Guard,
		maxPixels: opts.MaxPixels,
		coalesce:  opts.Coalesce,
		tracker:   opts.Tracker,
		logger:    opts.Logger.Named("pipeline"),
	}, nil
}

// Load schedules req and returns immediately. The outcome is delivered to
// sink on a worker goroutine. If the request cannot be scheduled Load
// returns an *Error (KindPoolSaturated when the queue is full) and sink is
// never called.
//
// Once scheduled a request runs to completion: cancelling ctx does not
// stop it, and only ctx values are carried into the run.
func (p *Pipeline) Load(ctx context.Context, req Request, sink Sink) error {
	if sink == nil {
		return errors.New("pipeline: nil sink")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	logger, ok := logging.Lookup(ctx)
	if !ok {
		logger = p.logger
	}
	logger = logger.With(
		zap.String("request_id", req.ID),
		zap.String("key", req.Key),
	)
	runCtx := logging.WithLogger(context.WithoutCancel(ctx), logger)
	s := &onceSink{inner: sink}

	err := p.pool.Submit(ctx, func() { p.run(runCtx, &req, s) })
	if err == nil {
		return nil
	}

	kind := KindInternal
	if errors.Is(err, pool.ErrPoolSaturated) {
		kind = KindPoolSaturated
	}
	logger.Warn("request not scheduled", zap.Error(err))
	return &Error{Kind: kind, Key: req.Key, Err: err}
}

func (p *Pipeline) run(ctx context.Context, req *Request, s *onceSink) {
	logger := logging.L(ctx)
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("pipeline panic",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			s.fail(&Error{Kind: KindInternal, Key: req.Key, Err: fmt.Errorf("panic: %v", rec)})
		}
		p.tracker.Record(stats.StageTotal, time.Since(start))
	}()

	var (
		out outcome
		err error
	)
	if p.coalesce {
		v, doErr, shared := p.group.Do(flightKey(req), func() (any, error) {
			return p.produce(ctx, req)
		})
		out, _ = v.(outcome)
		err = doErr
		if shared {
			logger.Debug("coalesced with in-flight load")
		}
	} else {
		out, err = p.produce(ctx, req)
	}

	switch {
	case err != nil:
		logger.Info("request failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		s.fail(err)
	case out.animated != nil:
		logger.Debug("request done", zap.String("channel", "animated"), zap.Duration("duration", time.Since(start)))
		s.animated(out.animated)
	default:
		logger.Debug("request done", zap.String("channel", "raster"), zap.Duration("duration", time.Since(start)))
		s.raster(out.raster)
	}
}

// produce runs the state machine for req.
func (p *Pipeline) produce(ctx context.Context, req *Request) (outcome, error) {
	logger := logging.L(ctx)
	state := StateInit
	enter := func(next State) {
		logger.Debug("state transition", zap.Stringer("from", state), zap.Stringer("to", next))
		state = next
	}

	enter(StateMemoryLookup)
	var (
		img image.Image
		hit bool
	)
	_ = p.tracker.RecordFunc(stats.StageMemory, func() error {
		img, hit = p.lookupRaster(ctx, req)
		return nil
	})
	if hit {
		enter(StateDone)
		return outcome{raster: img}, nil
	}

	if p.animated != nil {
		enter(StateDiskLookup)
		var anim *decode.Animation
		_ = p.tracker.RecordFunc(stats.StageDisk, func() error {
			anim, hit = p.lookupAnimated(ctx, req)
			return nil
		})
		if hit {
			enter(StateDone)
			return outcome{animated: anim}, nil
		}
	}

	enter(StateNetworkFetch)
	data, err := p.fetchBytes(ctx, req)
	if err != nil {
		enter(StateError)
		return outcome{}, &Error{Kind: KindNetwork, Key: req.Key, Err: err}
	}

	enter(StateDecode)
	out, err := p.decodeFetched(ctx, req, data)
	if err != nil {
		enter(StateError)
		return outcome{}, err
	}
	enter(StateDone)
	return out, nil
}

// lookupRaster checks memory, then the raster byte tier. A byte-tier hit
// is decoded at natural size and promoted to memory.
func (p *Pipeline) lookupRaster(ctx context.Context, req *Request) (image.Image, bool) {
	if img, ok := p.memory.Get(req.Key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("memory", "hit").Inc()
		return img, true
	}
	metrics.CacheLookupsTotal.WithLabelValues("memory", "miss").Inc()

	data, ok := p.lookupBlob(ctx, req.Key)
	if !ok {
		return nil, false
	}

	var img image.Image
	err := p.guard.Do(ctx, func() error {
		var err error
		img, err = decode.Raster(p.decoder, data, decode.Constraints{
			Format:    req.Format,
			MaxPixels: p.maxPixels,
		})
		return err
	})
	if err != nil {
		logging.L(ctx).Warn("cached raster unreadable, evicting", zap.Error(err))
		p.evict(ctx, req.Key)
		return nil, false
	}

	p.putMemory(req.Key, img)
	return img, true
}

// lookupAnimated decodes raw bytes cached by an earlier animated load.
// Any failure falls through to the network.
func (p *Pipeline) lookupAnimated(ctx context.Context, req *Request) (*decode.Animation, bool) {
	data, ok := p.lookupBlob(ctx, cache.RawKey(req.Key))
	if !ok {
		return nil, false
	}
	anim, err := p.decodeAnimated(ctx, data)
	if err != nil {
		logging.L(ctx).Debug("cached bytes not animated, evicting", zap.Error(err))
		p.evict(ctx, cache.RawKey(req.Key))
		return nil, false
	}
	return anim, true
}

// lookupBlob collapses cache errors into a miss.
func (p *Pipeline) lookupBlob(ctx context.Context, key string) ([]byte, bool) {
	data, ok, err := p.blobs.Get(ctx, key)
	if err != nil {
		logging.L(ctx).Debug("blob lookup failed, treating as miss",
			zap.Error(&Error{Kind: KindCacheIO, Key: key, Err: err}),
		)
		return nil, false
	}
	return data, ok && len(data) > 0
}

func (p *Pipeline) fetchBytes(ctx context.Context, req *Request) ([]byte, error) {
	call := req.Call
	if call == nil {
		if p.fetcher == nil {
			return nil, errors.New("no call and no fetcher configured")
		}
		c, err := p.fetcher.NewCall(req.Key)
		if err != nil {
			metrics.FetchTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		call = c
	}

	start := time.Now()
	defer func() { p.tracker.Record(stats.StageNetwork, time.Since(start)) }()

	resp, err := call.Execute(ctx)
	if err != nil {
		metrics.FetchTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if resp == nil || resp.Body == nil {
		metrics.FetchTotal.WithLabelValues("error").Inc()
		return nil, errors.New("empty response")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.FetchTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("read body: %w", err)
	}
	metrics.FetchTotal.WithLabelValues("ok").Inc()
	return data, nil
}

// decodeFetched tries the animated decoder first, then raster decode.
func (p *Pipeline) decodeFetched(ctx context.Context, req *Request, data []byte) (outcome, error) {
	logger := logging.L(ctx)

	if p.animated != nil {
		anim, err := p.decodeAnimated(ctx, data)
		if err == nil {
			p.store(ctx, cache.RawKey(req.Key), data)
			return outcome{animated: anim}, nil
		}
		if !errors.Is(err, decode.ErrNotAnimated) {
			logger.Debug("animated decode failed, falling back to raster", zap.Error(err))
		}
	}

	start := time.Now()
	var img image.Image
	err := p.guard.Do(ctx, func() error {
		var err error
		img, err = decode.Raster(p.decoder, data, req.constraints(p.maxPixels))
		return err
	})
	metrics.DecodeSeconds.WithLabelValues("raster").Observe(time.Since(start).Seconds())
	p.tracker.Record(stats.StageDecode, time.Since(start))
	if err != nil {
		return outcome{}, &Error{Kind: KindDecode, Key: req.Key, Err: fmt.Errorf("parse bitmap fail: %w", err)}
	}

	p.persistRaster(ctx, req.Key, img)
	return outcome{raster: img}, nil
}

func (p *Pipeline) decodeAnimated(ctx context.Context, data []byte) (*decode.Animation, error) {
	start := time.Now()
	var anim *decode.Animation
	err := p.guard.Do(ctx, func() error {
		var err error
		anim, err = p.animated.DecodeAnimated(data)
		return err
	})
	metrics.DecodeSeconds.WithLabelValues("animated").Observe(time.Since(start).Seconds())
	return anim, err
}

// persistRaster stores img in memory and its JPEG encoding in the byte
// tier, unless an entry for key already exists. The first writer wins.
func (p *Pipeline) persistRaster(ctx context.Context, key string, img image.Image) {
	if p.memory.Contains(key) {
		return
	}
	p.putMemory(key, img)

	data, err := decode.EncodeJPEG(img)
	if err != nil {
		logging.L(ctx).Warn("raster encode failed", zap.Error(err))
		return
	}
	p.store(ctx, key, data)
}

func (p *Pipeline) putMemory(key string, img image.Image) {
	p.memory.Put(key, img)
	metrics.MemoryCacheBytes.Set(float64(p.memory.Size()))
}

// store writes to the byte tier; failures are logged and dropped.
func (p *Pipeline) store(ctx context.Context, key string, data []byte) {
	if err := p.blobs.Set(ctx, key, data); err != nil {
		logging.L(ctx).Warn("blob write failed",
			zap.Error(&Error{Kind: KindCacheIO, Key: key, Err: err}),
		)
	}
}

// evict drops an unusable byte-tier entry; failures are logged and dropped.
func (p *Pipeline) evict(ctx context.Context, key string) {
	if err := p.blobs.Delete(ctx, key); err != nil {
		logging.L(ctx).Warn("blob delete failed",
			zap.Error(&Error{Kind: KindCacheIO, Key: key, Err: err}),
		)
	}
}

func flightKey(req *Request) string {
	return req.Key + "|" + strconv.Itoa(req.MaxWidth) + "x" + strconv.Itoa(req.MaxHeight) +
		"|" + req.Scale.String() + "|" + req.Format.String()
}

// Package pool runs tasks on a bounded set of goroutines fed by a bounded
// queue.
//
// Workers are started on demand up to MaxWorkers and retire after sitting
// idle for IdleTimeout, so an unused pool holds no goroutines. When the
// queue is full the configured RejectPolicy decides what Submit does; the
// default fails the submission with ErrPoolSaturated.
//
// The pool is owned by whoever constructs it, and that owner must call
// Shutdown to drain queued work before exit.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"netimage/internal/metrics"

	"go.uber.org/zap"
)

var (
	// ErrPoolSaturated is returned by Submit when the queue is full and the
	// policy is RejectFail.
	ErrPoolSaturated = errors.New("pool: queue is full")

	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("pool: closed")
)

// RejectPolicy selects the behavior of Submit on a full queue.
type RejectPolicy int

const (
	RejectFail       RejectPolicy = iota // return ErrPoolSaturated
	RejectBlock                          // wait for room or ctx
	RejectCallerRuns                     // run the task on the submitting goroutine
)

func (p RejectPolicy) String() string {
	switch p {
	case RejectBlock:
		return "block"
	case RejectCallerRuns:
		return "caller-runs"
	default:
		return "fail"
	}
}

// ParseRejectPolicy parses "fail", "block" or "caller-runs".
func ParseRejectPolicy(s string) (RejectPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail":
		return RejectFail, nil
	case "block":
		return RejectBlock, nil
	case "caller-runs", "caller_runs", "callerruns":
		return RejectCallerRuns, nil
	default:
		return RejectFail, fmt.Errorf("unknown reject policy %q", s)
	}
}

type Config struct {
	MaxWorkers  int           // default: 2*GOMAXPROCS+1
	QueueSize   int           // default: 128
	IdleTimeout time.Duration // default: 60s
	Reject      RejectPolicy
}

// WithDefaults returns a copy of Config with sane defaults applied.
func (c *Config) WithDefaults() Config {
	cfg := *c
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 2*runtime.GOMAXPROCS(0) + 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	return cfg
}

// Task is a unit of work.
type Task func()

// Pool is a bounded worker pool. Safe for concurrent use.
type Pool struct {
	cfg    Config
	logger *zap.Logger
	queue  chan Task

	// closeMu is held shared by submitters and exclusively by Shutdown, so
	// the queue is never sent to after it is closed.
	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	workers int
	idle    int
	wg      sync.WaitGroup
}

// New creates a pool. No goroutines are started until work arrives.
func New(cfg Config, logger *zap.Logger) *Pool {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		logger: logger.Named("pool"),
		queue:  make(chan Task, cfg.QueueSize),
	}
}

// Submit queues task. On a full queue the outcome depends on the reject
// policy: ErrPoolSaturated, blocking until room frees up (or ctx ends), or
// running task inline before returning.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	if task == nil {
		return errors.New("pool: nil task")
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.mu.Lock()
	select {
	case p.queue <- task:
		p.spawnLocked()
		p.mu.Unlock()
		return nil
	default:
	}
	p.mu.Unlock()

	switch p.cfg.Reject {
	case RejectBlock:
		select {
		case p.queue <- task:
		case <-ctx.Done():
			return fmt.Errorf("pool: waiting for queue: %w", ctx.Err())
		}
		p.mu.Lock()
		p.spawnLocked()
		p.mu.Unlock()
		return nil

	case RejectCallerRuns:
		p.run(task)
		return nil

	default:
		metrics.PoolRejectionsTotal.Inc()
		p.logger.Warn("task rejected",
			zap.Int("queue_size", p.cfg.QueueSize),
			zap.Int("max_workers", p.cfg.MaxWorkers),
		)
		return ErrPoolSaturated
	}
}

// Shutdown stops accepting tasks, lets queued tasks finish and waits for
// every worker to exit or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.closeMu.Unlock()

	// Queued tasks may outlive every worker if they all just retired.
	p.mu.Lock()
	if len(p.queue) > 0 && p.workers == 0 {
		p.startWorkerLocked()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Workers int
	Idle    int
	Queued  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Workers: p.workers, Idle: p.idle, Queued: len(p.queue)}
}

// spawnLocked starts a worker when queued work outnumbers idle workers.
func (p *Pool) spawnLocked() {
	if len(p.queue) > p.idle && p.workers < p.cfg.MaxWorkers {
		p.startWorkerLocked()
	}
}

func (p *Pool) startWorkerLocked() {
	p.workers++
	p.idle++
	p.wg.Add(1)
	go p.worker()
}

func (p *Pool) worker() {
	defer p.wg.Done()

	timer := time.NewTimer(p.cfg.IdleTimeout)
	defer timer.Stop()

	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				p.retire()
				return
			}
			// A Submit racing with the receive above counted this worker as
			// idle; re-check now that it is busy.
			p.mu.Lock()
			p.idle--
			p.spawnLocked()
			p.mu.Unlock()

			p.run(task)

			p.mu.Lock()
			p.idle++
			p.mu.Unlock()
			timer.Reset(p.cfg.IdleTimeout)

		case <-timer.C:
			// Retirement and enqueue both happen under mu, so a task queued
			// before this check is never left without a worker.
			p.mu.Lock()
			if len(p.queue) > 0 {
				p.mu.Unlock()
				timer.Reset(p.cfg.IdleTimeout)
				continue
			}
			p.workers--
			p.idle--
			p.mu.Unlock()
			return
		}
	}
}

func (p *Pool) retire() {
	p.mu.Lock()
	p.workers--
	p.idle--
	p.mu.Unlock()
}

func (p *Pool) run(task Task) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("task panicked",
				zap.Any("error", rec),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task()
}

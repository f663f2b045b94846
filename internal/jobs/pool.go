// Package jobs provides a bounded FIFO queue drained by a fixed set of
// long-running workers.
//
// The pool isolates failures per item: a processor error or panic is logged and
// the worker moves on, the item is never requeued. The pool does not serialize
// items that share a resource key; processors needing that must take their own
// per-key lock.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// Processor handles one dequeued item.
type Processor[T any] func(ctx context.Context, item T) error

// Options configures a Pool.
type Options struct {
	// Name labels the pool's metrics and log lines.
	Name string
	// Capacity is the maximum number of pending items. Defaults to constants.DefaultQueueCapacity.
	Capacity int
	// Workers is the number of concurrent consumers. Defaults to constants.DefaultWorkerCount.
	Workers int
	// Clock stamps LastExecutedAt. Defaults to the real clock.
	Clock clock.PassiveClock
}

// Pool is a bounded queue with a fixed worker pool.
type Pool[T any] struct {
	name    string
	queue   chan T
	workers int
	process Processor[T]
	log     logr.Logger
	clock   clock.PassiveClock
	metrics *poolMetrics

	lastExecuted atomic.Int64 // unix nanos, 0 when never enqueued
	running      atomic.Bool
}

// NewPool constructs a Pool. Call Run to start consuming.
func NewPool[T any](log logr.Logger, opts Options, process Processor[T]) *Pool[T] {
	if opts.Capacity <= 0 {
		opts.Capacity = constants.DefaultQueueCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = constants.DefaultWorkerCount
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	return &Pool[T]{
		name:    opts.Name,
		queue:   make(chan T, opts.Capacity),
		workers: opts.Workers,
		process: process,
		log:     log.WithValues("pool", opts.Name),
		clock:   opts.Clock,
		metrics: newPoolMetrics(opts.Name),
	}
}

// Enqueue records LastExecutedAt and appends item, blocking while the queue is
// full. It only fails when ctx ends before space frees up.
func (p *Pool[T]) Enqueue(ctx context.Context, item T) error {
	p.lastExecuted.Store(p.clock.Now().UnixNano())

	select {
	case p.queue <- item:
		p.metrics.setDepth(len(p.queue))
		return nil
	default:
	}

	p.log.V(1).Info("Queue full, waiting for a worker", "capacity", cap(p.queue))
	select {
	case p.queue <- item:
		p.metrics.setDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastExecutedAt returns the time of the most recent Enqueue call.
func (p *Pool[T]) LastExecutedAt() (time.Time, bool) {
	n := p.lastExecuted.Load()
	if n == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, n), true
}

// Len returns the number of pending items.
func (p *Pool[T]) Len() int {
	return len(p.queue)
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current item. Run may only be called once.
func (p *Pool[T]) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pool %q already running", p.name)
	}

	p.log.Info("Starting workers", "workers", p.workers, "capacity", cap(p.queue))
	var wg sync.WaitGroup
	for i := range p.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	p.log.Info("Workers stopped")
	return nil
}

func (p *Pool[T]) worker(ctx context.Context, id int) {
	log := p.log.WithValues("worker", id)
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.queue:
			p.metrics.setDepth(len(p.queue))
			p.runOne(ctx, log, item)
		}
	}
}

func (p *Pool[T]) runOne(ctx context.Context, log logr.Logger, item T) {
	start := p.clock.Now()
	defer func() {
		if r := recover(); r != nil {
			p.metrics.observe(resultPanic, p.clock.Since(start))
			log.Error(fmt.Errorf("panic: %v", r), "Processor panicked")
		}
	}()

	if err := p.process(ctx, item); err != nil {
		if operatorerrors.IsTransient(err) {
			p.metrics.observe(resultTransient, p.clock.Since(start))
			log.Info("Processing failed on a transient error", "error", err.Error())
			return
		}
		p.metrics.observe(resultError, p.clock.Since(start))
		log.Error(err, "Processing failed")
		return
	}
	p.metrics.observe(resultSuccess, p.clock.Since(start))
}

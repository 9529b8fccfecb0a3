// Package dispatch runs side work off the request path on a small worker
// pool. Auth uses it for emails whose outcome must not shape the response,
// and the audit trail uses it for event writes. Close drains the queue, so
// work accepted before shutdown still runs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Task is a unit of side work. The context carries the submitting request's
// values but not its cancellation.
type Task func(ctx context.Context)

// Config sizes the pool. Zero values fall back to one worker and a buffer
// of one.
type Config struct {
	Workers int
	Buffer  int
}

type job struct {
	ctx  context.Context
	task Task
}

// Dispatcher is a bounded queue drained by a fixed set of workers. A nil
// *Dispatcher is valid and runs every task inline.
type Dispatcher struct {
	ch  chan job
	wg  sync.WaitGroup
	log *slog.Logger

	// mu orders Submit's sends against Close's close(ch).
	mu     sync.RWMutex
	closed bool

	inline atomic.Uint64
}

// New starts cfg.Workers workers.
func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		ch:  make(chan job, cfg.Buffer),
		log: logger,
	}

	d.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go d.work()
	}
	return d
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.ch {
		d.run(j)
	}
}

// run executes one task. A panicking task is logged and does not take its
// worker down.
func (d *Dispatcher) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger().ErrorContext(j.ctx, "dispatched task panicked", slog.Any("panic", r))
		}
	}()
	j.task(j.ctx)
}

func (d *Dispatcher) logger() *slog.Logger {
	if d == nil || d.log == nil {
		return slog.Default()
	}
	return d.log
}

// Submit queues task. It runs inline instead when d is nil, when d is
// closed, or when the queue is full. Nothing submitted is ever dropped.
func (d *Dispatcher) Submit(ctx context.Context, task Task) {
	if ctx == nil {
		ctx = context.Background()
	}
	j := job{ctx: context.WithoutCancel(ctx), task: task}

	if d == nil {
		d.run(j)
		return
	}

	d.mu.RLock()
	if !d.closed {
		select {
		case d.ch <- j:
			d.mu.RUnlock()
			return
		default:
		}
	}
	d.mu.RUnlock()

	d.inline.Add(1)
	d.run(j)
}

// Inline reports how many tasks ran on the submitting goroutine because
// the queue was full or closed.
func (d *Dispatcher) Inline() uint64 {
	if d == nil {
		return 0
	}
	return d.inline.Load()
}

// ErrDrainTimeout is returned by Close when queued work outlives ctx.
var ErrDrainTimeout = errors.New("dispatch: queue not drained before deadline")

// Close stops accepting work and waits for queued tasks to finish, or for
// ctx to end. Later calls wait again but never close twice.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}

	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrDrainTimeout, ctx.Err())
	}
}

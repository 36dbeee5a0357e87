package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/bazaar/pkg/observability"
)

var (
	// ErrPoolClosed is returned when submitting to a shut down pool
	ErrPoolClosed = errors.New("worker pool shut down")
	// ErrPoolFull is returned by TrySubmit when the queue is full
	ErrPoolFull = errors.New("worker pool queue full")
)

// TaskError is a failure reported by a background task
type TaskError struct {
	Task string
	Err  error
}

func (e TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task, e.Err)
}

// Dispatcher runs fire-and-forget tasks in their own goroutines with:
// - Detachment from the caller's cancellation
// - Panic recovery
// - Timeout enforcement
// - Error logging and an error channel
//
// Task failures never reach the caller that dispatched them.
//
// Example:
//
//	d.Go(r.Context(), "api key touch", func(ctx context.Context) error {
//	    return store.TouchAPIKey(ctx, keyID, now)
//	})
type Dispatcher struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
	errCh   chan TaskError
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(logger *observability.Logger, metrics *observability.Metrics, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		logger:  logger,
		metrics: metrics,
		timeout: timeout,
		errCh:   make(chan TaskError, 100),
	}
}

// Go runs fn in the background. The task keeps the values of parentCtx
// (request id, trace) but not its deadline or cancellation.
func (d *Dispatcher) Go(parentCtx context.Context, taskName string, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), d.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				d.report(taskName, fmt.Errorf("panic: %v", r))
				d.logger.WithField("stack", string(debug.Stack())).Errorf("panic in background task %s", taskName)
			}
		}()

		if err := fn(ctx); err != nil {
			d.report(taskName, err)
		}
	}()
}

// Errors returns a channel that receives task failures. Failures are
// dropped when nobody drains it; they are always logged.
func (d *Dispatcher) Errors() <-chan TaskError {
	return d.errCh
}

// Wait blocks until all dispatched tasks finish or ctx is done
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for background tasks: %w", ctx.Err())
	}
}

func (d *Dispatcher) report(taskName string, err error) {
	d.logger.WithField("task", taskName).WithError(err).Warn("background task failed")
	if d.metrics != nil {
		d.metrics.BackgroundTaskErrorsTotal.WithLabelValues(taskName).Inc()
	}
	select {
	case d.errCh <- TaskError{Task: taskName, Err: err}:
	default:
	}
}

// WorkerPool manages a fixed pool of workers that process tasks from a
// bounded queue. Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers  int
	taskName string
	timeout  time.Duration
	logger   *observability.Logger
	workCh   chan func(context.Context) error
	doneCh   chan struct{}
	errCh    chan error
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a new worker pool with a queue of queueSize tasks.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 4, 1024, "download recording", 10*time.Second, logger)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.TrySubmit(func(ctx context.Context) error {
//	    return recorder.Record(ctx, event)
//	})
func NewWorkerPool(ctx context.Context, workers, queueSize int, taskName string, timeout time.Duration, logger *observability.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if queueSize < workers {
		queueSize = workers * 2
	}

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan func(context.Context) error, queueSize),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task, blocking while the queue is full
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit adds a task without blocking. Returns ErrPoolFull when the
// queue is full.
func (p *WorkerPool) TrySubmit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrPoolFull
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks
// to drain.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool shutdown timed out after %v", timeout)
	}
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(map[string]interface{}{
				"worker": id,
				"stack":  string(debug.Stack()),
			}).Errorf("panic in %s worker: %v", p.taskName, r)
			p.pushErr(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.logger.WithField("worker", id).WithError(err).Warnf("%s task failed", p.taskName)
		p.pushErr(err)
	}
}

func (p *WorkerPool) pushErr(err error) {
	select {
	case p.errCh <- err:
	default:
	}
}

// Package bridge arbitrates between the asynchronous dispatch paths and
// blocking handler bodies. Handlers run on a fixed pool of workers; the
// dispatching goroutine only ever waits on the call's completion channel,
// so a slow or stuck handler can never wedge a transport loop.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/HyphaGroup/portcullis/internal/logger"
	"github.com/HyphaGroup/portcullis/internal/metrics"
)

var (
	// ErrTimeout is returned when a call misses its deadline, either
	// waiting for a worker or executing. The handler may still be
	// running; its result is discarded.
	ErrTimeout = errors.New("call timed out")

	// ErrNestedRun is returned when a handler calls back into the
	// bridge. Workers waiting on workers deadlocks the pool.
	ErrNestedRun = errors.New("nested bridge run")

	// ErrPanic wraps a recovered handler panic
	ErrPanic = errors.New("handler panicked")

	// ErrClosed is returned for submissions after Close
	ErrClosed = errors.New("bridge closed")
)

type ctxKey struct{}

// Task is a handler body. It receives a context that carries the
// caller's values (auth identity, request id) but not its cancellation:
// abandoning the call must not abort finalization mid-flight.
type Task func(ctx context.Context) (any, error)

type call struct {
	ctx    context.Context
	cancel context.CancelFunc
	fn     Task
	name   string
	warn   time.Duration
	done   chan outcome // buffered so a late worker never blocks
}

type outcome struct {
	result any
	err    error
}

// Bridge runs tasks on a bounded worker pool with per-call deadlines
type Bridge struct {
	queue    chan *call
	timeout  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	workers  sync.WaitGroup
}

// New creates a bridge with the given pool size, queue capacity and
// default per-call timeout. Non-positive arguments select defaults
// (GOMAXPROCS workers, queue 64, timeout 30s).
func New(workerCount, queueSize int, defaultTimeout time.Duration) *Bridge {
	if workerCount <= 0 {
		workerCount = runtime.GOMAXPROCS(0)
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}

	b := &Bridge{
		queue:   make(chan *call, queueSize),
		timeout: defaultTimeout,
		stopCh:  make(chan struct{}),
	}

	b.workers.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go b.worker()
	}

	return b
}

// Run executes fn on the pool and waits for its result. name identifies
// the call in logs and metrics. The deadline is taken from ctx when set,
// otherwise the bridge default; on expiry Run returns ErrTimeout and the
// worker finishes in the background. Run must not be called from inside
// a task.
func (b *Bridge) Run(ctx context.Context, name string, fn Task) (any, error) {
	if ctx.Value(ctxKey{}) != nil {
		return nil, ErrNestedRun
	}

	timeout := b.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	// The task context keeps the caller's values but not its cancel:
	// a dropped connection must not abort a half-done side effect.
	taskCtx := context.WithValue(context.WithoutCancel(ctx), ctxKey{}, name)
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)

	c := &call{
		ctx:    taskCtx,
		cancel: cancel,
		fn:     fn,
		name:   name,
		warn:   timeout / 2,
		done:   make(chan outcome, 1),
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b.queue <- c:
		metrics.BridgeQueueDepth.Set(float64(len(b.queue)))
	case <-timer.C:
		cancel()
		metrics.BridgeTimeouts.Inc()
		logger.WarnContext(ctx, "queue full, call rejected", "call", name)
		return nil, ErrTimeout
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	case <-b.stopCh:
		cancel()
		return nil, ErrClosed
	}

	select {
	case out := <-c.done:
		return out.result, out.err
	case <-timer.C:
		metrics.BridgeTimeouts.Inc()
		logger.WarnContext(ctx, "call deadline exceeded",
			"call", name,
			"timeout", timeout.String())
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers and fails any queued-but-unstarted calls.
// In-flight handlers run to completion.
func (b *Bridge) Close() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
		b.workers.Wait()
		for {
			select {
			case c := <-b.queue:
				c.cancel()
				c.done <- outcome{err: ErrClosed}
			default:
				return
			}
		}
	})
}

func (b *Bridge) worker() {
	defer b.workers.Done()
	for {
		select {
		case <-b.stopCh:
			return
		case c := <-b.queue:
			metrics.BridgeQueueDepth.Set(float64(len(b.queue)))
			b.execute(c)
		}
	}
}

func (b *Bridge) execute(c *call) {
	defer c.cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.BridgePanics.Inc()
			logger.ErrorContext(c.ctx, "handler panic recovered",
				"call", c.name,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
			c.done <- outcome{err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	start := time.Now()
	result, err := c.fn(c.ctx)
	if elapsed := time.Since(start); c.warn > 0 && elapsed > c.warn {
		logger.WarnContext(c.ctx, "slow call",
			"call", c.name,
			"elapsed", elapsed.String())
	}

	c.done <- outcome{result: result, err: err}
}

// Package executor runs fire-and-forget work off the request path with
// bounded retries, so background failures are logged and counted instead
// of disappearing.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjkd23/console-sub003/internal/platform/metrics"
)

var (
	ErrQueueFull = errors.New("executor queue is full")
	ErrStopped   = errors.New("executor is not running")
)

type Task struct {
	// Name groups tasks in logs and metrics, e.g. "quota.award".
	Name string
	// Key identifies this instance in logs, e.g. "g1/42".
	Key         string
	MaxAttempts int
	Run         func(ctx context.Context) error
}

type Executor struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	concurrency int
	maxAttempts int
	taskTimeout time.Duration
	backoff     Backoff

	queue   chan Task
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

type Option func(*Executor)

func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.queue = make(chan Task, n)
		}
	}
}

func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithTaskTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.taskTimeout = d
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(e *Executor) {
		if b != nil {
			e.backoff = b
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

func New(logger *slog.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		logger:      logger,
		concurrency: 4,
		maxAttempts: 5,
		taskTimeout: 30 * time.Second,
		backoff:     ExponentialJitter{Initial: time.Second, Max: time.Minute},
		queue:       make(chan Task, 256),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start launches the workers and returns immediately.
func (e *Executor) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return
	}
	e.running = true

	e.logger.Info("executor starting", "concurrency", e.concurrency, "queue_size", cap(e.queue))
	for range e.concurrency {
		e.wg.Add(1)
		go e.worker()
	}
}

// Stop stops accepting work, lets workers drain the queue and waits for
// them. Pending retries are abandoned. When ctx ends first Stop returns
// ctx.Err() and workers finish in the background.
func (e *Executor) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.logger.Info("executor stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("executor stop timed out", "pending", len(e.queue))
		return ctx.Err()
	}
}

// Run starts the executor and stops it once ctx is done.
func (e *Executor) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	e.Start()
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Stop(stopCtx)
}

// Submit enqueues task without blocking.
func (e *Executor) Submit(task Task) error {
	if task.Run == nil {
		return errors.New("task has no Run func")
	}
	if task.Name == "" {
		task.Name = "task"
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return ErrStopped
	}
	select {
	case e.queue <- task:
		e.metrics.ExecutorQueueDepth(len(e.queue))
		return nil
	default:
		e.metrics.ExecutorTask(task.Name, "rejected")
		return ErrQueueFull
	}
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for {
		select {
		case task := <-e.queue:
			e.metrics.ExecutorQueueDepth(len(e.queue))
			e.execute(task)
		case <-e.stopCh:
			for {
				select {
				case task := <-e.queue:
					e.execute(task)
				default:
					return
				}
			}
		}
	}
}

func (e *Executor) execute(task Task) {
	maxAttempts := task.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.maxAttempts
	}

	for attempt := 1; ; attempt++ {
		err := e.attempt(task)
		if err == nil {
			e.metrics.ExecutorTask(task.Name, "ok")
			if attempt > 1 {
				e.logger.Info("task succeeded after retry", "task", task.Name, "key", task.Key, "attempt", attempt)
			}
			return
		}
		if attempt >= maxAttempts {
			e.metrics.ExecutorTask(task.Name, "failed")
			e.logger.Error("task failed", "task", task.Name, "key", task.Key, "attempts", attempt, "error", err)
			return
		}

		delay := e.backoff.Delay(attempt)
		e.logger.Warn("task attempt failed, retrying", "task", task.Name, "key", task.Key, "attempt", attempt, "retry_in_ms", delay.Milliseconds(), "error", err)
		if !e.wait(delay) {
			e.metrics.ExecutorTask(task.Name, "abandoned")
			e.logger.Error("task abandoned on shutdown", "task", task.Name, "key", task.Key, "attempts", attempt, "error", err)
			return
		}
	}
}

func (e *Executor) attempt(task Task) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.taskTimeout)
	defer cancel()
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()
	return task.Run(ctx)
}

func (e *Executor) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-e.stopCh:
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.stopCh:
		return false
	}
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/photovault/pkg/logger"
)

// Worker polls Storage and dispatches claimed tasks to registered handlers.
type Worker struct {
	storage     Storage
	queues      []string
	interval    time.Duration
	lock        time.Duration
	backoff     time.Duration
	concurrency int
	log         *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
}

type WorkerOption func(*Worker)

// WithQueues sets the queues to poll.
func WithQueues(queues ...string) WorkerOption {
	return func(w *Worker) {
		if len(queues) > 0 {
			w.queues = queues
		}
	}
}

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLockTimeout sets how long a claimed task stays locked. It also bounds
// each handler run.
func WithLockTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lock = d
		}
	}
}

// WithBackoff sets the retry step; attempt n is retried after n*step.
func WithBackoff(step time.Duration) WorkerOption {
	return func(w *Worker) {
		if step >= 0 {
			w.backoff = step
		}
	}
}

// WithConcurrency sets how many tasks run at once.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWorker creates a worker reading from storage. Without options it polls
// DefaultQueue every second, runs one task at a time and locks tasks for five
// minutes. It returns ErrStorageNil when storage is nil.
//
// Example:
//
//	worker, err := queue.NewWorker(storage, cfg.WorkerOptions()...)
//	if err != nil {
//		return err
//	}
//	worker.Register(notifier.Handler())
//	go worker.Run(ctx)
func NewWorker(storage Storage, opts ...WorkerOption) (*Worker, error) {
	if storage == nil {
		return nil, ErrStorageNil
	}
	w := &Worker{
		storage:     storage,
		queues:      []string{DefaultQueue},
		interval:    time.Second,
		lock:        5 * time.Minute,
		backoff:     30 * time.Second,
		concurrency: 1,
		log:         logger.Nop(),
		handlers:    map[string]Handler{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Register adds handlers keyed by their Name. A later handler with the same
// name replaces the earlier one. Nil handlers are skipped.
func (w *Worker) Register(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Run polls until ctx is cancelled, then waits for in-flight tasks.
//
// Each tick claims due tasks until the queues are empty or every concurrency
// slot is busy. A handler error or panic schedules a retry after
// Attempts*backoff. Tasks out of attempts, and tasks with no registered
// handler, go to the dead letter queue. In-flight handlers keep running after
// cancellation, bounded by the lock timeout.
//
// Run returns ErrNoHandlers when nothing is registered and ErrAlreadyRunning
// when called twice concurrently. It returns nil after a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrAlreadyRunning
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	var wg sync.WaitGroup
	sem := make(chan struct{}, w.concurrency)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.InfoContext(ctx, "queue worker started", "queues", w.queues, "concurrency", w.concurrency)
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.log.Info("queue worker stopped")
			return nil
		case <-ticker.C:
		}

		w.drain(ctx, sem, &wg)
	}
}

// drain claims due tasks until none is left or ctx is done.
func (w *Worker) drain(ctx context.Context, sem chan struct{}, wg *sync.WaitGroup) {
	for {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		task, err := w.storage.Claim(ctx, w.queues, w.lock)
		if err != nil {
			<-sem
			if !errors.Is(err, ErrNoTask) && ctx.Err() == nil {
				w.log.ErrorContext(ctx, "claim task", logger.Error(err))
			}
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.process(context.WithoutCancel(ctx), task)
		}()
	}
}

// ProcessNext claims and processes a single due task synchronously. It
// returns ErrNoTask when nothing is due. Handler failures are recorded on the
// task, not returned. Tests use it to drain the queue deterministically.
func (w *Worker) ProcessNext(ctx context.Context) error {
	task, err := w.storage.Claim(ctx, w.queues, w.lock)
	if err != nil {
		return err
	}
	w.process(ctx, task)
	return nil
}

func (w *Worker) process(ctx context.Context, task *Task) {
	start := time.Now()
	log := w.log.With(logger.TaskID(task.ID), slog.String("task", task.Name), logger.Attempt(task.Attempts+1))

	w.mu.RLock()
	h, ok := w.handlers[task.Name]
	w.mu.RUnlock()
	if !ok {
		task.LastError = ErrHandlerNotFound.Error()
		if err := w.storage.Bury(ctx, task); err != nil {
			log.ErrorContext(ctx, "bury task", logger.Error(err))
		}
		log.ErrorContext(ctx, "no handler for task, moved to dead letter queue")
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, w.lock)
	err := safeHandle(runCtx, h, task)
	cancel()

	if err == nil {
		if err := w.storage.Ack(ctx, task); err != nil {
			log.ErrorContext(ctx, "ack task", logger.Error(err))
			return
		}
		log.DebugContext(ctx, "task completed", logger.Duration(time.Since(start)))
		return
	}

	task.Attempts++
	task.LastError = err.Error()
	if task.Attempts >= task.MaxAttempts {
		if err := w.storage.Bury(ctx, task); err != nil {
			log.ErrorContext(ctx, "bury task", logger.Error(err))
		}
		log.WarnContext(ctx, "task exhausted attempts, moved to dead letter queue", slog.String("error", task.LastError))
		return
	}

	task.RunAt = time.Now().Add(time.Duration(task.Attempts) * w.backoff)
	if err := w.storage.Retry(ctx, task); err != nil {
		log.ErrorContext(ctx, "retry task", logger.Error(err))
		return
	}
	log.WarnContext(ctx, "task failed, retry scheduled", slog.String("error", task.LastError), slog.Time("run_at", task.RunAt))
}

func safeHandle(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return h.Handle(ctx, task.Payload)
}

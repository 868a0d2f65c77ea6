// Package worker runs a single background goroutine that drains a queue of
// items through caller-supplied lifecycle hooks.
//
// A run starts with OnStart, calls OnItem once per fed item in FIFO order, and
// finishes with OnStop after Stop has been requested and the backlog drained.
// If any hook returns an error or panics the run is aborted: OnFailure is
// called instead of OnStop, and items still queued are handed to OnDiscard
// and never processed.
package worker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
)

// Hooks are the lifecycle callbacks of a Worker. All hooks run on the
// worker's goroutine. Nil hooks are skipped.
type Hooks[T any] struct {
	OnStart   func() error
	OnItem    func(item T) error
	OnStop    func() error
	OnFailure func(err error)
	// OnDiscard receives items dropped by a failed run, e.g. to recycle buffers.
	OnDiscard func(item T)
}

// Worker owns at most one active background run at a time.
type Worker[T any] struct {
	name    string
	hooks   Hooks[T]
	log     logger.Logger
	metrics *metrics.PipelineMetrics

	startMu sync.Mutex // serializes Start
	mu      sync.Mutex // guards queue and done
	queue   *Queue[T]
	done    chan struct{}
	active  atomic.Bool
}

// Option configures a Worker.
type Option[T any] func(*Worker[T])

// WithLogger overrides the package logger.
func WithLogger[T any](l logger.Logger) Option[T] {
	return func(w *Worker[T]) {
		if l != nil {
			w.log = l
		}
	}
}

// WithMetrics reports processed items and run outcomes.
func WithMetrics[T any](m *metrics.PipelineMetrics) Option[T] {
	return func(w *Worker[T]) {
		w.metrics = m
	}
}

// New creates an idle worker. name identifies it in logs and metrics.
func New[T any](name string, hooks Hooks[T], opts ...Option[T]) *Worker[T] {
	w := &Worker[T]{
		name:  name,
		hooks: hooks,
		log:   GetLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.String("worker", name))
	return w
}

// Start begins a new run. If a previous run is still draining, Start blocks
// until it has terminated so two runs never share hook state. A run that was
// never stopped is waited for indefinitely, so callers Stop before restarting.
func (w *Worker[T]) Start() {
	w.startMu.Lock()
	defer w.startMu.Unlock()

	w.Wait()

	q := NewQueue[T]()
	done := make(chan struct{})

	w.mu.Lock()
	w.queue = q
	w.done = done
	w.mu.Unlock()

	w.active.Store(true)
	go w.run(q, done)
}

// Feed enqueues item for the current run without blocking. It reports false,
// and does nothing, before Start or after Stop.
func (w *Worker[T]) Feed(item T) bool {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q == nil {
		return false
	}
	return q.Push(item)
}

// Stop requests the current run to finish after draining its backlog. It does
// not wait; use Wait for that. Repeated calls are no-ops.
func (w *Worker[T]) Stop() {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q != nil {
		q.Complete()
	}
}

// IsActive reports whether a run is in progress, including draining and the
// final OnStop or OnFailure call.
func (w *Worker[T]) IsActive() bool {
	return w.active.Load()
}

// Wait blocks until the current run, if any, has terminated.
func (w *Worker[T]) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Backlog returns the number of items waiting in the current run.
func (w *Worker[T]) Backlog() int {
	w.mu.Lock()
	q := w.queue
	w.mu.Unlock()

	if q == nil {
		return 0
	}
	return q.Len()
}

func (w *Worker[T]) run(q *Queue[T], done chan struct{}) {
	defer close(done)
	defer w.active.Store(false)

	w.log.Debug("worker run started")

	err := w.execute(q)
	if err == nil {
		w.metrics.RecordWorkerRun(w.name, metrics.OutcomeStopped)
		w.log.Debug("worker run stopped")
		return
	}

	// Fail fast: nothing queued behind the failure is processed.
	q.Complete()
	discarded := 0
	for {
		item, ok := q.TryPop()
		if !ok {
			break
		}
		discarded++
		if w.hooks.OnDiscard != nil {
			w.hooks.OnDiscard(item)
		}
	}
	w.metrics.SetWorkerBacklog(w.name, 0)
	w.metrics.RecordWorkerRun(w.name, metrics.OutcomeFailed)

	w.log.Warn("worker run failed",
		logger.Error(err),
		logger.Int("discarded_items", discarded))

	if w.hooks.OnFailure != nil {
		_ = w.protect("failure", func() error {
			w.hooks.OnFailure(err)
			return nil
		})
	}
}

func (w *Worker[T]) execute(q *Queue[T]) error {
	if w.hooks.OnStart != nil {
		if err := w.protect("start", w.hooks.OnStart); err != nil {
			return err
		}
	}

	for {
		item, ok := q.Pop()
		if !ok {
			break
		}
		if w.hooks.OnItem != nil {
			if err := w.protect("item", func() error { return w.hooks.OnItem(item) }); err != nil {
				return err
			}
		}
		w.metrics.RecordWorkerItem(w.name)
		w.metrics.SetWorkerBacklog(w.name, q.Len())
	}

	if w.hooks.OnStop != nil {
		return w.protect("stop", w.hooks.OnStop)
	}
	return nil
}

// protect runs fn, converting a panic into an error.
func (w *Worker[T]) protect(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(fmt.Errorf("worker %s panicked during %s: %v", w.name, stage, r)).
				Component("worker").
				Category(errors.CategoryEngineFailure).
				Context("stage", stage).
				Build()
		}
	}()
	return fn()
}

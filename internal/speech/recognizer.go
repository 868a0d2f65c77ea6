// Package speech wires audio sources, recognition sessions and model
// providers into a polled recognition loop, and builds voice commands and
// activity detection on top of it.
package speech

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/modelprovider"
	"github.com/c43892/storyteller/internal/observability/metrics"
	"github.com/c43892/storyteller/internal/recognizer"
	"github.com/c43892/storyteller/internal/speechsource"
)

// DefaultTickInterval is the polling interval used by Run when none is given.
const DefaultTickInterval = 10 * time.Millisecond

// Config configures a Recognizer. Fields are read when Start is called.
type Config struct {
	Provider modelprovider.Provider
	Source   speechsource.Source

	// Vocabulary restricts the output to these words; "[unk]" admits
	// anything else as unknown.
	Vocabulary         []string
	Words              bool
	MaxAlternatives    int
	AllowEmptyPartials bool

	Pool            *bufferpool.Pool[int16]
	Logger          logger.Logger
	Metrics         *metrics.RecognizerMetrics
	PipelineMetrics *metrics.PipelineMetrics
}

// run is one Start..Stop cycle.
type run struct {
	session     *recognizer.Session
	dried       atomic.Bool
	unsubscribe func()
}

// Recognizer feeds a Source into a recognition session and dispatches the
// session's results to handlers on each Tick. Start, Stop and Tick are
// serialized; handlers run without the lock held and may call Stop.
type Recognizer struct {
	log logger.Logger

	mu          sync.Mutex
	cfg         Config
	current     *run
	recognizing bool

	handlersMu sync.RWMutex
	handlers   []subscription
	nextID     uint64
}

// subscription is a handler in subscription order.
type subscription struct {
	id      uint64
	handler Handler
}

// New creates a stopped Recognizer.
func New(cfg Config) *Recognizer {
	r := &Recognizer{
		cfg: cfg,
		log: cfg.Logger,
	}
	if r.log == nil {
		r.log = GetLogger()
	}
	return r
}

// SetVocabulary replaces the vocabulary used by the next Start.
func (r *Recognizer) SetVocabulary(words []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Vocabulary = slices.Clone(words)
}

// SetWords toggles per-word details for the next Start.
func (r *Recognizer) SetWords(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.Words = enabled
}

// SetAllowEmptyPartials toggles empty partial results for the next Start.
func (r *Recognizer) SetAllowEmptyPartials(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.AllowEmptyPartials = enabled
}

// Subscribe registers h and returns a function removing it.
func (r *Recognizer) Subscribe(h Handler) (unsubscribe func()) {
	r.handlersMu.Lock()
	defer r.handlersMu.Unlock()
	id := r.nextID
	r.nextID++
	r.handlers = append(r.handlers, subscription{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			r.handlersMu.Lock()
			r.handlers = slices.DeleteFunc(r.handlers, func(s subscription) bool { return s.id == id })
			r.handlersMu.Unlock()
		})
	}
}

// IsRecognizing reports whether a run is in progress.
func (r *Recognizer) IsRecognizing() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recognizing
}

// Start stops any current run and starts a new one: a fresh session on the
// provider's model, subscribed to the source, followed by the producer.
func (r *Recognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recognizing {
		r.stopLocked()
	}
	if err := r.validateLocked(); err != nil {
		return err
	}

	// The previous session releases its engine once its backlog is drained.
	if prev := r.current; prev != nil {
		prev.session.Wait()
	}

	cfg := r.cfg
	session := recognizer.NewSession(cfg.Provider.Model(), recognizer.Options{
		Vocabulary:         recognizer.BuildVocabulary(cfg.Vocabulary),
		Words:              cfg.Words,
		MaxAlternatives:    cfg.MaxAlternatives,
		AllowEmptyPartials: cfg.AllowEmptyPartials,
		Pool:               cfg.Pool,
		Logger:             r.log,
		Metrics:            cfg.Metrics,
		PipelineMetrics:    cfg.PipelineMetrics,
	})
	cur := &run{session: session}
	cur.unsubscribe = cfg.Source.Subscribe(speechsource.ListenerFuncs{
		OnSamples: func(samples []int16, length int) {
			if !session.IsRecognizing() {
				return
			}
			if err := session.EnqueueSamples(samples, length); err != nil && !errors.Is(err, errors.ErrState) {
				r.log.Warn("failed to enqueue samples", logger.Int("length", length), logger.Error(err))
			}
		},
		OnDried: func() {
			cur.dried.Store(true)
			session.Stop()
		},
	})

	if err := session.Start(cfg.Source.SampleRate()); err != nil {
		cur.unsubscribe()
		return err
	}
	r.current, r.recognizing = cur, true

	if err := cfg.Source.StartProduce(); err != nil {
		r.stopLocked()
		return errors.New(err).
			Component("speech").
			Category(errors.CategoryAudioSource).
			Context("operation", "start_produce").
			Build()
	}

	r.log.Info("recognition run started", logger.Int("sample_rate", cfg.Source.SampleRate()))
	return nil
}

// Stop ends the current run without signalling Finished or Crashed. The
// session drains in the background; Wait joins it.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
}

// Wait blocks until the session of the last run is idle.
func (r *Recognizer) Wait() {
	r.mu.Lock()
	cur := r.current
	r.mu.Unlock()
	if cur != nil {
		cur.session.Wait()
	}
}

// Tick polls at most one result and dispatches it. Once the session has
// ended and its results are consumed, the run is stopped and OnFinished or
// OnCrashed is dispatched.
func (r *Recognizer) Tick() {
	dispatch := r.poll()
	if dispatch != nil {
		for _, h := range r.snapshot() {
			dispatch(h)
		}
	}
	for _, h := range r.snapshot() {
		if t, ok := h.(Ticker); ok {
			t.Tick()
		}
	}
}

// Run ticks every interval until ctx is done, then stops the current run.
func (r *Recognizer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			return nil
		case <-ticker.C:
			r.Tick()
		}
	}
}

func (r *Recognizer) poll() func(Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.recognizing {
		return nil
	}
	session := r.current.session

	// Check activity first: an idle session has already queued everything.
	active := session.IsRecognizing()
	res, ok := session.NextResult()
	if ok {
		switch v := res.(type) {
		case recognizer.PartialResult:
			if v.Text == "" && !r.cfg.AllowEmptyPartials {
				return nil
			}
			return func(h Handler) { h.OnPartial(v) }
		case recognizer.FinalResult:
			return func(h Handler) { h.OnFinal(v) }
		}
		return nil
	}
	if active {
		return nil
	}

	dried := r.current.dried.Load()
	err := session.Err()
	if f, ok := r.cfg.Source.(speechsource.Faulted); ok && err == nil && dried {
		err = f.Err()
	}
	r.stopLocked()

	if err == nil && dried {
		r.log.Info("recognition finished")
		return func(h Handler) { h.OnFinished() }
	}
	if err == nil {
		err = errors.Newf("recognition ended before the source dried").
			Component("speech").
			Category(errors.CategoryState).
			Build()
	}
	r.log.Error("recognition crashed", logger.Error(err))
	return func(h Handler) { h.OnCrashed(err) }
}

func (r *Recognizer) stopLocked() {
	cur := r.current
	if cur == nil || !r.recognizing {
		return
	}
	if !cur.dried.Load() {
		r.cfg.Source.StopProduce()
	}
	cur.session.Stop()
	cur.unsubscribe()
	r.recognizing = false
}

func (r *Recognizer) validateLocked() error {
	switch {
	case r.cfg.Provider == nil:
		return errors.Newf("model provider not set").
			Component("speech").
			Category(errors.CategoryInvalidArgument).
			Build()
	case r.cfg.Provider.Model() == nil:
		return errors.Newf("model provider has no model loaded").
			Component("speech").
			Category(errors.CategoryState).
			Build()
	case r.cfg.Source == nil:
		return errors.Newf("speech source not set").
			Component("speech").
			Category(errors.CategoryInvalidArgument).
			Build()
	case r.cfg.Source.SampleRate() <= 0:
		return errors.Newf("speech source sample rate %d cannot be used", r.cfg.Source.SampleRate()).
			Component("speech").
			Category(errors.CategoryInvalidArgument).
			Context("sample_rate", r.cfg.Source.SampleRate()).
			Build()
	}
	return nil
}

func (r *Recognizer) snapshot() []Handler {
	r.handlersMu.RLock()
	defer r.handlersMu.RUnlock()
	out := make([]Handler, len(r.handlers))
	for i, s := range r.handlers {
		out[i] = s.handler
	}
	return out
}

// Package recognizer drives a speech recognition engine over a stream of
// pooled audio buffers and exposes partial and final transcripts through a
// non-blocking output queue.
package recognizer

import (
	"sync"
	"time"

	"github.com/c43892/storyteller/internal/bufferpool"
	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
	"github.com/c43892/storyteller/internal/worker"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateDraining
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "idle"
	}
}

// Options configures a Session.
type Options struct {
	// Vocabulary restricts the output, see BuildVocabulary.
	Vocabulary string
	// Words requests per-word details in final results.
	Words bool
	// MaxAlternatives enables multi-alternative results when positive.
	MaxAlternatives int
	// AllowEmptyPartials enqueues partial results with no text. Activity
	// detection relies on them to notice silence.
	AllowEmptyPartials bool

	Pool            *bufferpool.Pool[int16]
	Logger          logger.Logger
	Metrics         *metrics.RecognizerMetrics
	PipelineMetrics *metrics.PipelineMetrics
}

// chunk is a pooled sample buffer and the number of valid samples in it.
type chunk struct {
	samples []int16
	length  int
}

// Session binds one model to a recognition run. Samples are accepted on any
// goroutine, the engine runs on the session's worker goroutine, and results
// are polled with NextResult.
type Session struct {
	model   Model
	opts    Options
	log     logger.Logger
	metrics *metrics.RecognizerMetrics

	worker  *worker.Worker[chunk]
	results *worker.Queue[Result]

	mu       sync.Mutex
	config   EngineConfig
	stopping bool
	err      error

	// Owned by the worker goroutine.
	engine  Engine
	started time.Time
}

// NewSession creates an idle session for model.
func NewSession(model Model, opts Options) *Session {
	s := &Session{
		model:   model,
		opts:    opts,
		log:     opts.Logger,
		metrics: opts.Metrics,
		results: worker.NewQueue[Result](),
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	workerOpts := []worker.Option[chunk]{worker.WithLogger[chunk](s.log)}
	if opts.PipelineMetrics != nil {
		workerOpts = append(workerOpts, worker.WithMetrics[chunk](opts.PipelineMetrics))
	}
	s.worker = worker.New("recognizer", worker.Hooks[chunk]{
		OnStart:   s.onStart,
		OnItem:    s.onItem,
		OnStop:    s.onStop,
		OnFailure: s.onFailure,
		OnDiscard: s.recycle,
	}, workerOpts...)

	return s
}

// Start begins recognition at sampleRate. A session that is still draining a
// previous run is waited for. Starting a running session fails with a state
// error and leaves the run untouched.
func (s *Session) Start(sampleRate int) error {
	if s.model == nil {
		return errors.Newf("session has no model").
			Component("recognizer").
			Category(errors.CategoryInvalidArgument).
			Build()
	}
	if sampleRate <= 0 {
		return errors.Newf("invalid sample rate: %d", sampleRate).
			Component("recognizer").
			Category(errors.CategoryInvalidArgument).
			Context("sample_rate", sampleRate).
			Build()
	}
	if s.State() == StateRunning {
		return errors.Newf("recognition session already running").
			Component("recognizer").
			Category(errors.CategoryState).
			Build()
	}

	// Join the previous run before resetting its bookkeeping.
	s.worker.Wait()

	cfg := EngineConfig{
		SampleRate:      sampleRate,
		Vocabulary:      s.opts.Vocabulary,
		Words:           s.opts.Words,
		MaxAlternatives: s.opts.MaxAlternatives,
	}

	s.mu.Lock()
	s.config = cfg
	s.stopping = false
	s.err = nil
	s.mu.Unlock()

	s.worker.Start()

	s.metrics.SessionStarted()
	s.log.Info("recognition started",
		logger.Int("sample_rate", sampleRate),
		logger.Bool("restricted_vocabulary", cfg.Vocabulary != ""),
		logger.Int("max_alternatives", cfg.MaxAlternatives))
	return nil
}

// EnqueueSamples copies the first length samples into a pooled buffer and
// hands it to the engine goroutine. It never waits for the engine.
func (s *Session) EnqueueSamples(samples []int16, length int) error {
	if length < 0 || length > len(samples) {
		return errors.Newf("sample length %d out of range [0, %d]", length, len(samples)).
			Component("recognizer").
			Category(errors.CategoryInvalidArgument).
			Context("length", length).
			Build()
	}
	if state := s.State(); state != StateRunning {
		return errors.Newf("cannot enqueue samples while %s", state).
			Component("recognizer").
			Category(errors.CategoryState).
			Build()
	}

	buf, err := s.rent(length)
	if err != nil {
		return err
	}
	copy(buf, samples[:length])

	if !s.worker.Feed(chunk{samples: buf, length: length}) {
		// Stopped or failed between the state check and the feed.
		s.recycle(chunk{samples: buf})
		return errors.Newf("recognition session is not accepting samples").
			Component("recognizer").
			Category(errors.CategoryState).
			Build()
	}
	s.metrics.AddSamples(length)
	return nil
}

// Stop asks the engine goroutine to process the backlog, flush a final result
// and release the engine. It returns immediately and is safe to repeat.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopping || !s.worker.IsActive() {
		s.mu.Unlock()
		return
	}
	s.stopping = true
	s.mu.Unlock()

	s.worker.Stop()
	s.log.Debug("recognition stop requested", logger.Int("backlog", s.worker.Backlog()))
}

// Wait blocks until the current run has finished draining or failed.
func (s *Session) Wait() {
	s.worker.Wait()
}

// NextResult pops the oldest result without blocking.
func (s *Session) NextResult() (Result, bool) {
	return s.results.TryPop()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case !s.worker.IsActive():
		return StateIdle
	case s.stopping:
		return StateDraining
	default:
		return StateRunning
	}
}

// IsRecognizing reports whether a run is in progress, including draining.
func (s *Session) IsRecognizing() bool {
	return s.worker.IsActive()
}

// Err returns the failure that ended the last run, or nil after a clean stop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) rent(length int) ([]int16, error) {
	if s.opts.Pool == nil {
		return make([]int16, length), nil
	}
	return s.opts.Pool.Rent(length)
}

func (s *Session) recycle(c chunk) {
	if s.opts.Pool != nil {
		s.opts.Pool.Return(c.samples)
	}
}

func (s *Session) onStart() error {
	s.mu.Lock()
	cfg := s.config
	s.mu.Unlock()

	engine, err := s.model.NewEngine(cfg)
	if err != nil {
		return err
	}
	s.engine = engine
	s.started = time.Now()
	return nil
}

func (s *Session) onItem(c chunk) error {
	start := time.Now()
	boundary, err := s.engine.AcceptWaveform(c.samples[:c.length])
	s.recycle(c)
	s.metrics.ObserveEngineStep(time.Since(start))
	if err != nil {
		return err
	}

	if boundary {
		res, err := decodeFinal(s.engine.Result())
		if err != nil {
			return err
		}
		s.emitFinal(res)
		return nil
	}

	res, err := decodePartial(s.engine.PartialResult())
	if err != nil {
		return err
	}
	if res.Text != "" || s.opts.AllowEmptyPartials {
		s.results.Push(res)
		s.metrics.RecordResult(metrics.KindPartial)
	}
	return nil
}

func (s *Session) onStop() error {
	raw := s.engine.FinalResult()
	s.closeEngine()

	res, err := decodeFinal(raw)
	if err != nil {
		return err
	}
	s.emitFinal(res)

	s.metrics.SessionEnded()
	s.metrics.RecordSession(metrics.OutcomeFinished)
	s.log.Info("recognition stopped", logger.Duration("duration", time.Since(s.started)))
	return nil
}

func (s *Session) onFailure(err error) {
	s.closeEngine()

	if !errors.IsCategory(err, errors.CategoryEngineFailure) {
		err = errors.New(err).
			Component("recognizer").
			Category(errors.CategoryEngineFailure).
			Build()
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.metrics.SessionEnded()
	s.metrics.RecordSession(metrics.OutcomeCrashed)
	s.log.Error("recognition crashed", logger.Error(err))
}

// emitFinal enqueues res unless its text is empty.
func (s *Session) emitFinal(res FinalResult) {
	if res.Text == "" {
		return
	}
	s.results.Push(res)
	s.metrics.RecordResult(metrics.KindFinal)
}

func (s *Session) closeEngine() {
	if s.engine == nil {
		return
	}
	if err := s.engine.Close(); err != nil {
		s.log.Warn("failed to release engine", logger.Error(err))
	}
	s.engine = nil
}

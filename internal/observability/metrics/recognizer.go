package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecognizerMetrics covers recognition sessions and the model repository.
type RecognizerMetrics struct {
	resultsTotal        *prometheus.CounterVec
	sessionsTotal       *prometheus.CounterVec
	samplesEnqueued     prometheus.Counter
	engineStepDuration  prometheus.Histogram
	modelOperations     *prometheus.CounterVec
	modelLoadDuration   prometheus.Histogram
	activeSessionsGauge prometheus.Gauge
}

// NewRecognizerMetrics creates and registers recognizer metrics on registerer.
func NewRecognizerMetrics(registerer prometheus.Registerer) (*RecognizerMetrics, error) {
	m := &RecognizerMetrics{}
	m.initMetrics()
	if err := registerer.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register recognizer metrics: %w", err)
	}
	return m, nil
}

func (m *RecognizerMetrics) initMetrics() {
	m.resultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_recognition_results_total",
			Help: "Total number of recognition results produced",
		},
		[]string{"kind"}, // kind: partial, final
	)

	m.sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_recognition_sessions_total",
			Help: "Total number of recognition sessions by terminal outcome",
		},
		[]string{"outcome"}, // outcome: finished, crashed
	)

	m.samplesEnqueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "storyteller_recognition_samples_enqueued_total",
		Help: "Total number of audio samples handed to recognition sessions",
	})

	m.engineStepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyteller_engine_step_duration_seconds",
		Help:    "Time spent in a single engine AcceptWaveform call",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	})

	m.modelOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_model_operations_total",
			Help: "Total number of model repository operations",
		},
		[]string{"operation", "status"},
	)

	m.modelLoadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "storyteller_model_load_duration_seconds",
		Help:    "Time taken to load a recognition model",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	m.activeSessionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storyteller_recognition_active_sessions",
		Help: "Number of recognition sessions currently running or draining",
	})
}

// RecordResult counts one result of the given kind.
func (m *RecognizerMetrics) RecordResult(kind string) {
	if m == nil {
		return
	}
	m.resultsTotal.WithLabelValues(kind).Inc()
}

// RecordSession counts a terminal session outcome.
func (m *RecognizerMetrics) RecordSession(outcome string) {
	if m == nil {
		return
	}
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

// AddSamples counts enqueued samples.
func (m *RecognizerMetrics) AddSamples(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.samplesEnqueued.Add(float64(n))
}

// ObserveEngineStep records the duration of one engine step.
func (m *RecognizerMetrics) ObserveEngineStep(d time.Duration) {
	if m == nil {
		return
	}
	m.engineStepDuration.Observe(d.Seconds())
}

// RecordModelOperation counts a repository operation with status success or error.
func (m *RecognizerMetrics) RecordModelOperation(operation, status string) {
	if m == nil {
		return
	}
	m.modelOperations.WithLabelValues(operation, status).Inc()
}

// ObserveModelLoad records how long loading a model took.
func (m *RecognizerMetrics) ObserveModelLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.modelLoadDuration.Observe(d.Seconds())
}

// SessionStarted and SessionEnded track the active session gauge.
func (m *RecognizerMetrics) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessionsGauge.Inc()
}

func (m *RecognizerMetrics) SessionEnded() {
	if m == nil {
		return
	}
	m.activeSessionsGauge.Dec()
}

// Describe implements the prometheus.Collector interface.
func (m *RecognizerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.resultsTotal.Describe(ch)
	m.sessionsTotal.Describe(ch)
	ch <- m.samplesEnqueued.Desc()
	ch <- m.engineStepDuration.Desc()
	m.modelOperations.Describe(ch)
	ch <- m.modelLoadDuration.Desc()
	ch <- m.activeSessionsGauge.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *RecognizerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.resultsTotal.Collect(ch)
	m.sessionsTotal.Collect(ch)
	ch <- m.samplesEnqueued
	ch <- m.engineStepDuration
	m.modelOperations.Collect(ch)
	ch <- m.modelLoadDuration
	ch <- m.activeSessionsGauge
}

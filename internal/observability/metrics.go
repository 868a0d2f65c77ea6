// Package observability exposes storyteller's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c43892/storyteller/internal/errors"
	"github.com/c43892/storyteller/internal/logger"
	"github.com/c43892/storyteller/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry   *prometheus.Registry
	Pipeline   *metrics.PipelineMetrics
	Recognizer *metrics.RecognizerMetrics
	MQTT       *metrics.MQTTMetrics
}

// NewMetrics creates a registry with every storyteller collector plus the Go
// runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, metricsError(err, "go")
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, metricsError(err, "process")
	}

	pipeline, err := metrics.NewPipelineMetrics(registry)
	if err != nil {
		return nil, metricsError(err, "pipeline")
	}
	recognizer, err := metrics.NewRecognizerMetrics(registry)
	if err != nil {
		return nil, metricsError(err, "recognizer")
	}
	mqtt, err := metrics.NewMQTTMetrics(registry)
	if err != nil {
		return nil, metricsError(err, "mqtt")
	}

	return &Metrics{
		registry:   registry,
		Pipeline:   pipeline,
		Recognizer: recognizer,
		MQTT:       mqtt,
	}, nil
}

// Registry returns the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterHandlers registers the metrics endpoint with the provided mux.
func (m *Metrics) RegisterHandlers(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      promErrorLog{},
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
}

// promErrorLog routes promhttp errors to the package logger.
type promErrorLog struct{}

func (promErrorLog) Println(v ...any) {
	GetLogger().Error("metrics handler error", logger.Any("details", v))
}

func metricsError(err error, collector string) error {
	return errors.New(err).
		Component("observability").
		Category(errors.CategorySystem).
		Context("collector", collector).
		Build()
}

package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics covers the buffer pool and the background workers that
// move audio and commands between goroutines.
type PipelineMetrics struct {
	poolRentsTotal   *prometheus.CounterVec
	poolReturnsTotal *prometheus.CounterVec

	workerItemsTotal *prometheus.CounterVec
	workerRunsTotal  *prometheus.CounterVec
	workerBacklog    *prometheus.GaugeVec
}

// NewPipelineMetrics creates and registers pipeline metrics on registerer.
func NewPipelineMetrics(registerer prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registerer.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.poolRentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_pool_rents_total",
			Help: "Total number of buffer rentals by outcome",
		},
		[]string{"pool", "result"}, // result: hit, miss, unpooled
	)

	m.poolReturnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_pool_returns_total",
			Help: "Total number of buffer returns by outcome",
		},
		[]string{"pool", "result"}, // result: pooled, dropped, ignored
	)

	m.workerItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_worker_items_total",
			Help: "Total number of items processed by background workers",
		},
		[]string{"worker"},
	)

	m.workerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storyteller_worker_runs_total",
			Help: "Total number of completed worker runs by outcome",
		},
		[]string{"worker", "outcome"}, // outcome: stopped, failed
	)

	m.workerBacklog = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storyteller_worker_backlog_items",
			Help: "Items queued but not yet processed by a worker",
		},
		[]string{"worker"},
	)
}

// RecordRent counts one rental with result hit, miss or unpooled.
func (m *PipelineMetrics) RecordRent(pool, result string) {
	if m == nil {
		return
	}
	m.poolRentsTotal.WithLabelValues(pool, result).Inc()
}

// RecordReturn counts one return with result pooled, dropped or ignored.
func (m *PipelineMetrics) RecordReturn(pool, result string) {
	if m == nil {
		return
	}
	m.poolReturnsTotal.WithLabelValues(pool, result).Inc()
}

// RecordWorkerItem counts one processed item.
func (m *PipelineMetrics) RecordWorkerItem(worker string) {
	if m == nil {
		return
	}
	m.workerItemsTotal.WithLabelValues(worker).Inc()
}

// RecordWorkerRun counts a finished run.
func (m *PipelineMetrics) RecordWorkerRun(worker, outcome string) {
	if m == nil {
		return
	}
	m.workerRunsTotal.WithLabelValues(worker, outcome).Inc()
}

// SetWorkerBacklog reports the current queue depth of a worker.
func (m *PipelineMetrics) SetWorkerBacklog(worker string, depth int) {
	if m == nil {
		return
	}
	m.workerBacklog.WithLabelValues(worker).Set(float64(depth))
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.poolRentsTotal.Describe(ch)
	m.poolReturnsTotal.Describe(ch)
	m.workerItemsTotal.Describe(ch)
	m.workerRunsTotal.Describe(ch)
	m.workerBacklog.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.poolRentsTotal.Collect(ch)
	m.poolReturnsTotal.Collect(ch)
	m.workerItemsTotal.Collect(ch)
	m.workerRunsTotal.Collect(ch)
	m.workerBacklog.Collect(ch)
}

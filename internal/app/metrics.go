package app

import (
	"time"

	"github.com/evanschultz/indexplan/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "indexplan"

// Metrics is a prometheus.Collector for work-plan execution.
type Metrics struct {
	events        prometheus.Counter
	operations    *prometheus.CounterVec
	batches       prometheus.Counter
	flushDuration prometheus.Histogram
}

// NewMetrics returns a new Metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		events: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "events_planned_total",
				Help:      "The number of change events fed into work plans.",
			},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "operations_emitted_total",
				Help:      "The number of index operations emitted by work plans.",
			}, []string{"kind"},
		),
		batches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_applied_total",
				Help:      "The number of operation batches applied to the index.",
			},
		),
		flushDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "flush_duration_seconds",
				Help:      "The time taken to flush the pending journal.",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.events.Describe(ch)
	m.operations.Describe(ch)
	m.batches.Describe(ch)
	m.flushDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.events.Collect(ch)
	m.operations.Collect(ch)
	m.batches.Collect(ch)
	m.flushDuration.Collect(ch)
}

func (m *Metrics) observeEvent() {
	if m == nil {
		return
	}
	m.events.Inc()
}

func (m *Metrics) observeBatch(ops []domain.Operation) {
	if m == nil {
		return
	}
	m.batches.Inc()
	for _, op := range ops {
		m.operations.WithLabelValues(string(op.Kind)).Inc()
	}
}

func (m *Metrics) observeFlush(started, finished time.Time) {
	if m == nil {
		return
	}
	m.flushDuration.Observe(finished.Sub(started).Seconds())
}

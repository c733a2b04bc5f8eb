package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CivityNL/ckanext-tracker/pkg/engine"
)

// Metrics provides the Prometheus metrics of the tracker daemon. It
// implements engine.DispatchObserver.
type Metrics struct {
	config MetricsConfig

	dispatches      *prometheus.CounterVec
	enqueueErrors   *prometheus.CounterVec
	enqueueDuration *prometheus.HistogramVec
	events          *prometheus.CounterVec
	reports         *prometheus.CounterVec

	registry *prometheus.Registry
}

var _ engine.DispatchObserver = (*Metrics)(nil)

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.EnqueueBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_dispatch_total",
				Help:      "Total number of tracker decisions run through the dispatch pipeline",
			},
			[]string{"tracker", "kind", "outcome"},
		),
		enqueueErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_enqueue_errors_total",
				Help:      "Total number of jobs the queue refused",
			},
			[]string{"tracker"},
		),
		enqueueDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tracker_enqueue_duration_seconds",
				Help:      "Duration of enqueue calls in seconds",
				Buckets:   buckets,
			},
			[]string{"tracker"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_events_total",
				Help:      "Total number of host lifecycle events received",
			},
			[]string{"action", "kind"},
		),
		reports: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tracker_worker_reports_total",
				Help:      "Total number of task status reports from workers",
			},
			[]string{"tracker", "state"},
		),
	}

	registry.MustRegister(
		m.dispatches,
		m.enqueueErrors,
		m.enqueueDuration,
		m.events,
		m.reports,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// ObserveDispatch counts one dispatch by outcome.
func (m *Metrics) ObserveDispatch(tracker string, kind engine.EntityKind, outcome engine.DispatchOutcome) {
	if m.dispatches == nil {
		return
	}
	m.dispatches.WithLabelValues(tracker, string(kind), string(outcome)).Inc()
}

// ObserveEnqueue records the latency of one enqueue call and counts failures.
func (m *Metrics) ObserveEnqueue(tracker string, elapsed time.Duration, err error) {
	if m.enqueueDuration == nil {
		return
	}
	m.enqueueDuration.WithLabelValues(tracker).Observe(elapsed.Seconds())
	if err != nil {
		m.enqueueErrors.WithLabelValues(tracker).Inc()
	}
}

// RecordEvent counts one host lifecycle event.
func (m *Metrics) RecordEvent(action, kind string) {
	if m.events == nil {
		return
	}
	m.events.WithLabelValues(action, kind).Inc()
}

// RecordReport counts one worker status report.
func (m *Metrics) RecordReport(tracker, state string) {
	if m.reports == nil {
		return
	}
	m.reports.WithLabelValues(tracker, state).Inc()
}

// Registry returns the registry metrics are registered on, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the HTTP handler serving the metrics.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Package metrics exposes Prometheus collectors for the ingestion pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chronos_radar"

// Metrics bundles every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	events        *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	storeSize     prometheus.Gauge
	state         prometheus.Gauge
	transitions   *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	lastHeartbeat prometheus.Gauge
	archiveErrors prometheus.Counter
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{Registry: prometheus.NewRegistry()}
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Events seen by the pipeline by kind and outcome",
	}, []string{"kind", "outcome"})
	m.evictions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evictions_total",
		Help:      "Entities removed from the working set by reason",
	}, []string{"reason"})
	m.storeSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "working_set_entities",
		Help:      "Entities currently in the working set",
	})
	m.state = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connection_state",
		Help:      "Ingestion state: 0 disconnected, 1 connecting, 2 live, 3 degraded, 4 closed",
	})
	m.transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "state_transitions_total",
		Help:      "Connection state transitions",
	}, []string{"from", "to"})
	m.fetchFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Failed pull queries by purpose",
	}, []string{"purpose"})
	m.lastHeartbeat = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_heartbeat_timestamp_seconds",
		Help:      "Unix time of the last heartbeat received",
	})
	m.archiveErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archive_errors_total",
		Help:      "Failed archive writes",
	})
	m.Registry.MustRegister(
		m.events, m.evictions, m.storeSize, m.state, m.transitions,
		m.fetchFailures, m.lastHeartbeat, m.archiveErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Event(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Evicted(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) StoreSize(n int) {
	if m == nil {
		return
	}
	m.storeSize.Set(float64(n))
}

func (m *Metrics) Transition(from, to string, code int) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.state.Set(float64(code))
}

func (m *Metrics) FetchFailed(purpose string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(purpose).Inc()
}

func (m *Metrics) Heartbeat(at time.Time) {
	if m == nil {
		return
	}
	m.lastHeartbeat.Set(float64(at.UnixNano()) / 1e9)
}

func (m *Metrics) ArchiveFailed() {
	if m == nil {
		return
	}
	m.archiveErrors.Inc()
}

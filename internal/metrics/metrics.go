// Package metrics defines the prometheus collectors exported on /metrics.
//
// Each server owns a Metrics value with its own registry, so several
// servers can run in one process (as they do in tests). All recording
// methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "unitao"

// Metrics holds the collectors of one server.
type Metrics struct {
	Registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	journalEntries *prometheus.CounterVec
	indexEntries   *prometheus.CounterVec
	indexRetries   prometheus.Counter
	syncs          *prometheus.CounterVec
	schemaTypes    prometheus.Gauge
}

// New creates and registers the collectors. service labels every HTTP
// series ("data" or "inventory").
func New(service string) *Metrics {
	constLabels := prometheus.Labels{"service": service}
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "HTTP requests by route pattern and status code.",
			ConstLabels: constLabels,
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   Namespace,
			Subsystem:   "http",
			Name:        "request_duration_seconds",
			Help:        "HTTP request latency by route pattern.",
			ConstLabels: constLabels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "route"}),
		journalEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "journal",
			Name:        "entries_total",
			Help:        "Journal entries appended by op.",
			ConstLabels: constLabels,
		}, []string{"op"}),
		indexEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "cmtindex",
			Name:        "entries_total",
			Help:        "Journal entries handled by the CmtIndex engine by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		indexRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "cmtindex",
			Name:        "retries_total",
			Help:        "Transient CmtIndex failures that were retried.",
			ConstLabels: constLabels,
		}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   Namespace,
			Subsystem:   "federation",
			Name:        "store_syncs_total",
			Help:        "Schema syncs per store by outcome.",
			ConstLabels: constLabels,
		}, []string{"store", "outcome"}),
		schemaTypes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   Namespace,
			Subsystem:   "schema",
			Name:        "types",
			Help:        "Data types currently known.",
			ConstLabels: constLabels,
		}),
	}
	m.Registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.journalEntries,
		m.indexEntries,
		m.indexRetries,
		m.syncs,
		m.schemaTypes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// JournalAppended counts one appended entry.
func (m *Metrics) JournalAppended(op string) {
	if m == nil {
		return
	}
	m.journalEntries.WithLabelValues(op).Inc()
}

// IndexOutcome counts one entry handled by the CmtIndex engine. outcome is
// "acked", "skipped" or "pending".
func (m *Metrics) IndexOutcome(outcome string) {
	if m == nil {
		return
	}
	m.indexEntries.WithLabelValues(outcome).Inc()
}

// IndexRetried counts one retried transient failure.
func (m *Metrics) IndexRetried() {
	if m == nil {
		return
	}
	m.indexRetries.Inc()
}

// StoreSynced counts one schema sync of store. outcome is "ok" or "unreachable".
func (m *Metrics) StoreSynced(store, outcome string) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(store, outcome).Inc()
}

// SetSchemaTypes sets the number of known data types.
func (m *Metrics) SetSchemaTypes(n int) {
	if m == nil {
		return
	}
	m.schemaTypes.Set(float64(n))
}

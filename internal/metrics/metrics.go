// Package metrics exposes Prometheus counters for ingest, populate and the
// read API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ephyspipe"

// Outcome labels shared by ingest and populate.
const (
	OutcomeDone    = "done"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	populateKeys     *prometheus.CounterVec
	populateDuration *prometheus.HistogramVec
	ingestTotal      *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// New registers the pipeline collectors on registry. A nil registry gets a
// fresh one with the Go and process collectors.
func New(registry *prometheus.Registry) (*Metrics, error) {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	m := &Metrics{registry: registry}
	m.populateKeys = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "populate_keys_total",
			Help:      "Populate keys processed, by table and outcome",
		},
		[]string{"table", "outcome"},
	)
	m.populateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "populate_make_duration_seconds",
			Help:      "Time taken to compute one populate key",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"table"},
	)
	m.ingestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_sessions_total",
			Help:      "Sessions handled by an ingest stage, by outcome",
		},
		[]string{"stage", "outcome"},
	)
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)
	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Time taken for HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	for _, c := range []prometheus.Collector{m.populateKeys, m.populateDuration, m.ingestTotal, m.httpRequests, m.httpDuration} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) RecordPopulate(table, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.populateKeys.WithLabelValues(table, outcome).Inc()
	if outcome == OutcomeDone || outcome == OutcomeFailed {
		m.populateDuration.WithLabelValues(table).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordIngest(stage string, created, skipped, failed int) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(stage, OutcomeDone).Add(float64(created))
	m.ingestTotal.WithLabelValues(stage, OutcomeSkipped).Add(float64(skipped))
	m.ingestTotal.WithLabelValues(stage, OutcomeFailed).Add(float64(failed))
}

func (m *Metrics) RecordHTTP(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if path == "" {
		path = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Package metrics exposes Prometheus instrumentation for the query path and
// index lifecycle. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fieldguide"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry       *prometheus.Registry
	queries        *prometheus.CounterVec
	queryFailures  *prometheus.CounterVec
	queryDuration  prometheus.Histogram
	indexChunks    prometheus.Gauge
	indexBuild     *prometheus.CounterVec
	indexDuration  prometheus.Gauge
	voiceCaptures  *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Answered questions by input source and answer shape.",
		}, []string{"source", "shape"}),
		queryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Questions that failed, by error kind.",
		}, []string{"kind"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end latency of answered questions.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		indexChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_chunks",
			Help:      "Chunks held by the vector index.",
		}),
		indexBuild: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index build attempts by result.",
		}, []string{"result"}),
		indexDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_build_seconds",
			Help:      "Duration of the last successful index build.",
		}),
		voiceCaptures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voice_captures_total",
			Help:      "Voice captures by recognition outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Open client sessions.",
		}),
	}
	reg.MustRegister(
		m.queries,
		m.queryFailures,
		m.queryDuration,
		m.indexChunks,
		m.indexBuild,
		m.indexDuration,
		m.voiceCaptures,
		m.activeSessions,
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveQuery(source, shape string, d time.Duration) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(source, shape).Inc()
	m.queryDuration.Observe(d.Seconds())
}

func (m *Metrics) QueryFailed(kind string) {
	if m == nil {
		return
	}
	m.queryFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IndexBuilt(chunks int, d time.Duration) {
	if m == nil {
		return
	}
	m.indexBuild.WithLabelValues("ready").Inc()
	m.indexChunks.Set(float64(chunks))
	m.indexDuration.Set(d.Seconds())
}

func (m *Metrics) IndexFailed() {
	if m == nil {
		return
	}
	m.indexBuild.WithLabelValues("failed").Inc()
}

func (m *Metrics) VoiceCapture(outcome string) {
	if m == nil {
		return
	}
	m.voiceCaptures.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK labels a successful ingest or analytics call
const OutcomeOK = "ok"

// Metrics holds the service collectors. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal           *prometheus.CounterVec
	ingestDuration        *prometheus.HistogramVec
	analyticsTotal        *prometheus.CounterVec
	analyticsDuration     prometheus.Histogram
	eventsPublishFailures prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_ingest_total",
			Help: "Total telemetry payloads handled by device type and outcome.",
		}, []string{"type", "outcome"}),
		ingestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telemetry_ingest_duration_seconds",
			Help:    "Histogram of ingest durations by device type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		analyticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "telemetry_analytics_total",
			Help: "Total performance summaries computed by outcome.",
		}, []string{"outcome"}),
		analyticsDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "telemetry_analytics_duration_seconds",
			Help:    "Histogram of performance summary durations.",
			Buckets: prometheus.DefBuckets,
		}),
		eventsPublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "telemetry_events_publish_failures_total",
			Help: "Total ingested events that failed to reach at least one sink.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ingestTotal,
		m.ingestDuration,
		m.analyticsTotal,
		m.analyticsDuration,
		m.eventsPublishFailures,
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Ingest records one ingest attempt. deviceType may be empty when discrimination failed.
func (m *Metrics) Ingest(deviceType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if deviceType == "" {
		deviceType = "unknown"
	}
	m.ingestTotal.WithLabelValues(deviceType, outcome).Inc()
	m.ingestDuration.WithLabelValues(deviceType).Observe(duration.Seconds())
}

func (m *Metrics) Analytics(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.analyticsTotal.WithLabelValues(outcome).Inc()
	m.analyticsDuration.Observe(duration.Seconds())
}

func (m *Metrics) EventPublishFailed() {
	if m == nil {
		return
	}
	m.eventsPublishFailures.Inc()
}

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics core.
type Metrics struct {
	// Ingestion metrics
	EventsAccepted   *prometheus.CounterVec
	EventsSuppressed *prometheus.CounterVec
	EventsRejected   *prometheus.CounterVec
	IngestLatency    *prometheus.HistogramVec

	// Attribution metrics
	AttributionRuns *prometheus.CounterVec

	// Rollup metrics
	RollupRuns    *prometheus.CounterVec
	RollupLatency prometheus.Histogram

	// Reporting metrics
	ReportQueries *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		EventsAccepted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_accepted_total",
				Help:      "Events accepted and persisted",
			},
			[]string{"tenant_id", "event_name"},
		),
		EventsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_suppressed_total",
				Help:      "Events suppressed for missing consent or GPC",
			},
			[]string{"tenant_id", "reason"},
		),
		EventsRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_rejected_total",
				Help:      "Events rejected by validation",
			},
			[]string{"reason"},
		),
		IngestLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_latency_seconds",
				Help:      "Event ingestion latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"outcome"},
		),

		AttributionRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attribution_runs_total",
				Help:      "Attribution passes by outcome",
			},
			[]string{"outcome"}, // attributed, unattributed, failed
		),

		RollupRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollup_runs_total",
				Help:      "Daily rollup aggregation runs",
			},
			[]string{"outcome"}, // ok, skipped, failed
		),
		RollupLatency: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rollup_latency_seconds",
				Help:      "Rollup aggregation latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
		),

		ReportQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "report_queries_total",
				Help:      "Reporting queries by source",
			},
			[]string{"source"}, // rollup, raw, mixed
		),

		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint"},
		),
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordIngest records one ingestion outcome with its latency.
func (m *Metrics) RecordIngest(outcome string, latency time.Duration) {
	m.IngestLatency.WithLabelValues(outcome).Observe(latency.Seconds())
}

// RecordAccepted records an accepted event.
func (m *Metrics) RecordAccepted(tenantID, eventName string) {
	m.EventsAccepted.WithLabelValues(tenantID, eventName).Inc()
}

// RecordSuppressed records a consent suppression.
func (m *Metrics) RecordSuppressed(tenantID, reason string) {
	m.EventsSuppressed.WithLabelValues(tenantID, reason).Inc()
}

// RecordRejected records a validation rejection.
func (m *Metrics) RecordRejected(reason string) {
	m.EventsRejected.WithLabelValues(reason).Inc()
}

// RecordAttribution records an attribution pass outcome.
func (m *Metrics) RecordAttribution(outcome string) {
	m.AttributionRuns.WithLabelValues(outcome).Inc()
}

// RecordRollup records a rollup run outcome with its latency.
func (m *Metrics) RecordRollup(outcome string, latency time.Duration) {
	m.RollupRuns.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.RollupLatency.Observe(latency.Seconds())
	}
}

// RecordReportQuery records a reporting query by its data source.
func (m *Metrics) RecordReportQuery(source string) {
	m.ReportQueries.WithLabelValues(source).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.RateLimitHits.WithLabelValues(endpoint).Inc()
}

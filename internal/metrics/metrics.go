// Package metrics provides Prometheus metrics for Emberwatch.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emberwatch"

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Ingest metrics
var (
	// IngestEventsTotal counts accepted events.
	IngestEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Total events accepted by the ingest gate",
		},
	)

	// IngestRejectedTotal counts rejected requests by reason.
	IngestRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "rejected_total",
			Help:      "Total ingest requests rejected",
		},
		[]string{"reason"},
	)

	// PipelineDroppedTotal counts events shed under backpressure.
	PipelineDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "dropped_total",
			Help:      "Total events dropped by the pipeline",
		},
	)

	// PipelineFlushesTotal counts storage batch flushes.
	PipelineFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "flushes_total",
			Help:      "Total batch flushes to storage",
		},
	)
)

// Alerting metrics
var (
	// AlertsFiredTotal counts cooldown claims that succeeded.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "fired_total",
			Help:      "Total alerts fired",
		},
		[]string{"rule_type"},
	)

	// AlertsSuppressedTotal counts evaluations suppressed by cooldown.
	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerting",
			Name:      "suppressed_total",
			Help:      "Total alerts suppressed by cooldown",
		},
	)

	// NotifyFailuresTotal counts failed channel deliveries.
	NotifyFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "failures_total",
			Help:      "Total notification delivery failures",
		},
		[]string{"channel"},
	)
)

// Retention metrics
var (
	// RetentionDeletedTotal counts rows deleted by the retention
	// manager, per table.
	RetentionDeletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "deleted_rows_total",
			Help:      "Total rows deleted by retention passes",
		},
		[]string{"table"},
	)

	// RetentionPassErrors counts failed retention sub-steps.
	RetentionPassErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "step_errors_total",
			Help:      "Total retention sub-step failures",
		},
	)
)

// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the toolgate service.
package observability

import "github.com/prometheus/client_golang/prometheus"

// ExecutionBuckets defines histogram buckets suited for tool execution
// durations, from fast internal actions to slow external HTTP calls.
var ExecutionBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// RequestsTotal counts all HTTP requests by method, route, and
	// status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration records HTTP request duration in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// ExecutionsTotal counts tool executions by kind and terminal
	// outcome (success, failed, cancelled).
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_executions_total",
			Help: "Tool executions by outcome",
		},
		[]string{"kind", "status"},
	)

	// ExecutionDuration records wall-clock tool execution duration in
	// seconds, per kind, across all attempts of a run.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toolgate_execution_duration_seconds",
			Help:    "Tool execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"kind"},
	)

	// ExecutionRetriesTotal counts retried execution attempts by kind.
	ExecutionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_execution_retries_total",
			Help: "Retried execution attempts",
		},
		[]string{"kind"},
	)

	// QueueDepth tracks tasks accepted but not yet finished, per lane.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_queue_depth",
			Help: "Tasks in flight per lane",
		},
		[]string{"lane"},
	)

	// ValidationFailuresTotal counts payload and result schema
	// rejections by direction (input/output).
	ValidationFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_validation_failures_total",
			Help: "Schema validation failures",
		},
		[]string{"direction"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionRetriesTotal,
		QueueDepth,
		ValidationFailuresTotal,
	)
}

// File: internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the Silk indexer
type PrometheusMetrics struct {
	// Reconciliation metrics
	TransactionsReconciledTotal *prometheus.CounterVec
	EventsRecordedTotal         *prometheus.CounterVec
	ReconcileDuration           prometheus.Histogram
	AccountsLocatedTotal        *prometheus.CounterVec

	// Chain RPC metrics
	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec
	EndpointFailovers  prometheus.Counter

	// Feed metrics
	SignaturesFetchedTotal prometheus.Counter
	FeedPollsTotal         *prometheus.CounterVec

	// Storage metrics
	DatabaseOperationsTotal   *prometheus.CounterVec
	DatabaseOperationDuration *prometheus.HistogramVec

	// API metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Application health metrics
	ApplicationUptime prometheus.Gauge
	ComponentHealth   *prometheus.GaugeVec
	MemoryUsage       prometheus.Gauge
	GoroutineCount    prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics
func NewPrometheusMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		TransactionsReconciledTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_transactions_reconciled_total",
				Help: "Total number of transactions run through reconciliation, by outcome",
			},
			[]string{"outcome"},
		),

		EventsRecordedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_events_recorded_total",
				Help: "Total number of audit events appended, by event type",
			},
			[]string{"event_type"},
		),

		ReconcileDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "silk_reconcile_duration_seconds",
				Help:    "Time spent reconciling one transaction",
				Buckets: prometheus.DefBuckets,
			},
		),

		AccountsLocatedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_accounts_located_total",
				Help: "Managed account location attempts, by source (chain, mirror, none)",
			},
			[]string{"source"},
		),

		RPCRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_rpc_requests_total",
				Help: "Total number of chain RPC requests",
			},
			[]string{"method", "status"},
		),

		RPCRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "silk_rpc_request_duration_seconds",
				Help:    "Duration of chain RPC requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		EndpointFailovers: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "silk_endpoint_failovers_total",
				Help: "Total number of RPC endpoint failovers",
			},
		),

		SignaturesFetchedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "silk_feed_signatures_fetched_total",
				Help: "Total number of program signatures fetched by the feed",
			},
		),

		FeedPollsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_feed_polls_total",
				Help: "Total number of feed poll cycles, by status",
			},
			[]string{"status"},
		),

		DatabaseOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		DatabaseOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "silk_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "silk_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "silk_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "silk_application_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "silk_component_health",
				Help: "Health status of application components (1 healthy, 0 unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "silk_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "silk_goroutines",
				Help: "Current number of goroutines",
			},
		),
	}
}

// RecordTransactionReconciled increments the reconciliation counter
func (m *PrometheusMetrics) RecordTransactionReconciled(outcome string) {
	m.TransactionsReconciledTotal.WithLabelValues(outcome).Inc()
}

// RecordEventRecorded increments the event counter for an event type
func (m *PrometheusMetrics) RecordEventRecorded(eventType string) {
	m.EventsRecordedTotal.WithLabelValues(eventType).Inc()
}

// RecordReconcileDuration records how long one reconciliation took
func (m *PrometheusMetrics) RecordReconcileDuration(duration time.Duration) {
	m.ReconcileDuration.Observe(duration.Seconds())
}

// RecordAccountLocated records where the reconciler found the managed account
func (m *PrometheusMetrics) RecordAccountLocated(source string) {
	m.AccountsLocatedTotal.WithLabelValues(source).Inc()
}

// RecordRPCRequest records a chain RPC request
func (m *PrometheusMetrics) RecordRPCRequest(method, status string, duration time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordEndpointFailover records an RPC endpoint rotation
func (m *PrometheusMetrics) RecordEndpointFailover() {
	m.EndpointFailovers.Inc()
}

// RecordSignaturesFetched adds to the fetched-signature counter
func (m *PrometheusMetrics) RecordSignaturesFetched(count int) {
	m.SignaturesFetchedTotal.Add(float64(count))
}

// RecordFeedPoll records one feed poll cycle
func (m *PrometheusMetrics) RecordFeedPoll(status string) {
	m.FeedPollsTotal.WithLabelValues(status).Inc()
}

// RecordDatabaseOperation records a database operation
func (m *PrometheusMetrics) RecordDatabaseOperation(operation, status string, duration time.Duration) {
	m.DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	m.DatabaseOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateApplicationUptime updates the uptime gauge
func (m *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	m.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateComponentHealth updates health status for a component
func (m *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateMemoryUsage updates the memory usage gauge
func (m *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	m.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates the goroutine count gauge
func (m *PrometheusMetrics) UpdateGoroutineCount(count int) {
	m.GoroutineCount.Set(float64(count))
}

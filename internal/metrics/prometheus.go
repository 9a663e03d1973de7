// File: internal/metrics/prometheus.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics contains all Prometheus metrics for the relayer
type PrometheusMetrics struct {
	// Relay metrics
	JobsProcessedTotal *prometheus.CounterVec
	JobDuration        prometheus.Histogram
	CreditsMintedTotal prometheus.Counter

	// Chain metrics
	ChainCallsTotal   *prometheus.CounterVec
	ChainCallDuration *prometheus.HistogramVec

	// Queue metrics
	QueueOperationsTotal *prometheus.CounterVec
	DrainRunsTotal       *prometheus.CounterVec

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

// NewPrometheusMetrics creates all metrics and registers them with reg
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		JobsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_jobs_processed_total",
				Help: "Total number of mint jobs processed, by source and outcome",
			},
			[]string{"source", "outcome"},
		),

		JobDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relayer_job_duration_seconds",
				Help:    "Time spent processing a mint job end to end",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		CreditsMintedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "relayer_credits_minted_total",
				Help: "Whole-kilogram credits minted on chain",
			},
		),

		ChainCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_chain_calls_total",
				Help: "Total number of contract calls, by method and status",
			},
			[]string{"method", "status"},
		),

		ChainCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_chain_call_duration_seconds",
				Help:    "Duration of contract calls including confirmation",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"method"},
		),

		QueueOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_queue_operations_total",
				Help: "Total number of mint queue operations",
			},
			[]string{"backend", "operation", "status"},
		),

		DrainRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_drain_runs_total",
				Help: "Total number of queue drain runs, by trigger",
			},
			[]string{"trigger"},
		),

		DatabaseOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_database_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "table", "status"},
		),

		DatabaseOperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_database_operation_duration_seconds",
				Help:    "Duration of database operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "table"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relayer_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relayer_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		ApplicationUptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relayer_uptime_seconds",
				Help: "Application uptime in seconds",
			},
		),

		ComponentHealth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "relayer_component_health",
				Help: "Health status of components (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),

		MemoryUsage: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relayer_memory_usage_bytes",
				Help: "Current memory usage in bytes",
			},
		),

		GoroutineCount: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relayer_goroutines",
				Help: "Number of active goroutines",
			},
		),
	}
}

// Record* methods are no-ops on a nil receiver so components can run without metrics.

// RecordJob records the outcome of a mint job
func (pm *PrometheusMetrics) RecordJob(source, outcome string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.JobsProcessedTotal.WithLabelValues(source, outcome).Inc()
	pm.JobDuration.Observe(duration.Seconds())
}

// RecordCreditsMinted adds minted whole-kilogram credits
func (pm *PrometheusMetrics) RecordCreditsMinted(amount uint64) {
	if pm == nil {
		return
	}
	pm.CreditsMintedTotal.Add(float64(amount))
}

// RecordChainCall records a contract call
func (pm *PrometheusMetrics) RecordChainCall(method, status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.ChainCallsTotal.WithLabelValues(method, status).Inc()
	pm.ChainCallDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordQueueOperation records a queue operation
func (pm *PrometheusMetrics) RecordQueueOperation(backend, operation, status string) {
	if pm == nil {
		return
	}
	pm.QueueOperationsTotal.WithLabelValues(backend, operation, status).Inc()
}

// RecordDrainRun records a drain run
func (pm *PrometheusMetrics) RecordDrainRun(trigger string) {
	if pm == nil {
		return
	}
	pm.DrainRunsTotal.WithLabelValues(trigger).Inc()
}

// RecordDatabaseOperation records a database operation
func (pm *PrometheusMetrics) RecordDatabaseOperation(operation, table, status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.DatabaseOperationsTotal.WithLabelValues(operation, table, status).Inc()
	pm.DatabaseOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if pm == nil {
		return
	}
	pm.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	pm.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// UpdateComponentHealth updates component health status
func (pm *PrometheusMetrics) UpdateComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	pm.ComponentHealth.WithLabelValues(component).Set(value)
}

// UpdateApplicationUptime updates application uptime
func (pm *PrometheusMetrics) UpdateApplicationUptime(startTime time.Time) {
	pm.ApplicationUptime.Set(time.Since(startTime).Seconds())
}

// UpdateMemoryUsage updates memory usage
func (pm *PrometheusMetrics) UpdateMemoryUsage(bytes uint64) {
	pm.MemoryUsage.Set(float64(bytes))
}

// UpdateGoroutineCount updates goroutine count
func (pm *PrometheusMetrics) UpdateGoroutineCount(count int) {
	pm.GoroutineCount.Set(float64(count))
}

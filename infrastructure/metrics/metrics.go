// Package metrics provides Prometheus metrics collection
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sjafferali/claudelens-archive/infrastructure/runtime"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Ingestion metrics
	IngestMessagesTotal *prometheus.CounterVec
	IngestBatchDuration *prometheus.HistogramVec

	// Backup/restore metrics
	BackupJobsTotal    *prometheus.CounterVec
	BackupBytesWritten *prometheus.CounterVec
	RestoreJobsTotal   *prometheus.CounterVec
	RestoreConflicts   *prometheus.CounterVec

	// Rate-limit metrics
	RateLimitDecisions *prometheus.CounterVec

	// Storage metrics
	StoreQueriesTotal       *prometheus.CounterVec
	StoreQueryDuration      *prometheus.HistogramVec
	StoreConnectionsOpen    prometheus.Gauge
	StorePartitionsFannedOut prometheus.Histogram

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec
}

// New creates a new Metrics instance with all collectors registered
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		IngestMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_messages_total",
				Help: "Total number of messages processed by the ingestion pipeline",
			},
			[]string{"service", "outcome"}, // outcome: accepted|duplicate|rejected
		),
		IngestBatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_batch_duration_seconds",
				Help:    "Ingestion batch processing duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service"},
		),

		BackupJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backup_jobs_total",
				Help: "Total number of backup jobs by terminal status",
			},
			[]string{"service", "status"},
		),
		BackupBytesWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backup_bytes_written_total",
				Help: "Total compressed bytes written to backup archives",
			},
			[]string{"service"},
		),
		RestoreJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restore_jobs_total",
				Help: "Total number of restore jobs by terminal status",
			},
			[]string{"service", "status"},
		),
		RestoreConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restore_conflicts_total",
				Help: "Total number of entity conflicts encountered during restore, by policy",
			},
			[]string{"service", "entity", "policy"},
		),

		RateLimitDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rate_limit_decisions_total",
				Help: "Total number of rate limit enforcement decisions",
			},
			[]string{"service", "axis", "allowed"},
		),

		StoreQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "store_queries_total",
				Help: "Total number of storage layer queries",
			},
			[]string{"service", "operation", "status"},
		),
		StoreQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "store_query_duration_seconds",
				Help:    "Storage layer query duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"service", "operation"},
		),
		StoreConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "store_connections_open",
				Help: "Current number of open storage connections",
			},
		),
		StorePartitionsFannedOut: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "store_partitions_fanned_out",
				Help:    "Number of monthly partitions touched per fan-out query",
				Buckets: []float64{1, 2, 3, 6, 12, 24, 36},
			},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.IngestMessagesTotal,
			m.IngestBatchDuration,
			m.BackupJobsTotal,
			m.BackupBytesWritten,
			m.RestoreJobsTotal,
			m.RestoreConflicts,
			m.RateLimitDecisions,
			m.StoreQueriesTotal,
			m.StoreQueryDuration,
			m.StoreConnectionsOpen,
			m.StorePartitionsFannedOut,
			m.ServiceUptime,
			m.ServiceInfo,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordIngestBatch records the outcome counts and duration of one ingest batch.
func (m *Metrics) RecordIngestBatch(service string, accepted, duplicates, rejected int, duration time.Duration) {
	m.IngestMessagesTotal.WithLabelValues(service, "accepted").Add(float64(accepted))
	m.IngestMessagesTotal.WithLabelValues(service, "duplicate").Add(float64(duplicates))
	m.IngestMessagesTotal.WithLabelValues(service, "rejected").Add(float64(rejected))
	m.IngestBatchDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordBackupJob records the terminal status of a backup job and its size.
func (m *Metrics) RecordBackupJob(service, status string, bytesWritten int64) {
	m.BackupJobsTotal.WithLabelValues(service, status).Inc()
	if bytesWritten > 0 {
		m.BackupBytesWritten.WithLabelValues(service).Add(float64(bytesWritten))
	}
}

// RecordRestoreJob records the terminal status of a restore job.
func (m *Metrics) RecordRestoreJob(service, status string) {
	m.RestoreJobsTotal.WithLabelValues(service, status).Inc()
}

// RecordRestoreConflict records one entity conflict resolved during restore.
func (m *Metrics) RecordRestoreConflict(service, entity, policy string) {
	m.RestoreConflicts.WithLabelValues(service, entity, policy).Inc()
}

// RecordRateLimitDecision records one enforcement decision for an axis.
func (m *Metrics) RecordRateLimitDecision(service, axis string, allowed bool) {
	allowedLabel := "false"
	if allowed {
		allowedLabel = "true"
	}
	m.RateLimitDecisions.WithLabelValues(service, axis, allowedLabel).Inc()
}

// RecordStoreQuery records a storage layer query
func (m *Metrics) RecordStoreQuery(service, operation, status string, duration time.Duration) {
	m.StoreQueriesTotal.WithLabelValues(service, operation, status).Inc()
	m.StoreQueryDuration.WithLabelValues(service, operation).Observe(duration.Seconds())
}

// RecordPartitionFanout records how many monthly collections one query touched.
func (m *Metrics) RecordPartitionFanout(count int) {
	m.StorePartitionsFannedOut.Observe(float64(count))
}

// SetStoreConnections sets the number of open storage connections
func (m *Metrics) SetStoreConnections(count int) {
	m.StoreConnectionsOpen.Set(float64(count))
}

// UpdateUptime updates the service uptime
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions

func getEnvironment() string {
	return string(runtime.Env())
}

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults:
// - production: disabled unless explicitly enabled via METRICS_ENABLED
// - non-production: enabled unless explicitly disabled via METRICS_ENABLED
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !runtime.IsProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}

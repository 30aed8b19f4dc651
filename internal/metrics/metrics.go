// Package metrics provides Prometheus metrics for the file core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// File operation metrics
	fileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecore_file_operations_total",
			Help: "Total file service operations",
		},
		[]string{"operation", "status"},
	)

	contentBytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_content_bytes_uploaded_total",
			Help: "Total bytes written to storage backends",
		},
	)

	contentBytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_content_bytes_downloaded_total",
			Help: "Total bytes read from storage backends",
		},
	)

	// Storage backend metrics
	storageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecore_storage_operation_duration_seconds",
			Help:    "Storage backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecore_storage_operations_total",
			Help: "Total storage backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecore_db_query_duration_seconds",
			Help:    "Metadata store query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filecore_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// Versioning metrics
	versionConflictsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_version_conflicts_total",
			Help: "Version number races lost and retried",
		},
	)

	// Permission metrics
	permissionChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecore_permission_checks_total",
			Help: "Total permission checks",
		},
		[]string{"result", "source"},
	)

	// Lifecycle metrics
	sweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecore_sweep_runs_total",
			Help: "Retention sweep runs",
		},
		[]string{"status"},
	)

	sweepFilesPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_sweep_files_purged_total",
			Help: "Files permanently removed by the retention sweep",
		},
	)

	sweepBytesFreed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_sweep_bytes_freed_total",
			Help: "Bytes freed by the retention sweep",
		},
	)

	sweepErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_sweep_errors_total",
			Help: "Per-file failures recorded by the retention sweep",
		},
	)

	// Thumbnail metrics
	thumbnailDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filecore_thumbnail_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	// Events and throttling
	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filecore_events_published_total",
			Help: "File events published",
		},
		[]string{"type", "sink"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filecore_rate_limit_hits_total",
			Help: "Total upload rate limit rejections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordFileOperation records a file service operation outcome.
func RecordFileOperation(operation string, success bool) {
	fileOperationsTotal.WithLabelValues(operation, status(success)).Inc()
}

// RecordContentUpload records bytes written to a backend.
func RecordContentUpload(bytes int64) {
	contentBytesUploaded.Add(float64(bytes))
}

// RecordContentDownload records bytes read from a backend.
func RecordContentDownload(bytes int64) {
	contentBytesDownloaded.Add(float64(bytes))
}

// RecordStorageOperation records a storage backend operation.
func RecordStorageOperation(backend, operation string, duration time.Duration, success bool) {
	storageOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	storageOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

// RecordVersionConflict records a lost version-number race.
func RecordVersionConflict() {
	versionConflictsTotal.Inc()
}

// RecordPermissionCheck records a permission check result and the rule that decided it.
func RecordPermissionCheck(allowed bool, source string) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	permissionChecksTotal.WithLabelValues(result, source).Inc()
}

// RecordSweep records the outcome of one tenant sweep.
func RecordSweep(purged int, bytesFreed int64, errors int, success bool) {
	sweepRunsTotal.WithLabelValues(status(success)).Inc()
	sweepFilesPurged.Add(float64(purged))
	sweepBytesFreed.Add(float64(bytesFreed))
	sweepErrorsTotal.Add(float64(errors))
}

// RecordThumbnail records a thumbnail generation.
func RecordThumbnail(duration time.Duration, success bool) {
	thumbnailDuration.WithLabelValues(status(success)).Observe(duration.Seconds())
}

// RecordEvent records an event publication to a sink.
func RecordEvent(eventType, sink string) {
	eventsPublishedTotal.WithLabelValues(eventType, sink).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
}

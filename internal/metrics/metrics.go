package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forge_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_db_connections_open",
			Help: "Number of open database connections",
		},
	)

	// SearchFallbacksTotal counts ranked queries that returned zero rows
	// and fell through to the substring index.
	SearchFallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_search_trigram_fallbacks_total",
			Help: "Total number of searches served by the trigram fallback index",
		},
	)
)

// Scan metrics
var (
	ScanRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_scan_runs_total",
			Help: "Total number of library scans",
		},
	)

	ScanLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_scan_last_run_timestamp",
			Help: "Timestamp of the last library scan",
		},
	)

	ScanLastRunDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_scan_last_run_duration_seconds",
			Help: "Duration of the last library scan in seconds",
		},
	)

	ScanFilesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_scan_files_processed_total",
			Help: "Total number of files whose metadata was extracted",
		},
	)

	ScanFilesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_scan_files_skipped_total",
			Help: "Total number of files skipped as unchanged",
		},
	)

	ScanErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_scan_errors_total",
			Help: "Total number of per-file scan errors",
		},
	)

	ScanIsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_scan_running",
			Help: "Whether a scan is currently running (1 = running, 0 = idle)",
		},
	)

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	WatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_thumbnail_generations_total",
			Help: "Total number of thumbnail generations",
		},
		[]string{"status"}, // "generated", "skipped", "failed"
	)

	ThumbnailGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "forge_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_thumbnail_cache_hits_total",
			Help: "Total number of thumbnail cache hits",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "forge_thumbnail_cache_misses_total",
			Help: "Total number of thumbnail cache misses",
		},
	)

	ThumbnailPrecacheRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_thumbnail_precache_running",
			Help: "Whether the full-library thumbnail precache is running (1 = running, 0 = idle)",
		},
	)
)

// Filesystem retry metrics (network-mounted libraries)
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"op"}, // "open", "stat"
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after retrying",
		},
		[]string{"op"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that exhausted all retries",
		},
		[]string{"op"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forge_filesystem_stale_errors_total",
			Help: "Total number of stale NFS file handle errors observed",
		},
		[]string{"op"},
	)
)

// Memory pressure metrics
var (
	MemoryHeapBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_memory_heap_bytes",
			Help: "Current Go heap allocation in bytes",
		},
	)

	MemoryThrottleActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_memory_throttle_active",
			Help: "Whether background work is throttled for memory pressure (1 = throttled)",
		},
	)
)

// Library metrics
var (
	LibraryImagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_library_images_total",
			Help: "Total number of indexed images",
		},
	)

	LibraryTagsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "forge_library_tags_total",
			Help: "Total number of tags",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "forge_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}

// Package metrics provides Prometheus instrumentation for the indexing engine.
//
// All metrics are prefixed with "forge_" to avoid naming collisions with
// other applications scraped by the same Prometheus instance.
//
// # Metric Categories
//
// HTTP metrics track the local API surface:
//   - HTTPRequestsTotal: Counter of requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// Database metrics monitor query performance:
//   - DBQueryTotal: Counter of queries by operation and status
//   - DBQueryDuration: Histogram of query duration by operation
//   - DBConnectionsOpen: Gauge of open database connections
//   - SearchFallbacksTotal: Counter of searches served by the trigram index
//
// Scan metrics track library indexing:
//   - ScanRunsTotal, ScanLastRunTimestamp, ScanLastRunDuration
//   - ScanFilesProcessed, ScanFilesSkipped, ScanErrors
//   - ScanIsRunning: Gauge indicating an active scan
//   - WatcherEventsTotal, WatcherErrors: filesystem watch activity
//
// Thumbnail metrics track the cache engine:
//   - ThumbnailGenerationsTotal by outcome (generated/skipped/failed)
//   - ThumbnailGenerationDuration, ThumbnailCacheHits, ThumbnailCacheMisses
//   - ThumbnailPrecacheRunning: Gauge for the full-library warmup pass
//
// Library gauges (LibraryImagesTotal, LibraryTagsTotal) are refreshed
// periodically by a Collector fed from database statistics.
//
// Call InitializeMetrics once at startup so every label combination is
// exported from the first scrape.
package metrics

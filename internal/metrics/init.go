package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- DB query operations ---
	for _, op := range []string{"initialize_schema", "bulk_upsert", "get_all_file_mtimes",
		"get_images_cursor", "search_cursor", "filter_images_cursor", "get_image_by_id",
		"list_tags", "get_top_tags", "set_favorite", "delete_images", "rebuild_fts",
		"vacuum"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	// --- Thumbnail generation outcomes ---
	for _, status := range []string{"generated", "skipped", "failed"} {
		ThumbnailGenerationsTotal.WithLabelValues(status)
	}

	// --- Filesystem retry operations ---
	for _, op := range []string{"open", "stat"} {
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetrySuccess.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
		FilesystemStaleErrors.WithLabelValues(op)
	}

	// --- Watcher event types ---
	for _, event := range []string{"create", "write", "rename", "remove"} {
		WatcherEventsTotal.WithLabelValues(event)
	}
}

// Package indexer drives library scans: filesystem walk, changed-file
// detection against stored mtimes, parallel metadata extraction,
// chunked bulk upserts, and thumbnail warmup. A scan of an unchanged
// library performs zero re-parses and zero writes.
//
// Watch mode wraps the same pipeline with a debounced fsnotify
// watcher so new renders index themselves shortly after they land.
package indexer

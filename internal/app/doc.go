// Package app owns the long-lived application state the engine
// packages must not: the database handle, the thumbnail generator and
// its in-memory cache index, the persisted storage profile, and the
// single-run precache guard.
//
// The thumbnail index is a set of cache paths known to exist on disk,
// built once at startup by listing the cache directory and kept
// current as thumbnails generate. The failed-source set memoizes
// images that failed to decode so repeated gallery loads do not retry
// them on every request.
package app

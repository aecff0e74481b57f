// Package server exposes the local HTTP API: gallery pages, search,
// metadata detail, tag editing, thumbnail resolution, scan and
// precache triggers, stats, health, and Prometheus metrics.
package server

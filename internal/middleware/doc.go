// Package middleware provides the HTTP middleware for the local API
// server: request logging, gzip compression for JSON responses, and
// Prometheus instrumentation.
package middleware

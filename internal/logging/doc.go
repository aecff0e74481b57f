// Package logging provides a simple leveled logging interface for the
// indexing engine and its CLI.
//
// It supports the following log levels:
//   - DEBUG: Verbose debugging information
//   - INFO: General operational messages
//   - WARN: Warning conditions
//   - ERROR: Error conditions
//   - FATAL: Fatal errors that terminate the application
//
// The log level is configured via the LOG_LEVEL environment variable
// (or DEBUG=1 as a shortcut) and may be overridden at runtime with
// SetLevel, which the CLI uses for its --log-level flag.
package logging

// Package startup handles application initialization, configuration
// resolution, and startup/shutdown logging.
//
// # Configuration
//
// [LoadConfig] merges CLI flags with environment variables; flags win.
// The following environment variables are supported:
//
//   - FORGE_LIBRARY_DIR: Default image library to scan
//   - FORGE_DATA_DIR: Data directory for the database and settings
//     (default: platform data dir under forge-meta-link/)
//   - FORGE_DB_PATH: SQLite database path (default: <data dir>/forge.db)
//   - FORGE_THUMB_CACHE_DIR: Thumbnail cache directory
//     (default: <data dir>/thumbnails)
//   - FORGE_PORT: HTTP server port (default: 8842)
//   - FORGE_STORAGE_PROFILE: hdd or ssd (default: hdd)
//   - FORGE_LOG_LEVEL: debug, info, warn, error (default: info)
//
// The database directory is required and must be writable; the
// thumbnail cache is created on demand when missing.
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via
// [GetBuildInfo]: Version, Commit, BuildTime, GoVersion.
package startup

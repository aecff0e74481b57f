/*
Package workers sizes the engine's fixed worker pools by storage profile.

# Overview

All IO-heavy concurrency in the engine — metadata extraction during a
scan, thumbnail encode/decode, and the SQLite connection pool — is sized
by a StorageProfile. Spinning disks (HDD) deliberately cap fan-out low
(2-4 workers) because concurrent reads cause seek thrashing; solid-state
drives (SSD) allow higher fan-out (4-12 workers).

Counts derive from runtime.GOMAXPROCS(0), which tracks container CPU
limits in Go 1.19+, clamped to each profile's floor and ceiling.

# Usage

	profile := workers.ParseProfile("ssd")

	scan := workers.ScanWorkers(profile)       // metadata extraction
	io := workers.IOWorkers(profile)           // thumbnail pipeline
	db.SetMaxOpenConns(workers.DBPoolSize(profile))

# Environment Variable Overrides

Each pool has an override, clamped to [1, 32]:

	FORGE_SCAN_THREADS  metadata-extraction workers
	FORGE_IO_THREADS    thumbnail workers
	FORGE_DB_POOL_SIZE  SQLite connections

Invalid or out-of-range values fall back to the profile-derived count.

# Thread Safety

All functions are safe for concurrent use; they read GOMAXPROCS and
environment variables only.
*/
package workers

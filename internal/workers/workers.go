package workers

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

// StorageProfile selects concurrency sizing for IO-heavy work. Spinning
// disks want low fan-out to avoid seek thrashing; solid-state drives
// tolerate much more.
type StorageProfile int

const (
	// HDD is the conservative default profile for spinning disks.
	HDD StorageProfile = iota
	// SSD is the high-fanout profile for solid-state storage.
	SSD
)

const (
	hddIOThreads = 4
	ssdIOThreads = 12

	hddScanThreads = 4
	ssdScanThreads = 12

	hddDBPoolSize = 4
	ssdDBPoolSize = 12

	// Number of thumbnails generated synchronously after indexing.
	// The remainder warms in background so scan completion is fast.
	hddImmediateThumbs = 2000
	ssdImmediateThumbs = 8000

	hddPrecacheChunk = 192
	ssdPrecacheChunk = 640
)

// ParseProfile converts a profile name to a StorageProfile, defaulting
// to HDD for anything unrecognized.
func ParseProfile(s string) StorageProfile {
	if strings.EqualFold(strings.TrimSpace(s), "ssd") {
		return SSD
	}
	return HDD
}

// String returns the persisted label for the profile.
func (p StorageProfile) String() string {
	if p == SSD {
		return "ssd"
	}
	return "hdd"
}

// envOverride returns a worker count from an environment variable,
// clamped to [1, 32], or 0 when the variable is unset or invalid.
func envOverride(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	count, err := strconv.Atoi(raw)
	if err != nil || count < 1 {
		return 0
	}
	if count > 32 {
		return 32
	}
	return count
}

// sized computes a GOMAXPROCS-based worker count clamped to the
// profile's floor and ceiling. GOMAXPROCS tracks container CPU limits.
func sized(floor, ceiling int) int {
	workers := runtime.GOMAXPROCS(0)
	if workers > ceiling {
		workers = ceiling
	}
	if workers < floor {
		workers = floor
	}
	return workers
}

// IOWorkers returns the thumbnail encode/decode pool size for a profile.
// Override with FORGE_IO_THREADS.
func IOWorkers(p StorageProfile) int {
	if n := envOverride("FORGE_IO_THREADS"); n > 0 {
		return n
	}
	if p == SSD {
		return sized(4, ssdIOThreads)
	}
	return sized(2, hddIOThreads)
}

// ScanWorkers returns the metadata-extraction pool size for a profile.
// Override with FORGE_SCAN_THREADS.
func ScanWorkers(p StorageProfile) int {
	if n := envOverride("FORGE_SCAN_THREADS"); n > 0 {
		return n
	}
	if p == SSD {
		return sized(4, ssdScanThreads)
	}
	return sized(2, hddScanThreads)
}

// DBPoolSize returns the SQLite connection pool size for a profile.
// Override with FORGE_DB_POOL_SIZE.
func DBPoolSize(p StorageProfile) int {
	if n := envOverride("FORGE_DB_POOL_SIZE"); n > 0 {
		return n
	}
	if p == SSD {
		return sized(4, ssdDBPoolSize)
	}
	return sized(2, hddDBPoolSize)
}

// ImmediateThumbBudget is how many thumbnails a scan generates before
// reporting completion; the rest are deferred to the warmup worker.
func ImmediateThumbBudget(p StorageProfile) int {
	if p == SSD {
		return ssdImmediateThumbs
	}
	return hddImmediateThumbs
}

// PrecacheChunkSize is the batch granularity for full-library thumbnail
// warmup, which is also the progress-reporting granularity.
func PrecacheChunkSize(p StorageProfile) int {
	if p == SSD {
		return ssdPrecacheChunk
	}
	return hddPrecacheChunk
}

// Package memory provides a heap monitor that throttles background
// work when the process approaches its memory limit. Bulk metadata
// extraction and thumbnail generation can otherwise balloon the heap
// on large libraries.
package memory

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/soficis/forge-meta-link/internal/logging"
	"github.com/soficis/forge-meta-link/internal/metrics"
)

// Config holds memory monitor configuration.
type Config struct {
	// LimitBytes is the soft memory limit. 0 means use GOMEMLIMIT,
	// and when that is unset too the monitor stays disabled.
	LimitBytes int64

	// HighWaterMark is the fraction of the limit at which background
	// work starts throttling.
	HighWaterMark float64

	// CheckInterval is how often heap usage is sampled.
	CheckInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		LimitBytes:    0,
		HighWaterMark: 0.85,
		CheckInterval: 5 * time.Second,
	}
}

// Monitor samples heap usage and exposes a throttle signal. A nil
// Monitor is valid and never throttles.
type Monitor struct {
	config Config
	limit  int64
	stop   chan struct{}
	wg     sync.WaitGroup

	mu        sync.RWMutex
	throttled bool
}

// NewMonitor creates a monitor. Returns nil when no limit can be
// resolved, which disables throttling entirely.
func NewMonitor(config Config) *Monitor {
	limit := config.LimitBytes
	if limit == 0 {
		if goLimit := debug.SetMemoryLimit(-1); goLimit > 0 && goLimit < 1<<62 {
			limit = goLimit
			logging.Info("Memory monitor using GOMEMLIMIT: %.1f MB", float64(limit)/(1024*1024))
		}
	}
	if limit <= 0 {
		logging.Debug("No memory limit configured, monitor disabled")
		return nil
	}

	return &Monitor{
		config: config,
		limit:  limit,
		stop:   make(chan struct{}),
	}
}

// Start begins sampling in the background.
func (m *Monitor) Start() {
	if m == nil {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop ends sampling and clears the throttle state.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	close(m.stop)
	m.wg.Wait()
	m.setThrottled(false)
}

func (m *Monitor) sample() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	heap := int64(stats.HeapAlloc)
	metrics.MemoryHeapBytes.Set(float64(heap))

	over := float64(heap) > float64(m.limit)*m.config.HighWaterMark
	if over != m.Throttled() {
		if over {
			logging.Warn("Heap %.1f MB exceeds %.0f%% of %.1f MB limit, throttling background work",
				float64(heap)/(1024*1024), m.config.HighWaterMark*100, float64(m.limit)/(1024*1024))
		} else {
			logging.Info("Heap pressure cleared, resuming background work")
		}
	}
	m.setThrottled(over)
}

func (m *Monitor) setThrottled(v bool) {
	m.mu.Lock()
	m.throttled = v
	m.mu.Unlock()
	if v {
		metrics.MemoryThrottleActive.Set(1)
	} else {
		metrics.MemoryThrottleActive.Set(0)
	}
}

// Throttled reports whether background work should back off.
func (m *Monitor) Throttled() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.throttled
}

// Wait blocks between work chunks while the throttle is active,
// re-checking every CheckInterval. Returns early when ctx ends.
func (m *Monitor) Wait(ctx context.Context) {
	if m == nil {
		return
	}
	for m.Throttled() {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-time.After(m.config.CheckInterval):
		}
	}
}

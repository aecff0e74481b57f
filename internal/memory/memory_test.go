package memory

import (
	"context"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	config := DefaultConfig()
	if config.HighWaterMark <= 0 || config.HighWaterMark > 1 {
		t.Errorf("HighWaterMark = %v, want (0, 1]", config.HighWaterMark)
	}
	if config.CheckInterval <= 0 {
		t.Errorf("CheckInterval = %v, want > 0", config.CheckInterval)
	}
}

func TestNewMonitorWithExplicitLimit(t *testing.T) {
	t.Parallel()

	m := NewMonitor(Config{
		LimitBytes:    1 << 30,
		HighWaterMark: 0.85,
		CheckInterval: time.Millisecond,
	})
	if m == nil {
		t.Fatal("monitor should be enabled with an explicit limit")
	}
	if m.Throttled() {
		t.Error("fresh monitor should not be throttled")
	}
}

func TestNilMonitorIsSafe(t *testing.T) {
	t.Parallel()

	var m *Monitor
	m.Start()
	if m.Throttled() {
		t.Error("nil monitor must never throttle")
	}
	m.Wait(context.Background())
	m.Stop()
}

func TestSampleSetsThrottleAboveWaterMark(t *testing.T) {
	t.Parallel()

	// A 1-byte limit is always exceeded by a live heap.
	m := NewMonitor(Config{
		LimitBytes:    1,
		HighWaterMark: 0.85,
		CheckInterval: time.Millisecond,
	})
	m.sample()
	if !m.Throttled() {
		t.Error("monitor should throttle when heap exceeds the limit")
	}

	// A huge limit is never exceeded.
	m = NewMonitor(Config{
		LimitBytes:    1 << 60,
		HighWaterMark: 0.85,
		CheckInterval: time.Millisecond,
	})
	m.sample()
	if m.Throttled() {
		t.Error("monitor should not throttle far below the limit")
	}
}

func TestWaitReturnsWhenContextEnds(t *testing.T) {
	t.Parallel()

	m := NewMonitor(Config{
		LimitBytes:    1,
		HighWaterMark: 0.85,
		CheckInterval: 50 * time.Millisecond,
	})
	m.sample()
	if !m.Throttled() {
		t.Fatal("expected throttled monitor")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Wait(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after context cancellation")
	}
}

func TestStopClearsThrottle(t *testing.T) {
	t.Parallel()

	m := NewMonitor(Config{
		LimitBytes:    1,
		HighWaterMark: 0.85,
		CheckInterval: time.Millisecond,
	})
	m.Start()
	m.sample()
	m.Stop()
	if m.Throttled() {
		t.Error("Stop should clear the throttle state")
	}
}

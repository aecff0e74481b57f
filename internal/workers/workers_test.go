package workers

import (
	"os"
	"testing"
)

func TestParseProfile(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected StorageProfile
	}{
		{"ssd", "ssd", SSD},
		{"ssd uppercase", "SSD", SSD},
		{"ssd with whitespace", "  ssd  ", SSD},
		{"hdd", "hdd", HDD},
		{"empty defaults to hdd", "", HDD},
		{"garbage defaults to hdd", "nvme", HDD},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseProfile(tt.input); got != tt.expected {
				t.Errorf("ParseProfile(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestProfileString(t *testing.T) {
	if got := HDD.String(); got != "hdd" {
		t.Errorf("HDD.String() = %q, want %q", got, "hdd")
	}
	if got := SSD.String(); got != "ssd" {
		t.Errorf("SSD.String() = %q, want %q", got, "ssd")
	}

	// Round-trip through the persisted label
	for _, p := range []StorageProfile{HDD, SSD} {
		if got := ParseProfile(p.String()); got != p {
			t.Errorf("ParseProfile(%q) = %v, want %v", p.String(), got, p)
		}
	}
}

func TestPoolSizing(t *testing.T) {
	os.Unsetenv("FORGE_IO_THREADS")
	os.Unsetenv("FORGE_SCAN_THREADS")
	os.Unsetenv("FORGE_DB_POOL_SIZE")

	tests := []struct {
		name    string
		fn      func(StorageProfile) int
		profile StorageProfile
		min     int
		max     int
	}{
		{"io workers hdd", IOWorkers, HDD, 2, 4},
		{"io workers ssd", IOWorkers, SSD, 4, 12},
		{"scan workers hdd", ScanWorkers, HDD, 2, 4},
		{"scan workers ssd", ScanWorkers, SSD, 4, 12},
		{"db pool hdd", DBPoolSize, HDD, 2, 4},
		{"db pool ssd", DBPoolSize, SSD, 4, 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.profile)
			if got < tt.min || got > tt.max {
				t.Errorf("%s = %d, want within [%d, %d]", tt.name, got, tt.min, tt.max)
			}
		})
	}
}

func TestEnvOverride(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected int // 0 means fall back to profile-derived sizing
	}{
		{"valid override", "7", 7},
		{"clamped to 32", "100", 32},
		{"non-numeric falls back", "fast", 0},
		{"zero falls back", "0", 0},
		{"negative falls back", "-3", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Setenv("FORGE_IO_THREADS", tt.envValue)
			defer os.Unsetenv("FORGE_IO_THREADS")

			got := IOWorkers(HDD)
			if tt.expected > 0 {
				if got != tt.expected {
					t.Errorf("IOWorkers(HDD) with FORGE_IO_THREADS=%s = %d, want %d", tt.envValue, got, tt.expected)
				}
			} else {
				// Falls back to the HDD range
				if got < 2 || got > 4 {
					t.Errorf("IOWorkers(HDD) with invalid override = %d, want within [2, 4]", got)
				}
			}
		})
	}
}

func TestImmediateThumbBudget(t *testing.T) {
	if got := ImmediateThumbBudget(HDD); got != 2000 {
		t.Errorf("ImmediateThumbBudget(HDD) = %d, want 2000", got)
	}
	if got := ImmediateThumbBudget(SSD); got != 8000 {
		t.Errorf("ImmediateThumbBudget(SSD) = %d, want 8000", got)
	}
}

func TestPrecacheChunkSize(t *testing.T) {
	if got := PrecacheChunkSize(HDD); got != 192 {
		t.Errorf("PrecacheChunkSize(HDD) = %d, want 192", got)
	}
	if got := PrecacheChunkSize(SSD); got != 640 {
		t.Errorf("PrecacheChunkSize(SSD) = %d, want 640", got)
	}
}

func TestSizingConsistency(t *testing.T) {
	os.Unsetenv("FORGE_IO_THREADS")

	// Repeated calls with the same profile return the same count
	first := IOWorkers(SSD)
	for i := 0; i < 5; i++ {
		if got := IOWorkers(SSD); got != first {
			t.Errorf("IOWorkers(SSD) returned different results: first=%d, iteration %d=%d", first, i, got)
		}
	}
}

package domain

import (
	"testing"
	"time"
)

// TestBackoffDelay pins the retry schedule: base 30s, doubling, capped
// at one hour.
func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		consecutiveErrors int
		want              time.Duration
	}{
		{0, 0},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{7, 32 * time.Minute},
		{8, time.Hour},
		{20, time.Hour}, // cap
	}

	for _, tt := range tests {
		got := BackoffDelay(tt.consecutiveErrors, DefaultBackoffBase, DefaultBackoffCap)
		if got != tt.want {
			t.Errorf("BackoffDelay(%d) = %v, want %v", tt.consecutiveErrors, got, tt.want)
		}
	}
}

// TestCursorIsInitial covers every way a cursor can demand a full walk.
func TestCursorIsInitial(t *testing.T) {
	var nilCursor *SyncCursor
	if !nilCursor.IsInitial() {
		t.Error("nil cursor should be initial")
	}
	if !(&SyncCursor{Mode: SyncModeIncremental}).IsInitial() {
		t.Error("empty token should be initial")
	}
	if !(&SyncCursor{Token: "t", Mode: SyncModeInitial}).IsInitial() {
		t.Error("initial mode should stay initial")
	}
	if (&SyncCursor{Token: "t", Mode: SyncModeIncremental}).IsInitial() {
		t.Error("token + incremental should not be initial")
	}
}

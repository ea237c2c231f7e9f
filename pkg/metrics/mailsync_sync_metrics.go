// Package metrics provides sync pipeline counters and latency tracking.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Sync Counters
// =============================================================================

// SyncMetrics tracks mailbox sync outcomes across all accounts.
// All counters are updated atomically from worker goroutines.
type SyncMetrics struct {
	Started      atomic.Int64
	Succeeded    atomic.Int64
	Partial      atomic.Int64
	Failed       atomic.Int64
	RateLimited  atomic.Int64
	Coalesced    atomic.Int64 // webhook pushes merged into an in-flight sync
	Quarantined  atomic.Int64
	EmailsUpsert atomic.Int64
}

// Snapshot returns a point-in-time copy for the health endpoint.
func (m *SyncMetrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"started":         m.Started.Load(),
		"succeeded":       m.Succeeded.Load(),
		"partial":         m.Partial.Load(),
		"failed":          m.Failed.Load(),
		"rate_limited":    m.RateLimited.Load(),
		"coalesced":       m.Coalesced.Load(),
		"quarantined":     m.Quarantined.Load(),
		"emails_upserted": m.EmailsUpsert.Load(),
	}
}

var (
	globalSync     *SyncMetrics
	globalSyncOnce sync.Once
)

// GlobalSync returns the process-wide sync metrics.
func GlobalSync() *SyncMetrics {
	globalSyncOnce.Do(func() {
		globalSync = &SyncMetrics{}
	})
	return globalSync
}

// =============================================================================
// Per-Provider Sync Latency (P50/P95/P99)
// =============================================================================

// LatencyTracker tracks durations and calculates percentiles.
// Uses a sliding window to bound memory.
type LatencyTracker struct {
	mu         sync.RWMutex
	samples    []int64 // microseconds
	maxSamples int
	sorted     bool
}

// NewLatencyTracker creates a tracker keeping windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record records one measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	micros := d.Microseconds()

	if len(lt.samples) >= lt.maxSamples {
		// Remove first 10% to avoid frequent shifts
		removeCount := lt.maxSamples / 10
		if removeCount < 1 {
			removeCount = 1
		}
		lt.samples = lt.samples[removeCount:]
	}

	lt.samples = append(lt.samples, micros)
	lt.sorted = false
}

// Stats returns statistics including percentiles.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) == 0 {
		return LatencyStats{}
	}

	if !lt.sorted {
		sortInt64s(lt.samples)
		lt.sorted = true
	}

	n := len(lt.samples)

	var sum int64
	for _, v := range lt.samples {
		sum += v
	}

	return LatencyStats{
		Count:   int64(n),
		Min:     time.Duration(lt.samples[0]) * time.Microsecond,
		Max:     time.Duration(lt.samples[n-1]) * time.Microsecond,
		Avg:     time.Duration(sum/int64(n)) * time.Microsecond,
		P50:     time.Duration(lt.percentile(0.50)) * time.Microsecond,
		P95:     time.Duration(lt.percentile(0.95)) * time.Microsecond,
		P99:     time.Duration(lt.percentile(0.99)) * time.Microsecond,
		Samples: n,
	}
}

// percentile must be called with lock held and sorted data.
func (lt *LatencyTracker) percentile(p float64) int64 {
	if len(lt.samples) == 0 {
		return 0
	}
	idx := int(float64(len(lt.samples)-1) * p)
	return lt.samples[idx]
}

// Reset clears all samples.
func (lt *LatencyTracker) Reset() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.samples = lt.samples[:0]
	lt.sorted = false
}

func sortInt64s(s []int64) {
	// 샘플 수가 작아 삽입 정렬로 충분
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count   int64         `json:"count"`
	Min     time.Duration `json:"min"`
	Max     time.Duration `json:"max"`
	Avg     time.Duration `json:"avg"`
	P50     time.Duration `json:"p50"`
	P95     time.Duration `json:"p95"`
	P99     time.Duration `json:"p99"`
	Samples int           `json:"samples"`
}

// ToMap converts stats to milliseconds for JSON output.
func (s LatencyStats) ToMap() map[string]any {
	return map[string]any{
		"count":       s.Count,
		"min_ms":      float64(s.Min.Microseconds()) / 1000,
		"max_ms":      float64(s.Max.Microseconds()) / 1000,
		"avg_ms":      float64(s.Avg.Microseconds()) / 1000,
		"p50_ms":      float64(s.P50.Microseconds()) / 1000,
		"p95_ms":      float64(s.P95.Microseconds()) / 1000,
		"p99_ms":      float64(s.P99.Microseconds()) / 1000,
		"sample_size": s.Samples,
	}
}

// =============================================================================
// Per-Provider Registry
// =============================================================================

// LatencyRegistry manages latency trackers keyed by provider.
type LatencyRegistry struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

// NewLatencyRegistry creates a new registry.
func NewLatencyRegistry(windowSize int) *LatencyRegistry {
	return &LatencyRegistry{
		trackers: make(map[string]*LatencyTracker),
		window:   windowSize,
	}
}

// Record records a sync duration for the given provider.
func (r *LatencyRegistry) Record(provider string, d time.Duration) {
	r.mu.RLock()
	tracker, ok := r.trackers[provider]
	r.mu.RUnlock()

	if !ok {
		r.mu.Lock()
		// Double-check after acquiring write lock
		if tracker, ok = r.trackers[provider]; !ok {
			tracker = NewLatencyTracker(r.window)
			r.trackers[provider] = tracker
		}
		r.mu.Unlock()
	}

	tracker.Record(d)
}

// Stats returns statistics for one provider.
func (r *LatencyRegistry) Stats(provider string) LatencyStats {
	r.mu.RLock()
	tracker, ok := r.trackers[provider]
	r.mu.RUnlock()

	if !ok {
		return LatencyStats{}
	}
	return tracker.Stats()
}

// AllStats returns statistics for all providers.
func (r *LatencyRegistry) AllStats() map[string]LatencyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]LatencyStats, len(r.trackers))
	for name, tracker := range r.trackers {
		result[name] = tracker.Stats()
	}
	return result
}

var (
	globalLatency     *LatencyRegistry
	globalLatencyOnce sync.Once
)

// GlobalLatency returns the global per-provider latency registry.
func GlobalLatency() *LatencyRegistry {
	globalLatencyOnce.Do(func() {
		globalLatency = NewLatencyRegistry(1000)
	})
	return globalLatency
}

// RecordSyncLatency records a sync duration to the global registry.
func RecordSyncLatency(provider string, d time.Duration) {
	GlobalLatency().Record(provider, d)
}

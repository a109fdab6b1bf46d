// Package timeseries provides time-windowed request rate tracking.
//
// A RateTracker keeps cumulative request and failure counters and a ring
// of periodic samples, and derives rolling rates (1s, 10s, 60s) from them.
//
// Thread-safe: Add() uses atomics, Stats() takes a read lock.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize retains five minutes of samples at one per second.
	ringBufferSize = 300

	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is a point-in-time snapshot of the cumulative counters.
type sample struct {
	timestamp time.Time
	requests  int64
	failures  int64
}

// RateTracker tracks request counts and computes rolling rates.
//
//	tracker := NewRateTracker()
//	tracker.Add(failed)    // per event, lock-free
//	tracker.RecordSample() // once a second from a ticker
//	stats := tracker.Stats()
type RateTracker struct {
	requests atomic.Int64
	failures atomic.Int64

	samples  []sample
	writeIdx int
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats holds rates at a point in time.
type RateStats struct {
	TotalRequests int64
	TotalFailures int64

	// Requests per second over each window.
	RPS1s  float64
	RPS10s float64
	RPS60s float64

	// FailuresPerSec10s is the failure rate over the last 10 seconds.
	FailuresPerSec10s float64

	// RPSOverall is the average since tracking started.
	RPSOverall float64
}

// NewRateTracker creates a tracker using the wall clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with a custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add counts one request, and one failure if failed is true.
func (t *RateTracker) Add(failed bool) {
	t.requests.Add(1)
	if failed {
		t.failures.Add(1)
	}
}

// RecordSample snapshots the counters. Call it periodically.
func (t *RateTracker) RecordSample() {
	s := sample{
		timestamp: t.clock.Now(),
		requests:  t.requests.Load(),
		failures:  t.failures.Load(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
		return
	}
	t.samples[t.writeIdx] = s
	t.writeIdx = (t.writeIdx + 1) % ringBufferSize
}

// Stats computes the current rates. It never reports "no data": with
// too little history the oldest sample is used as the window start.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()
	cur := sample{
		timestamp: now,
		requests:  t.requests.Load(),
		failures:  t.failures.Load(),
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{
		TotalRequests: cur.requests,
		TotalFailures: cur.failures,
	}

	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.RPSOverall = float64(cur.requests) / elapsed
	}

	stats.RPS1s, _ = t.rateOverWindow(cur, window1s)
	stats.RPS10s, stats.FailuresPerSec10s = t.rateOverWindow(cur, window10s)
	stats.RPS60s, _ = t.rateOverWindow(cur, window60s)

	return stats
}

// rateOverWindow returns requests/sec and failures/sec since the sample
// closest to (but not after) cur.timestamp-window. Caller holds mu.
func (t *RateTracker) rateOverWindow(cur sample, window time.Duration) (reqRate, failRate float64) {
	if len(t.samples) == 0 {
		return 0, 0
	}

	target := cur.timestamp.Add(-window)

	var best *sample
	var bestDiff time.Duration = -1
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		diff := target.Sub(s.timestamp)
		if bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}

	elapsed := cur.timestamp.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0, 0
	}
	return float64(cur.requests-best.requests) / elapsed,
		float64(cur.failures-best.failures) / elapsed
}

// oldestSample returns the oldest retained sample. Caller holds mu.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all counters and history.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.requests.Store(0)
	t.failures.Store(0)
	t.samples = t.samples[:0]
	t.samples = append(t.samples, sample{timestamp: now})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of retained samples.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}

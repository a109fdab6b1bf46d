// Package stats aggregates request events into Locust-style statistics.
//
// The Aggregator subscribes to the event bus and keeps:
// - one row per (request type, name) with counts and response times
// - t-digest percentiles (p50, p90, p95, p99) per row and overall
// - a failure table keyed by (name, error message)
// - rolling request and failure rates
package stats

import (
	"sort"
	"sync"
	"time"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/timeseries"
)

// maxFailureKeys caps the failure table. Errors that embed unique text
// would otherwise grow it without bound.
const maxFailureKeys = 1000

// overflowMessage is the failure key used once the table is full.
const overflowMessage = "(other errors)"

// failureKey groups failures the way Locust does.
type failureKey struct {
	requestType string
	name        string
	message     string
}

// FailureSummary is one row of the failure table.
type FailureSummary struct {
	RequestType string
	Name        string
	Message     string
	Occurrences int64
}

// AggregatedStats is a snapshot taken by Snapshot(). Safe to keep.
type AggregatedStats struct {
	Timestamp time.Time
	Elapsed   time.Duration

	// Entries are sorted by request type then name.
	Entries []EntrySummary

	// Total aggregates every row, labelled "Aggregated".
	Total EntrySummary

	// Failures are sorted by occurrences, most frequent first.
	Failures []FailureSummary

	RPS1s             float64
	RPS10s            float64
	RPS60s            float64
	RPSOverall        float64
	FailuresPerSec10s float64
}

// FailRatio returns the overall failure ratio.
func (s *AggregatedStats) FailRatio() float64 {
	return s.Total.FailRatio()
}

// Aggregator collects events from the bus.
//
// Thread-safe: OnRequest may be called from every user goroutine.
type Aggregator struct {
	mu        sync.RWMutex
	entries   map[entryKey]*RequestStats
	total     *RequestStats
	failures  map[failureKey]int64
	startTime time.Time

	rates *timeseries.RateTracker
}

// TotalName labels the aggregate row.
const TotalName = "Aggregated"

var _ events.Listener = (*Aggregator)(nil)

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return NewAggregatorWithRates(timeseries.NewRateTracker())
}

// NewAggregatorWithRates creates an aggregator using a caller-provided
// rate tracker, so tests can drive it with a fake clock.
func NewAggregatorWithRates(rates *timeseries.RateTracker) *Aggregator {
	return &Aggregator{
		entries:   make(map[entryKey]*RequestStats),
		total:     newRequestStats("", TotalName),
		failures:  make(map[failureKey]int64),
		startTime: time.Now(),
		rates:     rates,
	}
}

// OnRequest records one event.
func (a *Aggregator) OnRequest(ev events.RequestEvent) {
	entry, total := a.entry(ev.RequestType, ev.Name)
	entry.record(ev)
	total.record(ev)
	a.rates.Add(ev.Failed())

	if ev.Failed() {
		a.recordFailure(ev)
	}
}

// entry returns the row for the key, creating it on first use, and the
// aggregate row.
func (a *Aggregator) entry(requestType, name string) (*RequestStats, *RequestStats) {
	key := entryKey{requestType: requestType, name: name}

	a.mu.RLock()
	e, ok := a.entries[key]
	total := a.total
	a.mu.RUnlock()
	if ok {
		return e, total
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok = a.entries[key]; !ok {
		e = newRequestStats(requestType, name)
		a.entries[key] = e
	}
	return e, a.total
}

func (a *Aggregator) recordFailure(ev events.RequestEvent) {
	key := failureKey{
		requestType: ev.RequestType,
		name:        ev.Name,
		message:     ev.Exception.Error(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.failures[key]; !ok && len(a.failures) >= maxFailureKeys {
		key.message = overflowMessage
	}
	a.failures[key]++
}

// RecordSample snapshots the rate counters. Call once per second.
func (a *Aggregator) RecordSample() {
	a.rates.RecordSample()
}

// Snapshot computes the current statistics.
func (a *Aggregator) Snapshot() *AggregatedStats {
	now := time.Now()

	a.mu.RLock()
	rows := make([]*RequestStats, 0, len(a.entries))
	for _, e := range a.entries {
		rows = append(rows, e)
	}
	failures := make([]FailureSummary, 0, len(a.failures))
	for k, n := range a.failures {
		failures = append(failures, FailureSummary{
			RequestType: k.requestType,
			Name:        k.name,
			Message:     k.message,
			Occurrences: n,
		})
	}
	start := a.startTime
	total := a.total
	a.mu.RUnlock()

	result := &AggregatedStats{
		Timestamp: now,
		Elapsed:   now.Sub(start),
		Entries:   make([]EntrySummary, 0, len(rows)),
		Total:     total.summary(),
		Failures:  failures,
	}
	for _, r := range rows {
		result.Entries = append(result.Entries, r.summary())
	}

	sort.Slice(result.Entries, func(i, j int) bool {
		if result.Entries[i].RequestType != result.Entries[j].RequestType {
			return result.Entries[i].RequestType < result.Entries[j].RequestType
		}
		return result.Entries[i].Name < result.Entries[j].Name
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		if result.Failures[i].Occurrences != result.Failures[j].Occurrences {
			return result.Failures[i].Occurrences > result.Failures[j].Occurrences
		}
		return result.Failures[i].Message < result.Failures[j].Message
	})

	rates := a.rates.Stats()
	result.RPS1s = rates.RPS1s
	result.RPS10s = rates.RPS10s
	result.RPS60s = rates.RPS60s
	result.FailuresPerSec10s = rates.FailuresPerSec10s
	if secs := result.Elapsed.Seconds(); secs > 0 {
		result.RPSOverall = float64(result.Total.Requests) / secs
	}

	return result
}

// Reset clears every row, the failure table and the rate history, and
// restarts the elapsed clock.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.entries = make(map[entryKey]*RequestStats)
	a.total = newRequestStats("", TotalName)
	a.failures = make(map[failureKey]int64)
	a.startTime = time.Now()
	a.rates.Reset()
}

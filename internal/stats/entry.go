package stats

import (
	"math"
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
)

// digestCompression bounds each digest to roughly 100 centroids (~10KB).
const digestCompression = 100

// entryKey identifies a stats row. Locust keys rows the same way.
type entryKey struct {
	requestType string
	name        string
}

// RequestStats accumulates response times for one (request type, name) row.
//
// Thread-safe: record() and summary() may be called concurrently.
type RequestStats struct {
	RequestType string
	Name        string

	mu          sync.Mutex
	requests    int64
	failures    int64
	totalMs     float64
	minMs       float64
	maxMs       float64
	totalLength int64
	digest      *tdigest.TDigest
	firstAt     time.Time
	lastAt      time.Time
}

// EntrySummary is an immutable copy of one row.
type EntrySummary struct {
	RequestType string
	Name        string

	Requests int64
	Failures int64

	AvgMs float64
	MinMs float64
	MaxMs float64
	P50Ms float64
	P90Ms float64
	P95Ms float64
	P99Ms float64

	AvgLength float64

	FirstRequest time.Time
	LastRequest  time.Time
}

// FailRatio returns failures / requests, or 0 with no requests.
func (s EntrySummary) FailRatio() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests)
}

func newRequestStats(requestType, name string) *RequestStats {
	return &RequestStats{
		RequestType: requestType,
		Name:        name,
		minMs:       math.MaxFloat64,
		digest:      tdigest.NewWithCompression(digestCompression),
	}
}

func (s *RequestStats) record(ev events.RequestEvent) {
	ms := ev.ResponseTime
	if ms < 0 || math.IsNaN(ms) {
		ms = 0
	}
	at := ev.StartTime
	if at.IsZero() {
		at = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests++
	if ev.Failed() {
		s.failures++
	}
	s.totalMs += ms
	s.totalLength += ev.ResponseLength
	if ms < s.minMs {
		s.minMs = ms
	}
	if ms > s.maxMs {
		s.maxMs = ms
	}
	s.digest.Add(ms, 1)

	if s.firstAt.IsZero() || at.Before(s.firstAt) {
		s.firstAt = at
	}
	if at.After(s.lastAt) {
		s.lastAt = at
	}
}

func (s *RequestStats) summary() EntrySummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := EntrySummary{
		RequestType:  s.RequestType,
		Name:         s.Name,
		Requests:     s.requests,
		Failures:     s.failures,
		FirstRequest: s.firstAt,
		LastRequest:  s.lastAt,
	}
	if s.requests == 0 {
		return out
	}

	out.AvgMs = s.totalMs / float64(s.requests)
	out.MinMs = s.minMs
	out.MaxMs = s.maxMs
	out.AvgLength = float64(s.totalLength) / float64(s.requests)
	out.P50Ms = s.digest.Quantile(0.50)
	out.P90Ms = s.digest.Quantile(0.90)
	out.P95Ms = s.digest.Quantile(0.95)
	out.P99Ms = s.digest.Quantile(0.99)
	return out
}

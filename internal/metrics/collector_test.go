package metrics

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/process"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newTestCollector creates a collector with a private registry.
func newTestCollector(cfg CollectorConfig) (*Collector, *prometheus.Registry) {
	registry := prometheus.NewRegistry()
	c := NewCollectorWithRegistry(cfg, registry)
	return c, registry
}

func gather(t *testing.T, g prometheus.Gatherer) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, mf := range families {
		out[mf.GetName()] = mf
	}
	return out
}

func histogramCount(families map[string]*dto.MetricFamily, name string, match map[string]string) uint64 {
	mf, ok := families[name]
	if !ok {
		return 0
	}
	var n uint64
	for _, m := range mf.GetMetric() {
		if labelsMatch(m, match) {
			n += m.GetHistogram().GetSampleCount()
		}
	}
	return n
}

func reqEvent(name string, ms float64, err error) events.RequestEvent {
	return events.RequestEvent{
		RequestType:  "jr",
		Name:         name,
		ResponseTime: ms,
		Exception:    err,
	}
}

// =============================================================================
// Tests: NewCollector
// =============================================================================

func TestNewCollector_InitialValues(t *testing.T) {
	tests := []struct {
		name          string
		cfg           CollectorConfig
		wantRemaining float64
	}{
		{
			name:          "unlimited",
			cfg:           CollectorConfig{TargetUsers: 10, BinaryPath: "/usr/bin/jr"},
			wantRemaining: -1,
		},
		{
			name:          "bounded",
			cfg:           CollectorConfig{TargetUsers: 50, TestDuration: time.Minute, Version: "1.2.3", BinaryPath: "jr"},
			wantRemaining: -1, // only updated by RecordStats
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reg := newTestCollector(tt.cfg)
			families := gather(t, reg)

			if got := CounterValue(families, "jr_swarm_target_users", nil); got != float64(tt.cfg.TargetUsers) {
				t.Errorf("target_users = %v, want %d", got, tt.cfg.TargetUsers)
			}
			if got := CounterValue(families, "jr_swarm_test_duration_seconds", nil); got != tt.cfg.TestDuration.Seconds() {
				t.Errorf("test_duration_seconds = %v, want %v", got, tt.cfg.TestDuration.Seconds())
			}
			if got := CounterValue(families, "jr_swarm_test_remaining_seconds", nil); got != tt.wantRemaining {
				t.Errorf("test_remaining_seconds = %v, want %v", got, tt.wantRemaining)
			}
			if got := CounterValue(families, "jr_swarm_info", map[string]string{"binary": tt.cfg.BinaryPath}); got != 1 {
				t.Errorf("info = %v, want 1", got)
			}
		})
	}
}

func TestNewCollector_DefaultVersion(t *testing.T) {
	_, reg := newTestCollector(CollectorConfig{})
	families := gather(t, reg)

	if got := CounterValue(families, "jr_swarm_info", map[string]string{"version": "dev"}); got != 1 {
		t.Errorf("info{version=dev} = %v, want 1", got)
	}
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollectorWithRegistry(CollectorConfig{}, reg)

	defer func() {
		if recover() == nil {
			t.Error("second registration on the same registry did not panic")
		}
	}()
	NewCollectorWithRegistry(CollectorConfig{}, reg)
}

// =============================================================================
// Tests: OnRequest
// =============================================================================

func TestCollector_OnRequest(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{TargetUsers: 1})

	notStarted := &process.InvocationError{Command: "/missing/jr", ExitCode: -1, Err: errors.New("no such file")}
	exit2 := &process.InvocationError{Command: "/usr/bin/jr", ExitCode: 2}

	c.OnRequest(reqEvent("jr", 12, nil))
	c.OnRequest(reqEvent("jr", 15, nil))
	c.OnRequest(reqEvent("jr", 3, exit2))
	c.OnRequest(reqEvent("users", 1, notStarted))
	c.OnRequest(reqEvent("users", 1, errors.New("foreign")))

	families := gather(t, reg)

	counters := []struct {
		labels map[string]string
		want   float64
	}{
		{map[string]string{"name": "jr", "result": ResultSuccess}, 2},
		{map[string]string{"name": "jr", "result": ResultFailure}, 1},
		{map[string]string{"name": "users", "result": ResultFailure}, 2},
		{map[string]string{"result": ResultFailure}, 3},
	}
	for _, tt := range counters {
		t.Run(fmt.Sprint(tt.labels), func(t *testing.T) {
			if got := CounterValue(families, "jr_swarm_requests_total", tt.labels); got != tt.want {
				t.Errorf("requests_total%v = %v, want %v", tt.labels, got, tt.want)
			}
		})
	}

	codes := map[string]float64{"0": 2, "2": 1, "-1": 1, "1": 1}
	for code, want := range codes {
		if got := CounterValue(families, "jr_swarm_invocation_exit_codes_total", map[string]string{"code": code}); got != want {
			t.Errorf("exit_codes_total{code=%s} = %v, want %v", code, got, want)
		}
	}

	if got := histogramCount(families, "jr_swarm_response_time_seconds", map[string]string{"name": "jr"}); got != 3 {
		t.Errorf("response_time_seconds{name=jr} count = %d, want 3", got)
	}

	summary := c.GenerateSummary()
	if summary.ExitCodes[0] != 2 || summary.ExitCodes[-1] != 1 {
		t.Errorf("summary exit codes = %v", summary.ExitCodes)
	}
}

func TestCollector_ResponseTimeInSeconds(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{Buckets: []float64{0.1, 1}})

	c.OnRequest(reqEvent("jr", 250, nil))

	mf := gather(t, reg)["jr_swarm_response_time_seconds"]
	h := mf.GetMetric()[0].GetHistogram()
	if h.GetSampleSum() != 0.25 {
		t.Errorf("sample sum = %v, want 0.25", h.GetSampleSum())
	}
	for _, b := range h.GetBucket() {
		want := uint64(0)
		if b.GetUpperBound() == 1 {
			want = 1
		}
		if b.GetCumulativeCount() != want {
			t.Errorf("bucket le=%v count = %d, want %d", b.GetUpperBound(), b.GetCumulativeCount(), want)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"not started", &process.InvocationError{ExitCode: -1}, -1},
		{"exit 3", &process.InvocationError{ExitCode: 3}, 3},
		{"wrapped", fmt.Errorf("ctx: %w", &process.InvocationError{ExitCode: 137}), 137},
		{"foreign", errors.New("boom"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: Swarm gauges
// =============================================================================

func TestCollector_RecordStats(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{TargetUsers: 100, TestDuration: time.Hour})

	c.RecordStats(StatsUpdate{
		ActiveUsers:       40,
		RequestsPerSecond: 120.5,
		FailuresPerSecond: 2,
		FailRatio:         0.02,
		P50Ms:             50,
		P95Ms:             100,
		P99Ms:             200,
	})

	families := gather(t, reg)
	gauges := map[string]float64{
		"jr_swarm_active_users":              40,
		"jr_swarm_requests_per_second":       120.5,
		"jr_swarm_failures_per_second":       2,
		"jr_swarm_fail_ratio":                0.02,
		"jr_swarm_response_time_p50_seconds": 0.05,
		"jr_swarm_response_time_p95_seconds": 0.1,
		"jr_swarm_response_time_p99_seconds": 0.2,
	}
	for name, want := range gauges {
		if got := CounterValue(families, name, nil); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	remaining := CounterValue(families, "jr_swarm_test_remaining_seconds", nil)
	if remaining <= 3590 || remaining > 3600 {
		t.Errorf("test_remaining_seconds = %v, want just under 3600", remaining)
	}
	if c.PeakActive() != 40 {
		t.Errorf("PeakActive() = %d, want 40", c.PeakActive())
	}
}

func TestCollector_PeakActive(t *testing.T) {
	c, _ := newTestCollector(CollectorConfig{})

	for _, n := range []int{5, 20, 10, 0} {
		c.SetActiveCount(n)
	}

	if c.PeakActive() != 20 {
		t.Errorf("PeakActive() = %d, want 20", c.PeakActive())
	}
}

func TestCollector_UserLifecycle(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{TargetUsers: 3})

	for i := 0; i < 3; i++ {
		c.UserStarted()
	}
	c.UserStopped()
	c.SetRampProgress(1)

	families := gather(t, reg)
	if got := CounterValue(families, "jr_swarm_users_started_total", nil); got != 3 {
		t.Errorf("users_started_total = %v, want 3", got)
	}
	if got := CounterValue(families, "jr_swarm_users_stopped_total", nil); got != 1 {
		t.Errorf("users_stopped_total = %v, want 1", got)
	}
	if got := CounterValue(families, "jr_swarm_ramp_progress", nil); got != 1 {
		t.Errorf("ramp_progress = %v, want 1", got)
	}

	s := c.GenerateSummary()
	if s.UsersStarted != 3 || s.TargetUsers != 3 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCollector_SubscribedToBus(t *testing.T) {
	bus := events.NewBus()
	c, reg := newTestCollector(CollectorConfig{})
	bus.Subscribe(c)

	bus.Fire(reqEvent("jr", 1, nil))

	families := gather(t, reg)
	if got := CounterValue(families, "jr_swarm_requests_total", nil); got != 1 {
		t.Errorf("requests_total = %v, want 1", got)
	}
}

// =============================================================================
// Tests: Thread Safety
// =============================================================================

func TestCollector_ThreadSafety(t *testing.T) {
	c, reg := newTestCollector(CollectorConfig{TargetUsers: 100})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(3)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.OnRequest(reqEvent(fmt.Sprintf("task-%d", id), float64(j), nil))
			}
		}(i)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.UserStarted()
				c.RecordStats(StatsUpdate{ActiveUsers: id * 10})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = c.PeakActive()
				_ = c.GenerateSummary()
			}
		}()
	}
	wg.Wait()

	families := gather(t, reg)
	if got := CounterValue(families, "jr_swarm_requests_total", nil); got != 500 {
		t.Errorf("requests_total = %v, want 500", got)
	}
	if c.UsersStarted() != 500 {
		t.Errorf("UsersStarted() = %d, want 500", c.UsersStarted())
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkCollector_OnRequest(b *testing.B) {
	c, _ := newTestCollector(CollectorConfig{TargetUsers: 100})
	ev := reqEvent("jr", 12.5, nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.OnRequest(ev)
	}
}

// Package metrics provides Prometheus metrics for go-jr-swarm.
//
// The Collector subscribes to the event bus and turns every request event
// into counters and a response-time histogram. Swarm-level gauges (users,
// ramp progress, rolling rates) are pushed by the orchestrator.
package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/process"
)

const namespace = "jr_swarm"

// DefaultBuckets covers short jr runs (a few ms) up to long generators.
var DefaultBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.075,
	0.1, 0.25, 0.5, 0.75,
	1.0, 2.5, 5.0, 10.0, 30.0,
}

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector manages all Prometheus metrics for the swarm.
type Collector struct {
	info                *prometheus.GaugeVec
	targetUsers         prometheus.Gauge
	testDurationSeconds prometheus.Gauge
	activeUsers         prometheus.Gauge
	rampProgress        prometheus.Gauge
	elapsedSeconds      prometheus.Gauge
	remainingSeconds    prometheus.Gauge

	requestsTotal       *prometheus.CounterVec
	responseTimeSeconds *prometheus.HistogramVec
	exitCodesTotal      *prometheus.CounterVec
	usersStartedTotal   prometheus.Counter
	usersStoppedTotal   prometheus.Counter

	requestsPerSecond prometheus.Gauge
	failuresPerSecond prometheus.Gauge
	failRatio         prometheus.Gauge
	responseTimeP50   prometheus.Gauge
	responseTimeP95   prometheus.Gauge
	responseTimeP99   prometheus.Gauge

	targetUsersN int
	testDuration time.Duration
	startTime    time.Time

	mu           sync.Mutex
	peakActive   int
	usersStarted int64
	exitCodes    map[int]int64
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	TargetUsers  int
	TestDuration time.Duration
	Version      string
	BinaryPath   string
	Buckets      []float64 // nil uses DefaultBuckets
}

var _ events.Listener = (*Collector)(nil)

// NewCollector creates a collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector on a custom registry.
// Tests use a fresh prometheus.NewRegistry() each.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	buckets := cfg.Buckets
	if len(buckets) == 0 {
		buckets = DefaultBuckets
	}

	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the load test (value always 1)",
		}, []string{"version", "binary"}),
		targetUsers:         gauge("target_users", "Target number of simulated users"),
		testDurationSeconds: gauge("test_duration_seconds", "Configured test duration (0 = unlimited)"),
		activeUsers:         gauge("active_users", "Currently running simulated users"),
		rampProgress:        gauge("ramp_progress", "User ramp-up progress (0.0 to 1.0)"),
		elapsedSeconds:      gauge("test_elapsed_seconds", "Seconds since the test started"),
		remainingSeconds:    gauge("test_remaining_seconds", "Seconds until the test ends (-1 = unlimited)"),

		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "jr invocations by task name and result",
		}, []string{"name", "result"}),
		responseTimeSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_time_seconds",
			Help:      "Wall-clock duration of jr invocations",
			Buckets:   buckets,
		}, []string{"name"}),
		exitCodesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocation_exit_codes_total",
			Help:      "jr exit codes (-1 = could not start)",
		}, []string{"code"}),
		usersStartedTotal: counter("users_started_total", "Simulated users started"),
		usersStoppedTotal: counter("users_stopped_total", "Simulated users stopped"),

		requestsPerSecond: gauge("requests_per_second", "Request rate over the last 10 seconds"),
		failuresPerSecond: gauge("failures_per_second", "Failure rate over the last 10 seconds"),
		failRatio:         gauge("fail_ratio", "Failed requests / total requests"),
		responseTimeP50:   gauge("response_time_p50_seconds", "Response time 50th percentile"),
		responseTimeP95:   gauge("response_time_p95_seconds", "Response time 95th percentile"),
		responseTimeP99:   gauge("response_time_p99_seconds", "Response time 99th percentile"),

		targetUsersN: cfg.TargetUsers,
		testDuration: cfg.TestDuration,
		startTime:    time.Now(),
		exitCodes:    make(map[int]int64),
	}

	registry.MustRegister(
		c.info,
		c.targetUsers,
		c.testDurationSeconds,
		c.activeUsers,
		c.rampProgress,
		c.elapsedSeconds,
		c.remainingSeconds,
		c.requestsTotal,
		c.responseTimeSeconds,
		c.exitCodesTotal,
		c.usersStartedTotal,
		c.usersStoppedTotal,
		c.requestsPerSecond,
		c.failuresPerSecond,
		c.failRatio,
		c.responseTimeP50,
		c.responseTimeP95,
		c.responseTimeP99,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.BinaryPath).Set(1)
	c.targetUsers.Set(float64(cfg.TargetUsers))
	c.testDurationSeconds.Set(cfg.TestDuration.Seconds())
	c.remainingSeconds.Set(-1)

	return c
}

// OnRequest records one request event.
func (c *Collector) OnRequest(ev events.RequestEvent) {
	result := ResultSuccess
	if ev.Failed() {
		result = ResultFailure
	}
	c.requestsTotal.WithLabelValues(ev.Name, result).Inc()
	c.responseTimeSeconds.WithLabelValues(ev.Name).Observe(ev.ResponseTime / 1000)

	code := ExitCode(ev.Exception)
	c.exitCodesTotal.WithLabelValues(strconv.Itoa(code)).Inc()

	c.mu.Lock()
	c.exitCodes[code]++
	c.mu.Unlock()
}

// ExitCode returns the jr exit code carried by an event exception:
// 0 for success, -1 when jr never started, 1 for foreign errors.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var invErr *process.InvocationError
	if errors.As(err, &invErr) {
		return invErr.ExitCode
	}
	return 1
}

// StatsUpdate carries the rolling figures computed by the stats package.
type StatsUpdate struct {
	ActiveUsers       int
	RequestsPerSecond float64
	FailuresPerSecond float64
	FailRatio         float64

	// Percentiles in milliseconds.
	P50Ms float64
	P95Ms float64
	P99Ms float64
}

// RecordStats updates the rolling gauges. Call it from the stats ticker.
func (c *Collector) RecordStats(u StatsUpdate) {
	c.SetActiveCount(u.ActiveUsers)
	c.requestsPerSecond.Set(u.RequestsPerSecond)
	c.failuresPerSecond.Set(u.FailuresPerSecond)
	c.failRatio.Set(u.FailRatio)
	c.responseTimeP50.Set(u.P50Ms / 1000)
	c.responseTimeP95.Set(u.P95Ms / 1000)
	c.responseTimeP99.Set(u.P99Ms / 1000)

	elapsed := time.Since(c.startTime)
	c.elapsedSeconds.Set(elapsed.Seconds())
	if c.testDuration > 0 {
		remaining := c.testDuration - elapsed
		if remaining < 0 {
			remaining = 0
		}
		c.remainingSeconds.Set(remaining.Seconds())
	}
}

// UserStarted records a simulated user start.
func (c *Collector) UserStarted() {
	c.usersStartedTotal.Inc()

	c.mu.Lock()
	c.usersStarted++
	c.mu.Unlock()
}

// UserStopped records a simulated user leaving its task loop.
func (c *Collector) UserStopped() {
	c.usersStoppedTotal.Inc()
}

// SetActiveCount updates the active user gauge and the peak.
func (c *Collector) SetActiveCount(count int) {
	c.activeUsers.Set(float64(count))

	c.mu.Lock()
	if count > c.peakActive {
		c.peakActive = count
	}
	c.mu.Unlock()
}

// SetRampProgress updates the ramp-up progress (0.0 to 1.0).
func (c *Collector) SetRampProgress(progress float64) {
	c.rampProgress.Set(progress)
}

// Summary holds the data for the exit summary.
type Summary struct {
	Duration        time.Duration
	TargetUsers     int
	PeakActiveUsers int
	UsersStarted    int64
	ExitCodes       map[int]int
}

// GenerateSummary creates a summary of the run.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:        time.Since(c.startTime),
		TargetUsers:     c.targetUsersN,
		PeakActiveUsers: c.peakActive,
		UsersStarted:    c.usersStarted,
		ExitCodes:       make(map[int]int, len(c.exitCodes)),
	}
	for code, count := range c.exitCodes {
		s.ExitCodes[code] = int(count)
	}
	return s
}

// PeakActive returns the peak active user count.
func (c *Collector) PeakActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peakActive
}

// UsersStarted returns the number of users started.
func (c *Collector) UsersStarted() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usersStarted
}

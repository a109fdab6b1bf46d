package swarm

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-jr-swarm/internal/config"
	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/logging"
	"github.com/randomizedcoder/go-jr-swarm/internal/metrics"
	"github.com/randomizedcoder/go-jr-swarm/internal/process"
)

// writeFakeJR creates an executable shell script standing in for jr.
func writeFakeJR(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jr")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, jrPath string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.JRPath = jrPath
	cfg.Users = 3
	cfg.SpawnRate = 100
	cfg.RampJitter = 0
	cfg.Seed = 1
	cfg.TUIEnabled = false
	cfg.SkipPreflight = true
	cfg.MetricsAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 5 * time.Second
	cfg.Args = []string{"run", "net_device", "-n", "1"}
	return cfg
}

func runOrchestrator(t *testing.T, cfg *config.Config) (*Orchestrator, string) {
	t.Helper()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	var out bytes.Buffer
	logger := logging.NewLoggerWithWriter(&bytes.Buffer{}, "text", "debug")
	o, err := New(cfg, logger, WithOutput(&out), WithVersion("test"))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	return o, out.String()
}

func readSnapshot(t *testing.T, path string) map[string]float64 {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer f.Close()

	families, err := metrics.ParseFamilies(f)
	if err != nil {
		t.Fatalf("parse snapshot: %v", err)
	}
	return map[string]float64{
		"success":   metrics.CounterValue(families, "jr_swarm_requests_total", map[string]string{"name": "jr", "result": "success"}),
		"failure":   metrics.CounterValue(families, "jr_swarm_requests_total", map[string]string{"name": "jr", "result": "failure"}),
		"exit_0":    metrics.CounterValue(families, "jr_swarm_invocation_exit_codes_total", map[string]string{"code": "0"}),
		"exit_1":    metrics.CounterValue(families, "jr_swarm_invocation_exit_codes_total", map[string]string{"code": "1"}),
		"started":   metrics.CounterValue(families, "jr_swarm_users_started_total", nil),
		"target":    metrics.CounterValue(families, "jr_swarm_target_users", nil),
		"ramp_done": metrics.CounterValue(families, "jr_swarm_ramp_progress", nil),
	}
}

func TestOrchestrator_IterationsComplete(t *testing.T) {
	cfg := testConfig(t, writeFakeJR(t, "exit 0"))
	cfg.Iterations = 2
	cfg.MetricsOut = filepath.Join(t.TempDir(), "metrics.prom")

	o, out := runOrchestrator(t, cfg)

	if got := o.UserManager().Invocations(); got != 6 {
		t.Errorf("Invocations() = %d, want 6", got)
	}
	if got := o.Bus().Fired(); got != 6 {
		t.Errorf("events fired = %d, want 6", got)
	}

	snap := readSnapshot(t, cfg.MetricsOut)
	want := map[string]float64{"success": 6, "failure": 0, "exit_0": 6, "started": 3, "target": 3, "ramp_done": 1}
	for k, v := range want {
		if snap[k] != v {
			t.Errorf("snapshot %s = %v, want %v", k, snap[k], v)
		}
	}

	for _, s := range []string{"go-jr-swarm Exit Summary", "Request Statistics", "Response Time Percentiles"} {
		if !strings.Contains(out, s) {
			t.Errorf("exit summary missing %q:\n%s", s, out)
		}
	}
}

func TestOrchestrator_FailuresReported(t *testing.T) {
	cfg := testConfig(t, writeFakeJR(t, "echo 'template not found' >&2; exit 1"))
	cfg.Users = 1
	cfg.Iterations = 3
	cfg.MetricsOut = filepath.Join(t.TempDir(), "metrics.prom")

	o, out := runOrchestrator(t, cfg)

	stats := o.GetAggregatedStats()
	if stats.Total.Requests != 3 || stats.Total.Failures != 3 {
		t.Errorf("requests=%d failures=%d, want 3/3", stats.Total.Requests, stats.Total.Failures)
	}
	if len(stats.Failures) != 1 || stats.Failures[0].Occurrences != 3 {
		t.Errorf("failures = %+v, want one kind with 3 occurrences", stats.Failures)
	}

	snap := readSnapshot(t, cfg.MetricsOut)
	if snap["failure"] != 3 || snap["exit_1"] != 3 {
		t.Errorf("snapshot failure=%v exit_1=%v, want 3/3", snap["failure"], snap["exit_1"])
	}
	if !strings.Contains(out, "Failures") || !strings.Contains(out, "non-zero exit status 1") {
		t.Errorf("exit summary should list the failure:\n%s", out)
	}
}

func TestOrchestrator_DurationStopsUnboundedUsers(t *testing.T) {
	cfg := testConfig(t, writeFakeJR(t, "exit 0"))
	cfg.Users = 2
	cfg.Duration = 300 * time.Millisecond
	cfg.WaitMin = 20 * time.Millisecond
	cfg.WaitMax = 40 * time.Millisecond
	cfg.MetricsAddr = ""

	start := time.Now()
	o, _ := runOrchestrator(t, cfg)
	elapsed := time.Since(start)

	if elapsed < 300*time.Millisecond || elapsed > 5*time.Second {
		t.Errorf("Run took %v, want about the configured duration", elapsed)
	}
	if o.UserManager().Invocations() < 2 {
		t.Errorf("Invocations() = %d, want at least one per user", o.UserManager().Invocations())
	}
	if o.UserManager().ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d after run, want 0", o.UserManager().ActiveCount())
	}
}

func TestOrchestrator_ContextCancel(t *testing.T) {
	cfg := testConfig(t, writeFakeJR(t, "exit 0"))
	cfg.WaitMin = 10 * time.Millisecond
	cfg.MetricsAddr = ""

	o, err := New(cfg, logging.NewLoggerWithWriter(&bytes.Buffer{}, "json", "info"), WithOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}

func TestOrchestrator_PreflightFailure(t *testing.T) {
	cfg := testConfig(t, "/nonexistent/jr")
	cfg.SkipPreflight = false
	cfg.MetricsAddr = ""

	var out bytes.Buffer
	o, err := New(cfg, logging.NewLoggerWithWriter(&bytes.Buffer{}, "json", "info"), WithOutput(&out))
	if err != nil {
		t.Fatal(err)
	}

	err = o.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "preflight") {
		t.Errorf("Run() = %v, want preflight error", err)
	}
	if !strings.Contains(out.String(), "Preflight checks:") {
		t.Errorf("preflight results not printed:\n%s", out.String())
	}
	if o.UserManager().StartedCount() != 0 {
		t.Error("no user should start after a failed preflight")
	}
}

func TestOrchestrator_MetricsBindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	cfg := testConfig(t, writeFakeJR(t, "exit 0"))
	cfg.MetricsAddr = busy.Addr().String()

	o, err := New(cfg, logging.NewLoggerWithWriter(&bytes.Buffer{}, "json", "info"), WithOutput(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}

	if err := o.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "metrics server") {
		t.Errorf("Run() = %v, want metrics server error", err)
	}
}

func TestLoadScenario(t *testing.T) {
	t.Run("single task from args", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Args = []string{"run", "users"}
		cfg.TaskName = "users"
		cfg.RequestType = "datagen"

		sc, err := LoadScenario(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if sc.RequestType != "datagen" || len(sc.Tasks) != 1 || sc.Tasks[0].Name != "users" {
			t.Errorf("scenario = %+v", sc)
		}
	})

	t.Run("scenario file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tasks.yaml")
		data := "request_type: kafka\ntasks:\n  - name: a\n    args: [run, a]\n  - name: b\n    weight: 2\n    args: [run, b]\n"
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		cfg := config.DefaultConfig()
		cfg.ScenarioFile = path

		sc, err := LoadScenario(cfg)
		if err != nil {
			t.Fatal(err)
		}
		if sc.RequestType != "kafka" || len(sc.Tasks) != 2 || sc.TotalWeight() != 3 {
			t.Errorf("scenario = %+v", sc)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.ScenarioFile = filepath.Join(t.TempDir(), "missing.yaml")

		if _, err := LoadScenario(cfg); err == nil || !strings.Contains(err.Error(), "failed to load scenario") {
			t.Errorf("LoadScenario() = %v, want load error", err)
		}
	})
}

func TestOrchestrator_LocustRunnerConfig(t *testing.T) {
	jr := writeFakeJR(t, "exit 0")
	cfg := testConfig(t, jr)
	cfg.LocustMaster = "127.0.0.1:5557"
	cfg.RequestType = "datagen"
	cfg.Timeout = 2 * time.Second

	o, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	rc := o.locustRunnerConfig()
	if rc.UserID != -1 {
		t.Errorf("UserID = %d, want -1", rc.UserID)
	}
	if rc.BinaryPath != jr || rc.RequestType != "datagen" || rc.Timeout != 2*time.Second {
		t.Errorf("config = %+v", rc)
	}

	var got []events.RequestEvent
	o.Bus().Subscribe(events.ListenerFunc(func(ev events.RequestEvent) {
		got = append(got, ev)
	}))
	process.NewJRRunner(rc, o.Bus()).Named("net_device").Run(context.Background(), nil)

	if len(got) != 1 {
		t.Fatalf("fired %d events, want 1", len(got))
	}
	if got[0].UserID != -1 || got[0].Name != "net_device" || got[0].RequestType != "datagen" {
		t.Errorf("event = %+v", got[0])
	}
}

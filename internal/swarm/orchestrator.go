package swarm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-jr-swarm/internal/config"
	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/locust"
	"github.com/randomizedcoder/go-jr-swarm/internal/metrics"
	"github.com/randomizedcoder/go-jr-swarm/internal/preflight"
	"github.com/randomizedcoder/go-jr-swarm/internal/process"
	"github.com/randomizedcoder/go-jr-swarm/internal/scenario"
	"github.com/randomizedcoder/go-jr-swarm/internal/stats"
	"github.com/randomizedcoder/go-jr-swarm/internal/tui"
)

// statsInterval is how often rolling rates are sampled and pushed to
// the Prometheus gauges.
const statsInterval = time.Second

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVersion sets the version reported by jr_swarm_info.
func WithVersion(version string) Option {
	return func(o *Orchestrator) { o.version = version }
}

// WithOutput redirects preflight results and the exit summary.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// Orchestrator coordinates all components for a jr load run.
type Orchestrator struct {
	config  *config.Config
	logger  *slog.Logger
	out     io.Writer
	version string

	scenario      *scenario.Scenario
	bus           *events.Bus
	aggregator    *stats.Aggregator
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server // nil when disabled
	jitter        *JitterSource
	rampScheduler *RampScheduler
	userManager   *UserManager

	startTime time.Time
}

// New creates a new Orchestrator with the given configuration. The
// configuration must already be validated.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	sc, err := LoadScenario(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		out:      os.Stdout,
		version:  "dev",
		scenario: sc,
		bus:      events.NewBus(),
	}
	for _, opt := range opts {
		opt(o)
	}

	o.aggregator = stats.NewAggregator()
	o.bus.Subscribe(o.aggregator)

	o.registry = prometheus.NewRegistry()
	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		TargetUsers:  cfg.Users,
		TestDuration: cfg.Duration,
		Version:      o.version,
		BinaryPath:   cfg.JRPath,
	}, o.registry)
	o.bus.Subscribe(o.metrics)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServerFor(cfg.MetricsAddr, o.registry, logger)
	}

	if cfg.Seed != 0 {
		o.jitter = NewJitterSource(cfg.Seed)
	} else {
		o.jitter = NewJitterSourceFromTime()
	}
	o.rampScheduler = NewRampSchedulerWithJitter(cfg.SpawnRate, cfg.RampJitter, o.jitter)

	o.userManager = NewUserManager(ManagerConfig{
		Scenario:   sc,
		Runners:    o.newRunner,
		Jitter:     o.jitter,
		Logger:     logger,
		Iterations: cfg.Iterations,
		Callbacks: ManagerCallbacks{
			OnUserStateChange: o.onStateChange,
			OnUserStart:       o.onStart,
			OnUserStop:        o.onStop,
		},
	})

	return o, nil
}

// LoadScenario returns the scenario file named by cfg, or the single
// task built from the positional jr arguments.
func LoadScenario(cfg *config.Config) (*scenario.Scenario, error) {
	if cfg.ScenarioFile != "" {
		sc, err := scenario.Load(cfg.ScenarioFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load scenario: %w", err)
		}
		return sc, nil
	}

	sc, err := scenario.Single(cfg.TaskName, cfg.Args, cfg.WaitMin, cfg.WaitMax)
	if err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}
	sc.RequestType = cfg.RequestType
	return sc, nil
}

// newRunner builds the jr adapter for one user and task.
func (o *Orchestrator) newRunner(userID int, task scenario.Task) process.Runner {
	return process.NewJRRunner(process.JRConfig{
		BinaryPath:  o.config.JRPath,
		RequestType: o.scenario.RequestType,
		Name:        task.Name,
		Timeout:     o.config.Timeout,
		UserID:      userID,
		Logger:      o.logger,
		Verbose:     o.config.Verbose,
	}, o.bus)
}

// Run executes the load test. It blocks until completion or signal.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		users := o.config.Users
		if o.config.LocustMode() && users < 1 {
			users = 1
		}
		result := preflight.RunAll(users, o.config.JRPath)
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	statsDone := make(chan struct{})
	statsCtx, stopStats := context.WithCancel(context.Background())
	go func() {
		defer close(statsDone)
		o.statsLoop(statsCtx)
	}()

	var runErr error
	if o.config.LocustMode() {
		runErr = o.runLocust(ctx, sigCh)
	} else {
		runErr = o.runSwarm(ctx, sigCh)
	}

	stopStats()
	<-statsDone
	o.recordStats()

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
		shutdownCancel()
	}

	if o.config.MetricsOut != "" {
		if err := metrics.WriteSnapshot(o.registry, o.config.MetricsOut); err != nil {
			o.logger.Warn("metrics_snapshot_failed", "path", o.config.MetricsOut, "error", err)
		} else {
			o.logger.Info("metrics_snapshot_written", "path", o.config.MetricsOut)
		}
	}

	o.printExitSummary()

	return runErr
}

// runSwarm ramps users up and waits for a stop condition.
func (o *Orchestrator) runSwarm(ctx context.Context, sigCh <-chan os.Signal) error {
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer stopLoops()

	o.logger.Info("ramp_starting",
		"users", o.config.Users,
		"rate", o.config.SpawnRate,
		"tasks", len(o.scenario.Tasks),
		"estimated_duration", o.rampScheduler.EstimatedRampDuration(o.config.Users).String(),
	)

	rampDone := make(chan struct{})
	go func() {
		defer close(rampDone)
		o.rampUp(loopCtx)
	}()

	// Users only finish on their own when iterations are bounded.
	usersDone := make(chan struct{})
	go func() {
		<-rampDone
		o.userManager.Wait()
		close(usersDone)
	}()

	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		timer := time.NewTimer(o.config.Duration)
		defer timer.Stop()
		durationTimer = timer.C
	}

	tuiCtx, stopTUI := context.WithCancel(context.Background())
	defer stopTUI()
	var tuiDone chan struct{}
	if o.config.TUIEnabled {
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if err := tui.Run(tuiCtx, o.tuiConfig()); err != nil {
				o.logger.Warn("tui_error", "error", err)
			}
		}()
	}

	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case <-usersDone:
		o.logger.Info("all_users_finished", "invocations", o.userManager.Invocations())
	case <-tuiDone:
		o.logger.Info("tui_quit")
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	// Stop task loops; in-flight invocations keep running until the
	// shutdown timeout.
	stopLoops()
	<-rampDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), o.config.ShutdownTimeout)
	defer shutdownCancel()
	if err := o.userManager.Shutdown(shutdownCtx); err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}

	if tuiDone != nil {
		stopTUI()
		<-tuiDone
	}

	return nil
}

// rampUp starts users at the configured rate.
func (o *Orchestrator) rampUp(ctx context.Context) {
	total := o.config.Users
	for i := 0; i < total; i++ {
		select {
		case <-ctx.Done():
			o.logger.Info("ramp_cancelled", "started", i, "target", total)
			return
		default:
		}

		// The first user starts immediately.
		if i > 0 {
			if err := o.rampScheduler.Schedule(ctx, i); err != nil {
				o.logger.Info("ramp_cancelled", "started", i, "target", total)
				return
			}
		}

		o.userManager.StartUser(ctx, i)
		o.metrics.SetRampProgress(float64(i+1) / float64(total))

		if (i+1)%10 == 0 || i == total-1 {
			o.logger.Info("ramp_progress",
				"started", i+1,
				"target", total,
				"active", o.userManager.ActiveCount(),
			)
		}
	}

	if o.metricsServer != nil {
		o.metricsServer.SetReady(true)
	}
	o.logger.Info("ramp_complete",
		"users", total,
		"active", o.userManager.ActiveCount(),
	)
}

// locustRunnerConfig is the adapter config shared by every Locust task.
// Events carry no user ID because the master owns the users.
func (o *Orchestrator) locustRunnerConfig() process.JRConfig {
	cfg := process.DefaultJRConfig()
	cfg.BinaryPath = o.config.JRPath
	cfg.RequestType = o.scenario.RequestType
	cfg.Timeout = o.config.Timeout
	cfg.Logger = o.logger
	cfg.Verbose = o.config.Verbose
	return cfg
}

// runLocust hands scheduling to a Locust master until stopped.
func (o *Orchestrator) runLocust(ctx context.Context, sigCh <-chan os.Signal) error {
	host, port := o.config.SplitLocustMaster()

	base := process.NewJRRunner(o.locustRunnerConfig(), o.bus)

	worker := locust.NewWorker(locust.WorkerConfig{
		MasterHost: host,
		MasterPort: port,
		Scenario:   o.scenario,
		Runners: func(task scenario.Task) process.Runner {
			return base.Named(task.Name)
		},
		Bus:         o.bus,
		Seed:        o.config.Seed,
		Logger:      o.logger,
		OnTestStart: o.aggregator.Reset,
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()

	workerErr := make(chan error, 1)
	go func() {
		workerErr <- worker.Run(workerCtx)
	}()

	if o.metricsServer != nil {
		o.metricsServer.SetReady(true)
	}

	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		timer := time.NewTimer(o.config.Duration)
		defer timer.Stop()
		durationTimer = timer.C
	}

	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case err := <-workerErr:
		if err != nil {
			return fmt.Errorf("locust worker failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	stopWorker()
	if err := <-workerErr; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("locust worker failed: %w", err)
	}
	return nil
}

// statsLoop samples rolling rates until ctx is cancelled.
func (o *Orchestrator) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.recordStats()
		}
	}
}

// recordStats pushes one rate sample and refreshes the rolling gauges.
func (o *Orchestrator) recordStats() {
	o.aggregator.RecordSample()
	snap := o.aggregator.Snapshot()
	o.metrics.RecordStats(metrics.StatsUpdate{
		ActiveUsers:       o.userManager.ActiveCount(),
		RequestsPerSecond: snap.RPS10s,
		FailuresPerSecond: snap.FailuresPerSec10s,
		FailRatio:         snap.FailRatio(),
		P50Ms:             snap.Total.P50Ms,
		P95Ms:             snap.Total.P95Ms,
		P99Ms:             snap.Total.P99Ms,
	})
}

// tuiConfig wires the dashboard to the live sources.
func (o *Orchestrator) tuiConfig() tui.Config {
	var command string
	if len(o.scenario.Tasks) == 1 {
		command = process.CommandLine(o.config.JRPath, o.scenario.Tasks[0].Args)
	} else {
		command = fmt.Sprintf("%s (%d tasks)", o.config.JRPath, len(o.scenario.Tasks))
	}
	return tui.Config{
		TargetUsers: o.config.Users,
		Duration:    o.config.Duration,
		Command:     command,
		MetricsAddr: o.config.MetricsAddr,
		StatsSource: o,
		UserSource:  o.userManager,
	}
}

// Callback handlers

func (o *Orchestrator) onStateChange(userID int, oldState, newState State) {
	o.metrics.SetActiveCount(o.userManager.ActiveCount())
}

func (o *Orchestrator) onStart(userID int) {
	o.metrics.UserStarted()
	if o.config.Verbose {
		o.logger.Debug("user_started", "user_id", userID)
	}
}

func (o *Orchestrator) onStop(userID int, completed int64) {
	o.metrics.UserStopped()
	if o.config.Verbose {
		o.logger.Debug("user_finished", "user_id", userID, "invocations", completed)
	}
}

// printExitSummary prints a summary of the load test run.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()
	fmt.Fprint(o.out, stats.FormatExitSummary(o.aggregator.Snapshot(), stats.SummaryConfig{
		TargetUsers:  o.config.Users,
		UsersStarted: int(summary.UsersStarted),
		Duration:     time.Since(o.startTime),
		MetricsAddr:  o.config.MetricsAddr,
		ExitCodes:    summary.ExitCodes,
	}))
}

// GetAggregatedStats implements tui.StatsSource.
func (o *Orchestrator) GetAggregatedStats() *stats.AggregatedStats {
	return o.aggregator.Snapshot()
}

// UserManager returns the user manager for external access.
func (o *Orchestrator) UserManager() *UserManager {
	return o.userManager
}

// Scenario returns the scenario being run.
func (o *Orchestrator) Scenario() *scenario.Scenario {
	return o.scenario
}

// Bus returns the event bus every invocation reports to.
func (o *Orchestrator) Bus() *events.Bus {
	return o.bus
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the Prometheus registry backing /metrics.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// Package main provides the go-jr-swarm CLI entry point.
//
// go-jr-swarm is a load generation tool that runs a swarm of simulated
// users, each repeatedly invoking the jr data generator, and reports
// every invocation as a request with its response time and outcome.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-jr-swarm/internal/config"
	"github.com/randomizedcoder/go-jr-swarm/internal/logging"
	"github.com/randomizedcoder/go-jr-swarm/internal/process"
	"github.com/randomizedcoder/go-jr-swarm/internal/swarm"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-jr-swarm
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// Handle version flag early (before flag parsing)
	if len(args) > 0 {
		arg := args[0]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Fprintf(stdout, "go-jr-swarm %s\n", version)
			return 0
		}
	}

	cfg, err := config.ParseArgs(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error parsing flags: %v\n", err)
		return 2
	}

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}

	if cfg.Check {
		config.ApplyCheckMode(cfg)
	}

	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering.
	// Locust workers have no dashboard.
	if cfg.LocustMode() {
		cfg.TUIEnabled = false
	}
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", cfg.LogLevel)
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if cfg.Check {
		logger.Info("check_mode_enabled", "users", cfg.Users, "iterations", cfg.Iterations)
	}

	if cfg.PrintCmd {
		if err := printCommands(stdout, cfg); err != nil {
			fmt.Fprintf(stderr, "Configuration error: %v\n", err)
			return 2
		}
		return 0
	}

	logger.Info("starting",
		"version", version,
		"users", cfg.Users,
		"spawn_rate", cfg.SpawnRate,
		"jr", cfg.JRPath,
		"scenario", cfg.ScenarioFile,
		"metrics_addr", cfg.MetricsAddr,
		"locust_master", cfg.LocustMaster,
	)

	if !cfg.TUIEnabled {
		printBanner(stdout, cfg)
	}

	orch, err := swarm.New(cfg, logger, swarm.WithVersion(version), swarm.WithOutput(stdout))
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 2
	}
	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                          go-jr-swarm                              ║")
	fmt.Fprintln(w, "║          Load Generation with jr Process Orchestration            ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	if cfg.LocustMode() {
		fmt.Fprintf(w, "  Locust:      worker of %s\n", cfg.LocustMaster)
	} else {
		fmt.Fprintf(w, "  Target:      %d users at %g/sec\n", cfg.Users, cfg.SpawnRate)
	}
	fmt.Fprintf(w, "  jr:          %s\n", cfg.JRPath)
	if cfg.ScenarioFile != "" {
		fmt.Fprintf(w, "  Scenario:    %s\n", cfg.ScenarioFile)
	}
	if cfg.Timeout > 0 {
		fmt.Fprintf(w, "  Timeout:     %s per invocation\n", cfg.Timeout)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}

// printCommands prints the jr command of every task.
func printCommands(w io.Writer, cfg *config.Config) error {
	sc, err := swarm.LoadScenario(cfg)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, "# jr commands each user would run:")
	fmt.Fprintln(w)
	for _, task := range sc.Tasks {
		fmt.Fprintf(w, "# %s %s (weight %d)\n", sc.RequestType, task.Name, task.Weight)
		fmt.Fprintln(w, process.CommandLine(cfg.JRPath, task.Args))
	}
	return nil
}

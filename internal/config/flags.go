package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses args on a private flag set. Arguments after the flags
// are passed to jr verbatim; use "--" before jr flags.
func ParseArgs(args []string, output io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("go-jr-swarm", flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Usage = func() {
		fmt.Fprintf(output, `go-jr-swarm - load generation by driving the jr data generator from simulated users

Usage:
  go-jr-swarm [flags] [--] [jr arguments...]

Swarm Flags:
`)
		printFlagCategory(fs, output, []string{"users", "spawn-rate", "ramp-jitter", "duration", "iterations", "seed"})

		fmt.Fprintf(output, "\njr:\n")
		printFlagCategory(fs, output, []string{"jr", "scenario", "name", "request-type", "wait-min", "wait-max", "timeout"})

		fmt.Fprintf(output, "\nSafety & Diagnostics:\n")
		printFlagCategory(fs, output, []string{"print-cmd", "check", "skip-preflight", "shutdown-timeout"})

		fmt.Fprintf(output, "\nObservability:\n")
		printFlagCategory(fs, output, []string{"metrics", "metrics-out", "v", "log-format", "log-level"})

		fmt.Fprintf(output, "\nDashboard:\n")
		printFlagCategory(fs, output, []string{"tui"})

		fmt.Fprintf(output, "\nLocust:\n")
		printFlagCategory(fs, output, []string{"locust-master"})

		fmt.Fprintf(output, `
Flag Convention:
  Single-dash flags (-users, -scenario) are normal options.
  Double-dash flags (--check, --skip-preflight) are diagnostic modes.

Examples:
  # One task, ten users, one record per invocation
  go-jr-swarm -users 10 -- run net_device -n 1

  # Weighted tasks from a scenario file for five minutes
  go-jr-swarm -users 50 -spawn-rate 10 -duration 5m -scenario tasks.yaml

  # Run as a worker of a Locust master
  go-jr-swarm -locust-master 127.0.0.1:5557 -scenario tasks.yaml

`)
	}

	// Swarm
	fs.IntVar(&cfg.Users, "users", cfg.Users, "Number of simulated users")
	fs.Float64Var(&cfg.SpawnRate, "spawn-rate", cfg.SpawnRate, "Users to start per second")
	fs.DurationVar(&cfg.RampJitter, "ramp-jitter", cfg.RampJitter, "Random jitter per user start")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run duration (0 = until interrupted)")
	fs.IntVar(&cfg.Iterations, "iterations", cfg.Iterations, "Invocations per user (0 = unlimited)")
	fs.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Random seed for jitter, task picks and waits (0 = time based)")

	// jr
	fs.StringVar(&cfg.JRPath, "jr", cfg.JRPath, "Path to the jr binary")
	fs.StringVar(&cfg.ScenarioFile, "scenario", cfg.ScenarioFile, "YAML scenario of weighted tasks")
	fs.StringVar(&cfg.TaskName, "name", cfg.TaskName, "Task name reported for positional jr arguments")
	fs.StringVar(&cfg.RequestType, "request-type", cfg.RequestType, "Request type reported for positional jr arguments")
	fs.DurationVar(&cfg.WaitMin, "wait-min", cfg.WaitMin, "Minimum wait between invocations")
	fs.DurationVar(&cfg.WaitMax, "wait-max", cfg.WaitMax, "Maximum wait between invocations (default: wait-min)")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Kill jr after this long (0 = wait for exit)")

	// Safety & Diagnostics (double-dash convention)
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the jr command of every task and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate config and run 1 user for one invocation")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Wait for in-flight invocations before killing them")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" disables)`)
	fs.StringVar(&cfg.MetricsOut, "metrics-out", cfg.MetricsOut, "Write a metrics snapshot to this file at exit")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging (includes jr stderr)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)

	// TUI (Terminal User Interface)
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Enable live terminal dashboard (use -tui=false to disable)")

	// Locust
	fs.StringVar(&cfg.LocustMaster, "locust-master", cfg.LocustMaster, "Locust master host:port; run as a worker instead of spawning users")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if rest := fs.Args(); len(rest) > 0 {
		cfg.Args = append([]string(nil), rest...)
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem joined with errors.Join.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.JRPath == "" {
		add("jr_path", "must not be empty")
	}

	if cfg.ScenarioFile != "" && len(cfg.Args) > 0 {
		add("args", "positional jr arguments cannot be combined with -scenario")
	}
	if cfg.ScenarioFile == "" && strings.TrimSpace(cfg.TaskName) == "" {
		add("task_name", "must not be empty")
	}
	if cfg.ScenarioFile == "" && strings.TrimSpace(cfg.RequestType) == "" {
		add("request_type", "must not be empty")
	}

	// Locust workers get their user count from the master.
	if !cfg.LocustMode() && cfg.Users < 1 {
		add("users", "must be at least 1")
	}
	if cfg.SpawnRate <= 0 {
		add("spawn_rate", "must be positive")
	}

	nonNegative := []struct {
		field string
		value time.Duration
	}{
		{"ramp_jitter", cfg.RampJitter},
		{"duration", cfg.Duration},
		{"wait_min", cfg.WaitMin},
		{"wait_max", cfg.WaitMax},
		{"timeout", cfg.Timeout},
	}
	for _, d := range nonNegative {
		if d.value < 0 {
			add(d.field, "must not be negative (got %v)", d.value)
		}
	}
	if cfg.WaitMax > 0 && cfg.WaitMax < cfg.WaitMin {
		add("wait_max", "must be >= wait_min (%v), got %v", cfg.WaitMin, cfg.WaitMax)
	}
	if cfg.Iterations < 0 {
		add("iterations", "must not be negative")
	}
	if cfg.ShutdownTimeout <= 0 {
		add("shutdown_timeout", "must be positive")
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		add("log_level", "must be debug, info, warn or error (got %q)", cfg.LogLevel)
	}

	if cfg.MetricsAddr != "" {
		if err := validateHostPort(cfg.MetricsAddr, true); err != nil {
			add("metrics_addr", "%v", err)
		}
	}
	if cfg.LocustMode() {
		if err := validateHostPort(cfg.LocustMaster, false); err != nil {
			add("locust_master", "%v", err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// validateHostPort checks a host:port pair. An empty host is accepted
// only for listen addresses.
func validateHostPort(addr string, listen bool) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if host == "" && !listen {
		return fmt.Errorf("address %q must include a host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	if !listen && n == 0 {
		return fmt.Errorf("port must not be 0")
	}
	return nil
}

// SplitLocustMaster returns the host and port of -locust-master.
// Call only after Validate.
func (c *Config) SplitLocustMaster() (string, int) {
	host, port, _ := net.SplitHostPort(c.LocustMaster)
	n, _ := strconv.Atoi(port)
	return host, n
}

// ApplyCheckMode modifies config for --check mode: one user, one
// invocation per run, bounded to ten seconds, no dashboard.
func ApplyCheckMode(cfg *Config) {
	cfg.Users = 1
	cfg.Iterations = 1
	cfg.Duration = 10 * time.Second
	cfg.Verbose = true
	cfg.TUIEnabled = false
}

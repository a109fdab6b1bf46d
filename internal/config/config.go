// Package config provides configuration management for go-jr-swarm.
package config

import "time"

// Config holds all configuration options for the orchestrator.
type Config struct {
	// Swarm
	Users      int           `json:"users"`
	SpawnRate  float64       `json:"spawn_rate"`
	RampJitter time.Duration `json:"ramp_jitter"`
	Duration   time.Duration `json:"duration"`   // 0 = forever
	Iterations int           `json:"iterations"` // per user, 0 = unlimited
	Seed       int64         `json:"seed"`       // 0 = time based

	// jr
	JRPath       string        `json:"jr_path"`
	ScenarioFile string        `json:"scenario_file"`
	Args         []string      `json:"args"` // positional arguments for the single-task mode
	TaskName     string        `json:"task_name"`
	RequestType  string        `json:"request_type"`
	WaitMin      time.Duration `json:"wait_min"`
	WaitMax      time.Duration `json:"wait_max"`
	Timeout      time.Duration `json:"timeout"` // 0 = wait for jr to exit

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty disables the server
	MetricsOut  string `json:"metrics_out"`  // snapshot written at exit
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`
	TUIEnabled  bool   `json:"tui_enabled"`

	// Locust worker mode
	LocustMaster string `json:"locust_master"` // host:port, empty = standalone

	// Shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Swarm
		Users:      10,
		SpawnRate:  5,
		RampJitter: 200 * time.Millisecond,

		// jr
		JRPath:      "/usr/bin/jr",
		TaskName:    "jr",
		RequestType: "jr",

		// Observability
		MetricsAddr: "0.0.0.0:17091",
		LogFormat:   "json",
		LogLevel:    "info",
		TUIEnabled:  true,

		ShutdownTimeout: 10 * time.Second,
	}
}

// LocustMode reports whether the swarm runs as a Locust worker.
func (c *Config) LocustMode() bool {
	return c.LocustMaster != ""
}

package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/logging"
)

const (
	// DefaultBinaryPath is where jr is installed by its packages.
	DefaultBinaryPath = "/usr/bin/jr"

	// DefaultLabel is the request type and name reported for jr invocations.
	DefaultLabel = "jr"

	// stderrTailLines is how many stderr lines a failure carries.
	stderrTailLines = 5

	// stderrDrainTimeout bounds reading stderr after jr exits. A background
	// child that inherited stderr can hold the pipe open indefinitely.
	stderrDrainTimeout = 250 * time.Millisecond
)

// JRConfig holds the fixed settings of one adapter instance.
type JRConfig struct {
	// BinaryPath is the jr executable. Not resolved or checked here.
	BinaryPath string

	// RequestType and Name label every event. Both default to "jr".
	RequestType string
	Name        string

	// Timeout bounds a single invocation. Zero waits for as long as the
	// process runs.
	Timeout time.Duration

	// UserID tags events and log lines.
	UserID int

	Logger  *slog.Logger
	Verbose bool
}

// DefaultJRConfig returns a config for the standard jr install.
func DefaultJRConfig() JRConfig {
	return JRConfig{
		BinaryPath:  DefaultBinaryPath,
		RequestType: DefaultLabel,
		Name:        DefaultLabel,
		UserID:      -1,
	}
}

// JRRunner implements Runner for the jr binary. One instance belongs to
// one simulated user; instances share nothing but the bus.
type JRRunner struct {
	config JRConfig
	bus    events.Firer
	logger *slog.Logger
}

// NewJRRunner creates an adapter that reports to bus.
func NewJRRunner(cfg JRConfig, bus events.Firer) *JRRunner {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = DefaultBinaryPath
	}
	if cfg.RequestType == "" {
		cfg.RequestType = DefaultLabel
	}
	if cfg.Name == "" {
		cfg.Name = DefaultLabel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &JRRunner{
		config: cfg,
		bus:    bus,
		logger: logger,
	}
}

// Named returns a copy of the runner that reports under a different name.
func (r *JRRunner) Named(name string) *JRRunner {
	c := *r
	if name != "" {
		c.config.Name = name
	}
	return &c
}

// Config returns the runner configuration.
func (r *JRRunner) Config() JRConfig {
	return r.config
}

// Run invokes jr once with args and fires exactly one event. Failures,
// including a binary that cannot be started, are attached to the event
// and never returned.
func (r *JRRunner) Run(ctx context.Context, args []string) {
	inv := Invocation{
		UserID: r.config.UserID,
		Args:   append([]string(nil), args...),
		Start:  time.Now(),
	}
	var exited time.Time
	exited, inv.Err = r.invoke(ctx, inv.Args)
	inv.Elapsed = exited.Sub(inv.Start)

	if inv.Err != nil {
		r.logger.Debug("invocation_failed",
			"user_id", r.config.UserID,
			"name", r.config.Name,
			"elapsed_ms", inv.ResponseTimeMs(),
			"error", inv.Err,
		)
	}

	r.bus.Fire(inv.Event(r.config.RequestType, r.config.Name))
}

// invoke runs the process to completion and returns when it exited,
// together with nil or *InvocationError.
func (r *JRRunner) invoke(ctx context.Context, args []string) (time.Time, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.config.BinaryPath, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Kill the whole group so jr helpers die with it.
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
	cmd.WaitDelay = time.Second

	stderrLog := logging.NewStderrHandler(r.config.UserID, r.logger, r.config.Verbose)

	fail := func(exitCode int, err error) *InvocationError {
		return &InvocationError{
			Command:  r.config.BinaryPath,
			Args:     args,
			ExitCode: exitCode,
			TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
			Err:      err,
			Stderr:   stderrLog.RecentLines(stderrTailLines),
		}
	}

	// stderr goes through our own pipe, not cmd.StderrPipe, so Wait
	// returns when jr exits rather than when every holder of the pipe
	// has closed it.
	pr, pw, err := os.Pipe()
	if err != nil {
		return time.Now(), fail(-1, err)
	}
	defer pr.Close()
	cmd.Stderr = pw

	err = cmd.Start()
	pw.Close()
	if err != nil {
		return time.Now(), fail(-1, err)
	}

	copied := make(chan struct{})
	go func() {
		defer close(copied)
		_, _ = io.Copy(stderrLog, pr)
	}()

	waitErr := cmd.Wait()
	exited := time.Now()

	drain := time.NewTimer(stderrDrainTimeout)
	select {
	case <-copied:
	case <-drain.C:
		r.logger.Debug("stderr_drain_abandoned",
			"user_id", r.config.UserID,
			"name", r.config.Name,
		)
		pr.Close()
		<-copied
	}
	drain.Stop()
	stderrLog.Flush()

	if waitErr == nil {
		return exited, nil
	}
	return exited, fail(extractExitCode(waitErr), waitErr)
}

// extractExitCode extracts the exit code from a Wait() error. A signal
// exit maps to 128 + signal number, as a shell would report it.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}

	return 1
}

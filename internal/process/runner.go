// Package process runs the external jr binary as a timed, reported request.
package process

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
)

// Runner is the capability a simulated user holds to issue requests.
// Run performs one synchronous invocation and reports it on the event
// bus. It has no error return: the outcome travels in the event.
type Runner interface {
	Run(ctx context.Context, args []string)
}

// Invocation is the record of a single execution. It lives only long
// enough to be turned into an event.
type Invocation struct {
	UserID  int
	Args    []string
	Start   time.Time
	Elapsed time.Duration
	Err     error // nil on success
}

// ResponseTimeMs returns the elapsed time in milliseconds.
func (inv Invocation) ResponseTimeMs() float64 {
	return float64(inv.Elapsed) / float64(time.Millisecond)
}

// Event converts the invocation into the bus record. jr output is not
// captured, so the response length is always zero and the response and
// context are nil.
func (inv Invocation) Event(requestType, name string) events.RequestEvent {
	return events.RequestEvent{
		RequestType:    requestType,
		Name:           name,
		ResponseTime:   inv.ResponseTimeMs(),
		ResponseLength: 0,
		Response:       nil,
		Context:        nil,
		Exception:      inv.Err,
		StartTime:      inv.Start,
		UserID:         inv.UserID,
	}
}

// InvocationError describes a failed invocation: the process could not
// be started, exited non-zero, or was killed.
type InvocationError struct {
	Command  string
	Args     []string
	ExitCode int // -1 when the process never started
	TimedOut bool
	Err      error
	Stderr   []string // most recent stderr lines, oldest first
}

// Error mirrors the shape of the message a Locust user would see.
func (e *InvocationError) Error() string {
	switch {
	case e.ExitCode < 0:
		return fmt.Sprintf("command %s could not be started: %v", e.commandLine(), e.Err)
	case e.TimedOut:
		return fmt.Sprintf("command %s timed out (exit status %d)", e.commandLine(), e.ExitCode)
	default:
		return fmt.Sprintf("command %s returned non-zero exit status %d", e.commandLine(), e.ExitCode)
	}
}

// Unwrap exposes the underlying exec error.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Started reports whether the process was spawned at all.
func (e *InvocationError) Started() bool {
	return e.ExitCode >= 0
}

// Detail returns Error() followed by the captured stderr tail.
func (e *InvocationError) Detail() string {
	if len(e.Stderr) == 0 {
		return e.Error()
	}
	return e.Error() + "\n" + strings.Join(e.Stderr, "\n")
}

func (e *InvocationError) commandLine() string {
	return "'" + CommandLine(e.Command, e.Args) + "'"
}

// CommandLine renders binary and args as a shell-like line, quoting
// arguments that contain whitespace or quotes.
func CommandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, quoteArg(binary))
	for _, a := range args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"'") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Note: syscall.RLIMIT_NPROC is not exported in Go's syscall package,
// so we read process limits from /proc/self/limits instead.

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// add appends a check, failing the result if the check failed.
func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for the given number of users.
func RunAll(users int, jrPath string) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}

	result.add(checkFileDescriptors(users))
	result.add(checkProcessLimit(users))
	result.add(checkJR(jrPath))
	// Warning only
	result.add(checkEphemeralPorts(users))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(users int) Check {
	var limit syscall.Rlimit
	syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit)

	// Each live jr holds a stderr pipe, its stdio and whatever sink it
	// writes to. Plus orchestrator overhead (metrics server, logging).
	required := users*10 + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d users)", actual, required, users),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(users int) Check {
	// One jr per user at a time, plus headroom for the Go runtime.
	required := users + 50

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// parseMaxProcesses returns the soft "Max processes" limit from the
// contents of /proc/self/limits, 0 if absent.
func parseMaxProcesses(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		var n int
		fmt.Sscanf(fields[2], "%d", &n)
		return n
	}
	return 0
}

// checkJR verifies the jr binary resolves to an executable file. jr is
// not run: a version probe would be one more process per startup and
// says nothing about the arguments users will pass.
func checkJR(path string) Check {
	if path == "" {
		return Check{
			Name:    "jr",
			Passed:  false,
			Message: "not found: empty path",
		}
	}

	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    "jr",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Check{
			Name:    "jr",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", resolved, err),
		}
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    "jr",
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable", resolved),
		}
	}

	return Check{
		Name:    "jr",
		Passed:  true,
		Message: fmt.Sprintf("found at %s", resolved),
	}
}

// checkEphemeralPorts checks if enough ephemeral ports are available
// for jr producers writing to network sinks.
func checkEphemeralPorts(users int) Check {
	data, err := os.ReadFile("/proc/sys/net/ipv4/ip_local_port_range")
	if err != nil {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: "unable to read port range (non-Linux?)",
		}
	}

	var low, high int
	fmt.Sscanf(string(data), "%d %d", &low, &high)
	available := high - low

	// Short-lived processes leave their sockets in TIME_WAIT.
	recommended := users * 4

	return Check{
		Name:     "ephemeral_ports",
		Required: recommended,
		Actual:   available,
		Passed:   true, // Don't fail on this
		Warning:  available < recommended,
		Message:  fmt.Sprintf("%d-%d (%d available, recommend %d)", low, high, available, recommended),
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf)"
	case "jr":
		return "install jr (https://jrnd.io) or point -jr at the binary"
	default:
		return "see documentation"
	}
}

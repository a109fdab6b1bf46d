// Package swarm runs simulated users that drive jr through the adapter.
package swarm

// State represents the current state of a simulated user.
type State int

const (
	// StateCreated is the initial state before the task loop starts.
	StateCreated State = iota

	// StateRunning indicates a jr invocation is in flight.
	StateRunning

	// StateWaiting indicates the user is sleeping between tasks.
	StateWaiting

	// StateStopped indicates the task loop has returned.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateWaiting:
		return "waiting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true while the user's task loop is alive.
func (s State) IsActive() bool {
	return s == StateRunning || s == StateWaiting
}

// IsTerminal returns true if the state is a terminal state (stopped).
func (s State) IsTerminal() bool {
	return s == StateStopped
}

package swarm

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-jr-swarm/internal/process"
	"github.com/randomizedcoder/go-jr-swarm/internal/scenario"
)

// RunnerFactory builds the runner a user invokes for one task. It is
// called once per (user, task) when the user is created.
type RunnerFactory func(userID int, task scenario.Task) process.Runner

// UserCallbacks contains optional callbacks for user events.
type UserCallbacks struct {
	// OnStateChange is called when the user changes state.
	OnStateChange func(userID int, oldState, newState State)

	// OnTaskDone is called after each invocation returns.
	OnTaskDone func(userID int, task string)
}

// UserConfig holds configuration for creating a User.
type UserConfig struct {
	ID         int
	Scenario   *scenario.Scenario
	Runners    RunnerFactory
	Rand       *rand.Rand
	Logger     *slog.Logger
	Callbacks  UserCallbacks
	Iterations int // 0 = unlimited
}

// User is one simulated user: a task loop that picks a weighted task,
// invokes jr once through its runner, waits, and repeats.
type User struct {
	id         int
	scenario   *scenario.Scenario
	runners    map[string]process.Runner
	rng        *rand.Rand
	logger     *slog.Logger
	callbacks  UserCallbacks
	iterations int

	state   State
	stateMu sync.RWMutex

	completed atomic.Int64
	startTime time.Time
}

// NewUser creates a user and its per-task runners.
func NewUser(cfg UserConfig) *User {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(int64(cfg.ID)))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	runners := make(map[string]process.Runner, len(cfg.Scenario.Tasks))
	for _, task := range cfg.Scenario.Tasks {
		runners[task.Name] = cfg.Runners(cfg.ID, task)
	}

	return &User{
		id:         cfg.ID,
		scenario:   cfg.Scenario,
		runners:    runners,
		rng:        rng,
		logger:     logger,
		callbacks:  cfg.Callbacks,
		iterations: cfg.Iterations,
		state:      StateCreated,
	}
}

// Run executes the task loop until ctx is cancelled or the iteration
// limit is reached. Invocations receive invokeCtx, so cancelling ctx
// lets an in-flight invocation finish while cancelling invokeCtx kills it.
func (u *User) Run(ctx, invokeCtx context.Context) error {
	u.startTime = time.Now()
	defer u.setState(StateStopped)

	for u.iterations == 0 || int(u.completed.Load()) < u.iterations {
		if err := ctx.Err(); err != nil {
			return err
		}

		task := u.scenario.Pick(u.rng)
		u.setState(StateRunning)
		u.runners[task.Name].Run(invokeCtx, task.Args)
		u.completed.Add(1)

		if u.callbacks.OnTaskDone != nil {
			u.callbacks.OnTaskDone(u.id, task.Name)
		}

		if u.iterations > 0 && int(u.completed.Load()) >= u.iterations {
			break
		}

		wait := task.Wait(u.rng)
		if wait <= 0 {
			continue
		}
		u.setState(StateWaiting)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	u.logger.Debug("user_iterations_complete",
		"user_id", u.id,
		"iterations", u.completed.Load(),
	)
	return nil
}

// State returns the current state.
func (u *User) State() State {
	u.stateMu.RLock()
	defer u.stateMu.RUnlock()
	return u.state
}

func (u *User) setState(newState State) {
	u.stateMu.Lock()
	oldState := u.state
	u.state = newState
	u.stateMu.Unlock()

	if oldState != newState && u.callbacks.OnStateChange != nil {
		u.callbacks.OnStateChange(u.id, oldState, newState)
	}
}

// ID returns the user ID.
func (u *User) ID() int {
	return u.id
}

// Completed returns the number of invocations the user has made.
func (u *User) Completed() int64 {
	return u.completed.Load()
}

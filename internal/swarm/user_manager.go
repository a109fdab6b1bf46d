package swarm

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-jr-swarm/internal/scenario"
)

// ManagerCallbacks contains optional callbacks for manager events.
type ManagerCallbacks struct {
	// OnUserStateChange is called when any user changes state.
	OnUserStateChange func(userID int, oldState, newState State)

	// OnUserStart is called when a user's goroutine starts.
	OnUserStart func(userID int)

	// OnUserStop is called when a user's task loop returns.
	OnUserStop func(userID int, completed int64)
}

// ManagerConfig holds configuration for the UserManager.
type ManagerConfig struct {
	Scenario   *scenario.Scenario
	Runners    RunnerFactory
	Jitter     *JitterSource
	Logger     *slog.Logger
	Iterations int // per user, 0 = unlimited
	Callbacks  ManagerCallbacks
}

// UserManager starts one goroutine per user, tracks their states and
// coordinates shutdown.
type UserManager struct {
	scenario   *scenario.Scenario
	runners    RunnerFactory
	jitter     *JitterSource
	logger     *slog.Logger
	iterations int
	callbacks  ManagerCallbacks

	// invokeCtx is handed to every invocation. It outlives the task-loop
	// context so graceful shutdown does not kill in-flight jr processes.
	invokeCtx    context.Context
	cancelInvoke context.CancelFunc

	users map[int]*User
	mu    sync.RWMutex

	wg sync.WaitGroup

	activeCount  atomic.Int64
	startedCount atomic.Int64
	stoppedCount atomic.Int64
	invocations  atomic.Int64
}

// NewUserManager creates a new UserManager.
func NewUserManager(cfg ManagerConfig) *UserManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	jitter := cfg.Jitter
	if jitter == nil {
		jitter = NewJitterSourceFromTime()
	}

	invokeCtx, cancel := context.WithCancel(context.Background())
	return &UserManager{
		scenario:     cfg.Scenario,
		runners:      cfg.Runners,
		jitter:       jitter,
		logger:       logger,
		iterations:   cfg.Iterations,
		callbacks:    cfg.Callbacks,
		invokeCtx:    invokeCtx,
		cancelInvoke: cancel,
		users:        make(map[int]*User),
	}
}

// StartUser creates a user and runs its task loop in a goroutine until
// ctx is cancelled or its iterations are done.
func (m *UserManager) StartUser(ctx context.Context, userID int) {
	user := NewUser(UserConfig{
		ID:         userID,
		Scenario:   m.scenario,
		Runners:    m.runners,
		Rand:       m.jitter.ForUser(userID),
		Logger:     m.logger,
		Iterations: m.iterations,
		Callbacks: UserCallbacks{
			OnStateChange: m.handleStateChange,
			OnTaskDone: func(int, string) {
				m.invocations.Add(1)
			},
		},
	})

	m.mu.Lock()
	m.users[userID] = user
	m.mu.Unlock()

	m.startedCount.Add(1)
	if m.callbacks.OnUserStart != nil {
		m.callbacks.OnUserStart(userID)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		err := user.Run(ctx, m.invokeCtx)
		m.stoppedCount.Add(1)
		m.logger.Debug("user_stopped",
			"user_id", userID,
			"completed", user.Completed(),
			"error", err,
		)
		if m.callbacks.OnUserStop != nil {
			m.callbacks.OnUserStop(userID, user.Completed())
		}
	}()
}

// handleStateChange keeps the active count in step with user states.
func (m *UserManager) handleStateChange(userID int, oldState, newState State) {
	if !oldState.IsActive() && newState.IsActive() {
		m.activeCount.Add(1)
	} else if oldState.IsActive() && !newState.IsActive() {
		m.activeCount.Add(-1)
	}

	if m.callbacks.OnUserStateChange != nil {
		m.callbacks.OnUserStateChange(userID, oldState, newState)
	}
}

// Wait blocks until every started user has stopped.
func (m *UserManager) Wait() {
	m.wg.Wait()
}

// Done returns a channel closed once every started user has stopped.
func (m *UserManager) Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	return done
}

// Shutdown waits for users to leave their task loops. The context passed
// to StartUser must already be cancelled. If ctx expires first, in-flight
// invocations are killed and Shutdown returns ctx.Err().
func (m *UserManager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutdown_initiated", "active_users", m.ActiveCount())

	select {
	case <-m.Done():
		m.cancelInvoke()
		m.logger.Info("all_users_stopped", "invocations", m.Invocations())
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown_timeout", "active_users", m.ActiveCount())
		m.cancelInvoke()
		m.wg.Wait()
		return ctx.Err()
	}
}

// ActiveCount returns the number of users inside their task loop.
func (m *UserManager) ActiveCount() int {
	return int(m.activeCount.Load())
}

// StartedCount returns the total number of users started.
func (m *UserManager) StartedCount() int {
	return int(m.startedCount.Load())
}

// StoppedCount returns the number of users whose loop has returned.
func (m *UserManager) StoppedCount() int {
	return int(m.stoppedCount.Load())
}

// Invocations returns the total number of invocations across users.
func (m *UserManager) Invocations() int64 {
	return m.invocations.Load()
}

// UserCount returns the number of registered users.
func (m *UserManager) UserCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users)
}

// GetUser returns the user with the given ID.
func (m *UserManager) GetUser(userID int) *User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.users[userID]
}

// States returns a map of user IDs to their current states.
func (m *UserManager) States() map[int]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make(map[int]State, len(m.users))
	for id, u := range m.users {
		states[id] = u.State()
	}
	return states
}

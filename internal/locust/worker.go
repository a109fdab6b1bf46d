// Package locust runs the swarm as a worker of a Locust master. The
// master decides how many users run and at what rate; the worker only
// registers the scenario tasks and forwards every request event.
package locust

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/myzhan/boomer"

	"github.com/randomizedcoder/go-jr-swarm/internal/events"
	"github.com/randomizedcoder/go-jr-swarm/internal/process"
	"github.com/randomizedcoder/go-jr-swarm/internal/scenario"
)

// Topics boomer publishes on boomer.Events.
const (
	spawnTopic = "boomer:spawn"
	stopTopic  = "boomer:stop"
	quitTopic  = "boomer:quit"
)

// Recorder is the reporting half of *boomer.Boomer.
type Recorder interface {
	RecordSuccess(requestType, name string, responseTime int64, responseLength int64)
	RecordFailure(requestType, name string, responseTime int64, exception string)
}

// Forwarder reports request events to a Locust master.
type Forwarder struct {
	rec Recorder
}

var _ events.Listener = (*Forwarder)(nil)

// NewForwarder creates a forwarder writing to rec.
func NewForwarder(rec Recorder) *Forwarder {
	return &Forwarder{rec: rec}
}

// OnRequest implements events.Listener.
func (f *Forwarder) OnRequest(ev events.RequestEvent) {
	ms := RoundMillis(ev.ResponseTime)
	if ev.Exception != nil {
		f.rec.RecordFailure(ev.RequestType, ev.Name, ms, ev.Exception.Error())
		return
	}
	f.rec.RecordSuccess(ev.RequestType, ev.Name, ms, ev.ResponseLength)
}

// RoundMillis converts a response time to the integer milliseconds
// Locust expects. Negative and NaN values report as 0.
func RoundMillis(ms float64) int64 {
	if math.IsNaN(ms) || ms <= 0 {
		return 0
	}
	return int64(math.Round(ms))
}

// RunnerFactory builds the runner behind one scenario task.
type RunnerFactory func(task scenario.Task) process.Runner

// WorkerConfig holds configuration for a Worker.
type WorkerConfig struct {
	MasterHost string
	MasterPort int
	Scenario   *scenario.Scenario
	Runners    RunnerFactory
	Bus        *events.Bus
	Seed       int64
	Logger     *slog.Logger

	// OnTestStart is called when the master starts a new test, that is
	// on the first spawn after connecting or after a stop.
	OnTestStart func()
}

// Worker connects to a Locust master and runs scenario tasks on its
// behalf.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger

	// rng drives task waits; boomer calls task functions from many
	// goroutines.
	rng   *rand.Rand
	rngMu sync.Mutex

	// running is true between a test's first spawn and its stop.
	running bool
	testMu  sync.Mutex
}

// NewWorker creates a worker. Nothing connects until Run.
func NewWorker(cfg WorkerConfig) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Worker{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Tasks builds one boomer task per scenario task. Each call of a task
// function performs one invocation, then sleeps the task's wait time
// unless ctx is done.
func (w *Worker) Tasks(ctx context.Context) []*boomer.Task {
	tasks := make([]*boomer.Task, 0, len(w.cfg.Scenario.Tasks))
	for _, task := range w.cfg.Scenario.Tasks {
		task := task
		runner := w.cfg.Runners(task)
		tasks = append(tasks, &boomer.Task{
			Name:   task.Name,
			Weight: task.Weight,
			Fn: func() {
				runner.Run(ctx, task.Args)
				w.wait(ctx, &task)
			},
		})
	}
	return tasks
}

// wait sleeps for the task's wait time or until ctx is done.
func (w *Worker) wait(ctx context.Context, task *scenario.Task) {
	w.rngMu.Lock()
	d := task.Wait(w.rng)
	w.rngMu.Unlock()
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// spawned handles a spawn message. Later spawns of the same test only
// change the user count.
func (w *Worker) spawned(...any) {
	w.testMu.Lock()
	starting := !w.running
	w.running = true
	w.testMu.Unlock()

	if starting {
		w.logger.Info("locust_test_started")
		if w.cfg.OnTestStart != nil {
			w.cfg.OnTestStart()
		}
	}
}

func (w *Worker) stopped(...any) {
	w.testMu.Lock()
	w.running = false
	w.testMu.Unlock()
	w.logger.Info("locust_test_stopped")
}

// Run connects to the master and blocks until ctx is cancelled or the
// master quits the worker.
func (w *Worker) Run(ctx context.Context) error {
	b := boomer.NewBoomer(w.cfg.MasterHost, w.cfg.MasterPort)

	unsubscribe := w.cfg.Bus.Subscribe(NewForwarder(b))
	defer unsubscribe()

	quit := make(chan struct{})
	var once sync.Once
	onQuit := func() {
		once.Do(func() { close(quit) })
	}
	if err := boomer.Events.Subscribe(quitTopic, onQuit); err != nil {
		return err
	}
	defer boomer.Events.Unsubscribe(quitTopic, onQuit)

	if err := boomer.Events.Subscribe(spawnTopic, w.spawned); err != nil {
		return err
	}
	defer boomer.Events.Unsubscribe(spawnTopic, w.spawned)
	if err := boomer.Events.Subscribe(stopTopic, w.stopped); err != nil {
		return err
	}
	defer boomer.Events.Unsubscribe(stopTopic, w.stopped)

	w.logger.Info("locust_worker_starting",
		"master", w.cfg.MasterHost,
		"port", w.cfg.MasterPort,
		"tasks", len(w.cfg.Scenario.Tasks),
	)

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.Run(w.Tasks(taskCtx)...)

	select {
	case <-ctx.Done():
		w.logger.Info("locust_worker_stopping", "reason", "context_cancelled")
		b.Quit()
	case <-quit:
		w.logger.Info("locust_worker_stopping", "reason", "master_quit")
	}
	return nil
}

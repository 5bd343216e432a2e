package app

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// DefaultShutdownGrace is how long in-flight executions get to finish on Stop.
const DefaultShutdownGrace = 30 * time.Second

// RunState is the run state of the engine process, as opposed to the
// state of a single execution.
type RunState int

const (
	RunStopped RunState = iota
	RunStarting
	RunRunning
	RunStopping
	RunCrashed
)

var runStateNames = [...]string{"Stopped", "Starting", "Running", "Stopping", "Crashed"}

func (s RunState) String() string {
	if s < 0 || int(s) >= len(runStateNames) {
		return "Unknown"
	}
	return runStateNames[s]
}

// runTransitions lists allowed successors. Starting may go straight to
// Stopping when Stop is called during startup.
var runTransitions = map[RunState][]RunState{
	RunStopped:  {RunStarting},
	RunStarting: {RunRunning, RunStopping, RunCrashed},
	RunRunning:  {RunStopping, RunCrashed},
	RunStopping: {RunStopped, RunCrashed},
	RunCrashed:  {RunStarting},
}

func canRun(from, to RunState) bool {
	for _, next := range runTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// EventEmitter is told about every accepted run-state change.
type EventEmitter interface {
	OnStateChange(previous, current RunState, reason string)
}

// RunInfo describes the current run state and how it was reached.
type RunInfo struct {
	State  RunState
	Since  time.Time
	Reason string
}

// Lifecycle guards the engine run state and tracks the goroutines that
// must exit before the engine counts as stopped.
type Lifecycle struct {
	mu      sync.RWMutex
	info    RunInfo
	cancel  context.CancelFunc
	workers sync.WaitGroup

	clock   clock.Clock
	logger  ports.Logger
	emitter EventEmitter
}

// NewLifecycle returns a lifecycle in RunStopped. A nil clock means wall time.
func NewLifecycle(logger ports.Logger, emitter EventEmitter, clk clock.Clock) *Lifecycle {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Lifecycle{
		info:    RunInfo{State: RunStopped, Since: clk.Now()},
		clock:   clk,
		logger:  logger,
		emitter: emitter,
	}
}

func (l *Lifecycle) State() RunState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info.State
}

// Info returns the run state with the time and reason of the last change.
func (l *Lifecycle) Info() RunInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.info
}

// TransitionTo moves to next if the run-state table allows it. A rejected
// move from a stopped state returns ErrNotRunning, any other rejection
// ErrAlreadyRunning. The emitter is called outside the lock.
func (l *Lifecycle) TransitionTo(next RunState, reason string) error {
	l.mu.Lock()
	prev := l.info.State
	if !canRun(prev, next) {
		l.mu.Unlock()
		if prev == RunStopped || prev == RunCrashed {
			return domain.ErrNotRunning
		}
		return domain.ErrAlreadyRunning
	}
	l.info = RunInfo{State: next, Since: l.clock.Now(), Reason: reason}
	l.mu.Unlock()

	if l.emitter != nil {
		l.emitter.OnStateChange(prev, next, reason)
	}
	l.logger.Info("engine state transition",
		ports.Stringer("from", prev),
		ports.Stringer("to", next),
		ports.String("reason", reason),
	)
	return nil
}

// CanStart reports whether the engine is at rest.
func (l *Lifecycle) CanStart() bool {
	s := l.State()
	return s == RunStopped || s == RunCrashed
}

// CanStop reports whether there is something to stop.
func (l *Lifecycle) CanStop() bool {
	s := l.State()
	return s == RunRunning || s == RunStarting
}

// SetCancel stores the function that cancels the engine loops.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
}

// Cancel cancels the engine loops, if any were started.
func (l *Lifecycle) Cancel() {
	l.mu.RLock()
	cancel := l.cancel
	l.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

func (l *Lifecycle) AddWorker()  { l.workers.Add(1) }
func (l *Lifecycle) WorkerDone() { l.workers.Done() }

// WaitWithTimeout waits for every worker to call WorkerDone.
// Returns ErrShutdownTimeout if they are still running after timeout.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-l.clock.After(timeout):
		l.logger.Warn("timed out waiting for engine loops", ports.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}

package domain

import (
	"sync"
	"time"
)

// State is a step in an upgrade execution's lifecycle.
type State string

const (
	StateInit           State = "INIT"
	StateBackupPending  State = "BACKUP_PENDING"
	StateTesting        State = "TESTING"
	StateDeploying      State = "DEPLOYING"
	StateValidating     State = "VALIDATING"
	StateStabilityWait  State = "STABILITY_WAIT"
	StateFailed         State = "FAILED"
	StateRollingBack    State = "ROLLING_BACK"
	StateCompleted      State = "COMPLETED"
	StateRolledBack     State = "ROLLED_BACK"
	StateRollbackFailed State = "ROLLBACK_FAILED"
	StateForceStopped   State = "FORCE_STOPPED"
)

// String returns the state name.
func (s State) String() string { return string(s) }

// Terminal reports whether s can be a final state. FAILED is terminal
// unless a rollback follows it.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateRolledBack, StateFailed, StateRollbackFailed, StateForceStopped:
		return true
	}
	return false
}

// HasSideEffects reports whether a failure in state s may have changed the
// running system, making a rollback meaningful.
func (s State) HasSideEffects() bool {
	switch s {
	case StateDeploying, StateValidating, StateStabilityWait:
		return true
	}
	return false
}

// transitions lists the valid successor states for each state. FORCE_STOPPED
// is reachable from every non-terminal state and is handled separately.
var transitions = map[State][]State{
	StateInit:          {StateBackupPending, StateTesting, StateDeploying},
	StateBackupPending: {StateTesting, StateDeploying, StateFailed},
	StateTesting:       {StateDeploying, StateFailed},
	StateDeploying:     {StateValidating, StateFailed},
	StateValidating:    {StateStabilityWait, StateFailed},
	StateStabilityWait: {StateCompleted, StateFailed},
	StateFailed:        {StateRollingBack},
	StateRollingBack:   {StateRolledBack, StateRollbackFailed},
}

// CanTransition reports whether from -> to is a valid lifecycle step.
func CanTransition(from, to State) bool {
	if to == StateForceStopped {
		return !from.Terminal() || from == StateFailed
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Execution is one attempt at applying an upgrade definition. It is written
// only by the rollout that owns it; other goroutines read it through Snapshot.
type Execution struct {
	mu sync.RWMutex

	id           string
	definitionID string
	state        State
	failedPhase  State
	progress     int
	startedAt    time.Time
	endedAt      time.Time
	backupHandle string
	retryCount   int
	lastError    string
	rollbackTry  bool
	done         bool
}

// NewExecution creates an execution in INIT.
func NewExecution(id, definitionID string, retryCount int, startedAt time.Time) *Execution {
	return &Execution{
		id:           id,
		definitionID: definitionID,
		state:        StateInit,
		startedAt:    startedAt,
		retryCount:   retryCount,
	}
}

// ID returns the execution id.
func (e *Execution) ID() string { return e.id }

// DefinitionID returns the id of the definition being applied.
func (e *Execution) DefinitionID() string { return e.definitionID }

// State returns the current state.
func (e *Execution) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// BackupHandle returns the snapshot handle, empty if none was created.
func (e *Execution) BackupHandle() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.backupHandle
}

// FailedPhase returns the state in which the execution failed.
func (e *Execution) FailedPhase() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failedPhase
}

// Done reports whether the execution reached its final state.
func (e *Execution) Done() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.done
}

// TransitionTo moves the execution to next. Invalid transitions and any
// transition after the execution is done return ErrInvalidTransition and
// leave the state unchanged.
func (e *Execution) TransitionTo(next State) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	prev := e.state
	if e.done || !CanTransition(prev, next) {
		return prev, &TransitionError{From: prev, To: next}
	}
	e.state = next
	return prev, nil
}

// Fail moves the execution to FAILED and records where and why.
func (e *Execution) Fail(phase State, err error) (State, error) {
	prev, terr := e.TransitionTo(StateFailed)
	if terr != nil {
		return prev, terr
	}
	e.mu.Lock()
	e.failedPhase = phase
	if err != nil {
		e.lastError = err.Error()
	}
	e.mu.Unlock()
	return prev, nil
}

// SetBackupHandle records the snapshot created for this execution.
func (e *Execution) SetBackupHandle(handle string) {
	e.mu.Lock()
	e.backupHandle = handle
	e.mu.Unlock()
}

// SetProgress records deployment progress in percent.
func (e *Execution) SetProgress(percent int) {
	e.mu.Lock()
	if percent > e.progress {
		e.progress = percent
	}
	e.mu.Unlock()
}

// MarkRollbackAttempted notes that a restore was started.
func (e *Execution) MarkRollbackAttempted() {
	e.mu.Lock()
	e.rollbackTry = true
	e.mu.Unlock()
}

// SetError records err as the most recent failure.
func (e *Execution) SetError(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	e.lastError = err.Error()
	e.mu.Unlock()
}

// Finish marks the execution done. It returns false if it was already done,
// which happens when a force stop and the rollout race to finish it.
func (e *Execution) Finish(at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return false
	}
	e.done = true
	e.endedAt = at
	return true
}

// ForceStop moves a non-terminal execution to FORCE_STOPPED and finishes it.
func (e *Execution) ForceStop(at time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done || !CanTransition(e.state, StateForceStopped) {
		return false
	}
	if e.failedPhase == "" && e.state != StateFailed {
		e.failedPhase = e.state
	}
	e.state = StateForceStopped
	e.done = true
	e.endedAt = at
	return true
}

// ExecutionSnapshot is a point-in-time copy of an execution.
type ExecutionSnapshot struct {
	ID                string    `json:"id"`
	DefinitionID      string    `json:"definition_id"`
	State             State     `json:"state"`
	FailedPhase       State     `json:"failed_phase,omitempty"`
	Progress          int       `json:"progress"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at,omitempty"`
	BackupHandle      string    `json:"backup_handle,omitempty"`
	RetryCount        int       `json:"retry_count"`
	LastError         string    `json:"last_error,omitempty"`
	RollbackAttempted bool      `json:"rollback_attempted"`
}

// Snapshot copies the execution's fields.
func (e *Execution) Snapshot() ExecutionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ExecutionSnapshot{
		ID:                e.id,
		DefinitionID:      e.definitionID,
		State:             e.state,
		FailedPhase:       e.failedPhase,
		Progress:          e.progress,
		StartedAt:         e.startedAt,
		EndedAt:           e.endedAt,
		BackupHandle:      e.backupHandle,
		RetryCount:        e.retryCount,
		LastError:         e.lastError,
		RollbackAttempted: e.rollbackTry,
	}
}

// HistoryRecord is the durable summary of a finished execution.
type HistoryRecord struct {
	ExecutionID       string        `json:"execution_id"`
	DefinitionID      string        `json:"definition_id"`
	Kind              Kind          `json:"kind"`
	Priority          Priority      `json:"priority"`
	Strategy          Strategy      `json:"strategy"`
	FinalState        State         `json:"final_state"`
	Phase             State         `json:"phase,omitempty"`
	Error             string        `json:"error,omitempty"`
	StartedAt         time.Time     `json:"started_at"`
	EndedAt           time.Time     `json:"ended_at"`
	Duration          time.Duration `json:"duration"`
	RetryCount        int           `json:"retry_count"`
	RollbackAttempted bool          `json:"rollback_attempted"`
}

// Succeeded reports whether the upgrade was kept.
func (r HistoryRecord) Succeeded() bool {
	return r.FinalState == StateCompleted
}

// NewHistoryRecord summarises a finished execution of def.
func NewHistoryRecord(def UpgradeDefinition, snap ExecutionSnapshot) HistoryRecord {
	return HistoryRecord{
		ExecutionID:       snap.ID,
		DefinitionID:      snap.DefinitionID,
		Kind:              def.Kind,
		Priority:          def.Priority,
		Strategy:          def.Strategy,
		FinalState:        snap.State,
		Phase:             snap.FailedPhase,
		Error:             snap.LastError,
		StartedAt:         snap.StartedAt,
		EndedAt:           snap.EndedAt,
		Duration:          snap.EndedAt.Sub(snap.StartedAt),
		RetryCount:        snap.RetryCount,
		RollbackAttempted: snap.RollbackAttempted,
	}
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
	"github.com/bft-labs/upshift/pkg/log"
)

// DefaultRollbackTimeout bounds a restore when none is configured.
const DefaultRollbackTimeout = 5 * time.Minute

// RollbackResult reports the outcome of a rollback.
type RollbackResult struct {
	Success bool
	Err     error
}

// RollbackManager restores the snapshot taken before a failed upgrade.
// It only sequences the restore; the snapshot store does the work.
type RollbackManager struct {
	snapshots ports.SnapshotStore
	timeout   time.Duration
	steps     stepper
}

// NewRollbackManager creates a rollback manager. A non-positive timeout
// uses DefaultRollbackTimeout.
func NewRollbackManager(snapshots ports.SnapshotStore, timeout time.Duration, logger ports.Logger, metrics ports.Metrics) *RollbackManager {
	if timeout <= 0 {
		timeout = DefaultRollbackTimeout
	}
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &RollbackManager{
		snapshots: snapshots,
		timeout:   timeout,
		steps:     stepper{logger: logger, metrics: metrics},
	}
}

// Rollback moves a FAILED execution through ROLLING_BACK to ROLLED_BACK, or
// to ROLLBACK_FAILED when the restore fails or no backup handle exists.
// It is never retried. ctx must not carry the execution's own deadline;
// the restore gets its own timeout.
func (m *RollbackManager) Rollback(ctx context.Context, exec *domain.Execution) RollbackResult {
	if err := m.steps.to(exec, domain.StateRollingBack); err != nil {
		return RollbackResult{Err: err}
	}
	exec.MarkRollbackAttempted()
	upgradeErr := exec.Snapshot().LastError

	handle := exec.BackupHandle()
	if handle == "" {
		return m.failed(exec, domain.ErrNoBackupHandle, upgradeErr)
	}
	if m.snapshots == nil {
		return m.failed(exec, fmt.Errorf("no snapshot store configured"), upgradeErr)
	}

	rctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	if err := m.snapshots.Restore(rctx, handle); err != nil {
		return m.failed(exec, fmt.Errorf("restore %s: %w", handle, err), upgradeErr)
	}
	if err := m.steps.to(exec, domain.StateRolledBack); err != nil {
		return RollbackResult{Err: err}
	}
	m.steps.logger.Info("rollback complete",
		ports.String("execution_id", exec.ID()),
		ports.String("definition_id", exec.DefinitionID()),
		ports.String("backup_handle", handle),
	)
	return RollbackResult{Success: true}
}

func (m *RollbackManager) failed(exec *domain.Execution, cause error, upgradeErr string) RollbackResult {
	err := fmt.Errorf("rollback: %w", cause)
	if upgradeErr != "" {
		err = fmt.Errorf("rollback: %w (upgrade failure: %s)", cause, upgradeErr)
	}
	exec.SetError(err)
	if terr := m.steps.to(exec, domain.StateRollbackFailed); terr != nil {
		return RollbackResult{Err: terr}
	}
	snap := exec.Snapshot()
	m.steps.logger.Error("rollback failed, operator attention required",
		ports.String("execution_id", snap.ID),
		ports.String("definition_id", snap.DefinitionID),
		ports.String("failed_phase", snap.FailedPhase.String()),
		ports.String("backup_handle", snap.BackupHandle),
		ports.Int("retry_count", snap.RetryCount),
		ports.Err(err),
	)
	return RollbackResult{Err: err}
}

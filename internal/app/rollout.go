package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
	"github.com/bft-labs/upshift/pkg/log"
)

// RolloutConfig holds the settings that shape every execution.
type RolloutConfig struct {
	AutoRollback       bool
	ProgressiveEnabled bool

	CanaryObservation     time.Duration
	StabilityDuration     time.Duration
	StabilityPollInterval time.Duration

	// ExecutionTimeout is the overall deadline for definitions without their own.
	ExecutionTimeout time.Duration
	RollbackTimeout  time.Duration

	Health HealthPolicy
}

// RolloutDeps are the collaborators a rollout calls.
type RolloutDeps struct {
	Executor  ports.DeploymentExecutor
	Tests     ports.TestRunner
	Validator ports.Validator
	Snapshots ports.SnapshotStore
	Telemetry ports.TelemetryProvider

	Clock   clock.Clock
	Logger  ports.Logger
	Metrics ports.Metrics
}

// Rollout drives executions through their lifecycle.
type Rollout struct {
	cfg       RolloutConfig
	deps      RolloutDeps
	stability *StabilityMonitor
	rollback  *RollbackManager
	steps     stepper
}

// NewRollout creates a rollout driver. Executor and Telemetry are required.
// Without a Validator the telemetry validator is used.
func NewRollout(cfg RolloutConfig, deps RolloutDeps) (*Rollout, error) {
	if deps.Executor == nil {
		return nil, fmt.Errorf("%w: deployment executor is required", domain.ErrInvalidConfig)
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("%w: telemetry provider is required", domain.ErrInvalidConfig)
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Logger == nil {
		deps.Logger = log.NewNoopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	if deps.Validator == nil {
		deps.Validator = NewTelemetryValidator(deps.Telemetry, cfg.Health)
	}

	return &Rollout{
		cfg:  cfg,
		deps: deps,
		stability: NewStabilityMonitor(deps.Telemetry, cfg.Health, deps.Clock,
			cfg.StabilityDuration, cfg.StabilityPollInterval),
		rollback: NewRollbackManager(deps.Snapshots, cfg.RollbackTimeout, deps.Logger, deps.Metrics),
		steps:    stepper{logger: deps.Logger, metrics: deps.Metrics},
	}, nil
}

// Execute runs exec to a terminal state. Failures never escape: each one
// becomes a transition recorded on exec. If ctx is cancelled with
// domain.ErrForceStopped the execution ends FORCE_STOPPED.
func (r *Rollout) Execute(ctx context.Context, def domain.UpgradeDefinition, exec *domain.Execution) {
	timeout := r.cfg.ExecutionTimeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeoutCause(ctx, timeout, domain.ErrExecutionTimeout)
	}
	defer cancel()

	logger := ports.WithFields(r.deps.Logger,
		ports.String("execution_id", exec.ID()),
		ports.String("definition_id", def.ID),
	)
	logger.Info("upgrade started",
		ports.String("strategy", string(def.Strategy)),
		ports.Duration("timeout", timeout),
	)

	err := r.run(runCtx, def, exec)
	if err == nil {
		if r.steps.to(exec, domain.StateCompleted) == nil {
			exec.Finish(r.deps.Clock.Now())
			logger.Info("upgrade completed", ports.Int("retry_count", exec.Snapshot().RetryCount))
		}
		return
	}

	if errors.Is(context.Cause(ctx), domain.ErrForceStopped) {
		if exec.ForceStop(r.deps.Clock.Now()) {
			r.deps.Metrics.StateTransition(domain.StateForceStopped)
		}
		return
	}

	phase := exec.State()
	var pe *domain.PhaseError
	if errors.As(err, &pe) {
		phase = pe.Phase
	}
	if ferr := r.steps.fail(exec, phase, err); ferr != nil {
		// Someone else finished the execution, typically a force stop.
		return
	}
	logger.Warn("upgrade failed",
		ports.Stringer("phase", phase),
		ports.Err(err),
	)

	if r.shouldRollback(def, phase) {
		// The parent context: a restore must not inherit an expired execution deadline.
		r.rollback.Rollback(ctx, exec)
	}
	exec.Finish(r.deps.Clock.Now())
}

func (r *Rollout) shouldRollback(def domain.UpgradeDefinition, phase domain.State) bool {
	return def.RollbackSupported && r.cfg.AutoRollback && phase.HasSideEffects()
}

func (r *Rollout) run(ctx context.Context, def domain.UpgradeDefinition, exec *domain.Execution) error {
	if def.RollbackSupported {
		if err := r.backup(ctx, def, exec); err != nil {
			return err
		}
	}

	if def.TestingRequired {
		if err := r.test(ctx, def, exec); err != nil {
			return err
		}
	}

	if err := r.steps.to(exec, domain.StateDeploying); err != nil {
		return err
	}
	if err := r.deploy(ctx, def, exec); err != nil {
		return err
	}

	if err := r.steps.to(exec, domain.StateValidating); err != nil {
		return err
	}
	res, err := r.deps.Validator.Validate(ctx, def)
	if err != nil {
		return phaseError(ctx, domain.StateValidating, fmt.Errorf("validate: %w", err))
	}
	if !res.Passed {
		return phaseError(ctx, domain.StateValidating, fmt.Errorf("validation failed: %s", res.Details))
	}

	if err := r.steps.to(exec, domain.StateStabilityWait); err != nil {
		return err
	}
	if err := r.stability.Observe(ctx); err != nil {
		return phaseError(ctx, domain.StateStabilityWait, fmt.Errorf("unstable: %w", err))
	}
	return nil
}

func (r *Rollout) backup(ctx context.Context, def domain.UpgradeDefinition, exec *domain.Execution) error {
	if err := r.steps.to(exec, domain.StateBackupPending); err != nil {
		return err
	}
	if r.deps.Snapshots == nil {
		return phaseError(ctx, domain.StateBackupPending, errors.New("no snapshot store configured"))
	}
	handle, err := r.deps.Snapshots.Create(ctx, def)
	if err != nil {
		return phaseError(ctx, domain.StateBackupPending, fmt.Errorf("create snapshot: %w", err))
	}
	if handle == "" {
		return phaseError(ctx, domain.StateBackupPending, errors.New("snapshot store returned an empty handle"))
	}
	exec.SetBackupHandle(handle)
	r.deps.Logger.Debug("snapshot created",
		ports.String("execution_id", exec.ID()),
		ports.String("backup_handle", handle),
	)
	return nil
}

func (r *Rollout) test(ctx context.Context, def domain.UpgradeDefinition, exec *domain.Execution) error {
	if err := r.steps.to(exec, domain.StateTesting); err != nil {
		return err
	}
	if r.deps.Tests == nil {
		return phaseError(ctx, domain.StateTesting, domain.ErrNoTestRunner)
	}
	res, err := r.deps.Tests.Run(ctx, def)
	if err != nil {
		return phaseError(ctx, domain.StateTesting, fmt.Errorf("run tests: %w", err))
	}
	if !res.Passed {
		return phaseError(ctx, domain.StateTesting, fmt.Errorf("tests failed: %s", res.Details))
	}
	return nil
}

func (r *Rollout) deploy(ctx context.Context, def domain.UpgradeDefinition, exec *domain.Execution) error {
	for _, step := range planDeployment(def, r.cfg.ProgressiveEnabled) {
		phase := step.request.Phase
		res, err := r.deps.Executor.Deploy(ctx, def, step.request)
		if err != nil {
			return phaseError(ctx, domain.StateDeploying, fmt.Errorf("%s at %d%%: %w", phase.Name, phase.Percent, err))
		}
		if !res.Success {
			return phaseError(ctx, domain.StateDeploying, fmt.Errorf("%s at %d%%: executor reported failure: %s", phase.Name, phase.Percent, res.Details))
		}
		exec.SetProgress(phase.Percent)
		r.deps.Logger.Debug("deployment phase complete",
			ports.String("execution_id", exec.ID()),
			ports.String("phase", phase.Name),
			ports.Int("percent", phase.Percent),
		)

		if step.observe && r.cfg.CanaryObservation > 0 {
			select {
			case <-ctx.Done():
				return phaseError(ctx, domain.StateDeploying, fmt.Errorf("%s observation interrupted", phase.Name))
			case <-r.deps.Clock.After(r.cfg.CanaryObservation):
			}
		}
		if step.check {
			if err := sampleHealth(ctx, r.deps.Telemetry, r.cfg.Health); err != nil {
				return phaseError(ctx, domain.StateDeploying, fmt.Errorf("%s at %d%% check: %w", phase.Name, phase.Percent, err))
			}
		}
	}
	return nil
}

// phaseError tags err with phase, and with the context's cancellation cause
// when the failure was caused by a deadline or shutdown.
func phaseError(ctx context.Context, phase domain.State, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
		err = fmt.Errorf("%w: %w", cause, err)
	}
	return &domain.PhaseError{Phase: phase, Err: err}
}

// stepper applies validated transitions and records them.
type stepper struct {
	logger  ports.Logger
	metrics ports.Metrics
}

func (s stepper) to(exec *domain.Execution, next domain.State) error {
	prev, err := exec.TransitionTo(next)
	if err != nil {
		return err
	}
	s.record(exec, prev, next)
	return nil
}

func (s stepper) fail(exec *domain.Execution, phase domain.State, cause error) error {
	prev, err := exec.Fail(phase, cause)
	if err != nil {
		return err
	}
	s.record(exec, prev, domain.StateFailed)
	return nil
}

func (s stepper) record(exec *domain.Execution, prev, next domain.State) {
	if s.metrics != nil {
		s.metrics.StateTransition(next)
	}
	if s.logger != nil {
		s.logger.Debug("execution transition",
			ports.String("execution_id", exec.ID()),
			ports.String("from", prev.String()),
			ports.String("to", next.String()),
		)
	}
}

// noopMetrics discards all measurements.
type noopMetrics struct{}

func (noopMetrics) ExecutionFinished(domain.HistoryRecord) {}
func (noopMetrics) ActiveExecutions(int)                   {}
func (noopMetrics) StateTransition(domain.State)           {}
func (noopMetrics) CatalogSize(int)                        {}
func (noopMetrics) DefinitionLoadErrors(int)               {}
func (noopMetrics) TickDuration(time.Duration)             {}

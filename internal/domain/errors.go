package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent error conditions in the upshift domain.
// These errors are returned by the public API and can be checked with errors.Is.
var (
	// ErrAlreadyRunning is returned when Start() is called on a running engine.
	ErrAlreadyRunning = errors.New("upshift: already running")

	// ErrNotRunning is returned when Stop() is called on a stopped engine.
	ErrNotRunning = errors.New("upshift: not running")

	// ErrShutdownTimeout is returned when in-flight executions had to be abandoned.
	ErrShutdownTimeout = errors.New("upshift: shutdown timeout")

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("upshift: invalid configuration")

	// ErrInvalidDefinition is returned for structurally broken upgrade definitions.
	ErrInvalidDefinition = errors.New("upshift: invalid upgrade definition")

	// ErrInvalidTransition is returned when a lifecycle step is not allowed.
	ErrInvalidTransition = errors.New("upshift: invalid state transition")

	// ErrNoBackupHandle is returned when a rollback is requested but no
	// snapshot exists. It is fatal and never retried.
	ErrNoBackupHandle = errors.New("upshift: no backup handle, cannot roll back")

	// ErrNoTestRunner is returned when a definition requires testing and no
	// test runner is configured.
	ErrNoTestRunner = errors.New("upshift: testing required but no test runner configured")

	// ErrForceStopped is the cancellation cause for executions interrupted by shutdown.
	ErrForceStopped = errors.New("upshift: force stopped by shutdown")

	// ErrExecutionTimeout is the cancellation cause when an execution's overall deadline expires.
	ErrExecutionTimeout = errors.New("upshift: execution deadline exceeded")

	// ErrUnhealthy is returned when telemetry indicates degradation.
	ErrUnhealthy = errors.New("upshift: system unhealthy")
)

// TransitionError describes a rejected state transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("upshift: invalid state transition %s -> %s", e.From, e.To)
}

// Is makes TransitionError match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// PhaseError records the lifecycle phase in which an execution failed.
type PhaseError struct {
	Phase State
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

package ports

import (
	"context"

	"github.com/bft-labs/upshift/internal/domain"
)

// PhaseInfo describes one step of a strategy's rollout.
type PhaseInfo struct {
	// Name is a short label such as "canary", "full" or "phase-2".
	Name string

	// Percent is the share of the system the upgrade should reach after this call.
	Percent int

	// Index is the zero-based position of this phase; Total is the phase count.
	Index int
	Total int
}

// DeployRequest is passed to the executor for every deployment call.
type DeployRequest struct {
	Strategy domain.Strategy
	Phase    PhaseInfo
}

// DeployResult reports the outcome of a deployment call.
type DeployResult struct {
	Success bool
	Details string
}

// DeploymentExecutor applies an upgrade's effect to the live system.
// The engine never inspects how; it only observes success or failure.
type DeploymentExecutor interface {
	// Deploy performs one phase of the rollout. A returned error and
	// Success=false are both treated as a failed call.
	Deploy(ctx context.Context, def domain.UpgradeDefinition, req DeployRequest) (DeployResult, error)
}

// CheckResult reports the outcome of a test run or validation.
type CheckResult struct {
	Passed  bool
	Details string
}

// TestRunner runs pre-deployment tests for definitions with TestingRequired.
type TestRunner interface {
	Run(ctx context.Context, def domain.UpgradeDefinition) (CheckResult, error)
}

// Validator performs post-deployment checks.
type Validator interface {
	Validate(ctx context.Context, def domain.UpgradeDefinition) (CheckResult, error)
}

package app

import (
	"fmt"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// deployStep is one executor call plus what happens after it succeeds.
type deployStep struct {
	request ports.DeployRequest

	// observe pauses for the canary observation period before the check.
	observe bool

	// check runs the health policy before the next step.
	check bool
}

// planDeployment turns a definition's strategy into executor calls.
// Progressive definitions deploy as immediate when progressive is disabled.
func planDeployment(def domain.UpgradeDefinition, progressiveEnabled bool) []deployStep {
	strategy := def.Strategy
	if strategy == domain.StrategyProgressive && !progressiveEnabled {
		strategy = domain.StrategyImmediate
	}

	switch strategy {
	case domain.StrategyProgressive:
		phases := def.ProgressivePhases()
		steps := make([]deployStep, len(phases))
		for i, pct := range phases {
			steps[i] = deployStep{
				request: ports.DeployRequest{
					Strategy: strategy,
					Phase: ports.PhaseInfo{
						Name:    fmt.Sprintf("phase-%d", i+1),
						Percent: pct,
						Index:   i,
						Total:   len(phases),
					},
				},
				check: i < len(phases)-1,
			}
		}
		return steps

	case domain.StrategyCanary:
		return []deployStep{
			{
				request: ports.DeployRequest{
					Strategy: strategy,
					Phase:    ports.PhaseInfo{Name: "canary", Percent: def.CanaryShare(), Index: 0, Total: 2},
				},
				observe: true,
				check:   true,
			},
			{
				request: ports.DeployRequest{
					Strategy: strategy,
					Phase:    ports.PhaseInfo{Name: "full", Percent: 100, Index: 1, Total: 2},
				},
			},
		}

	default:
		return []deployStep{{
			request: ports.DeployRequest{
				Strategy: strategy,
				Phase:    ports.PhaseInfo{Name: "full", Percent: 100, Index: 0, Total: 1},
			},
		}}
	}
}

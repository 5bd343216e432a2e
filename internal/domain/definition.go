package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind classifies what an upgrade changes.
type Kind string

const (
	KindFeature       Kind = "feature"
	KindPerformance   Kind = "performance"
	KindSecurity      Kind = "security"
	KindCompatibility Kind = "compatibility"
	KindAlgorithm     Kind = "algorithm"
	KindIntegration   Kind = "integration"
	KindUI            Kind = "ui"
	KindDataModel     Kind = "data-model"
)

// Kinds lists every known kind in declaration order.
var Kinds = []Kind{
	KindFeature, KindPerformance, KindSecurity, KindCompatibility,
	KindAlgorithm, KindIntegration, KindUI, KindDataModel,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Priority is an ordinal tier; higher values are scheduled first.
type Priority int

const (
	PriorityOptional Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

// String returns the lower-case name used in definition files.
func (p Priority) String() string {
	switch p {
	case PriorityOptional:
		return "optional"
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "optional":
		return PriorityOptional, nil
	case "low":
		return PriorityLow, nil
	case "medium", "":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return PriorityOptional, fmt.Errorf("unknown priority %q", s)
	}
}

// Strategy is the deployment pattern used to apply an upgrade.
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyProgressive Strategy = "progressive"
	StrategyCanary      Strategy = "canary"
	StrategyBlueGreen   Strategy = "blue-green"
	StrategyRolling     Strategy = "rolling"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyImmediate, StrategyProgressive, StrategyCanary, StrategyBlueGreen, StrategyRolling:
		return true
	}
	return false
}

// Requirement types understood by the eligibility evaluator.
const (
	RequirementMin        = "min"
	RequirementMax        = "max"
	RequirementRange      = "range"
	RequirementDependency = "dependency"
)

// Requirement is a named predicate over telemetry.
// Which fields are meaningful depends on Type.
type Requirement struct {
	Name   string
	Type   string
	Metric string
	Value  float64
	Min    float64
	Max    float64
	Target string
}

// Benefit is a named estimate range, e.g. performance-gain 10..25.
// The name doubles as a capability tag.
type Benefit struct {
	Name string
	Min  float64
	Max  float64
}

// Midpoint returns the centre of the estimate range.
func (b Benefit) Midpoint() float64 {
	return (b.Min + b.Max) / 2
}

// Default rollout parameters applied when a definition leaves them unset.
var DefaultProgressivePhases = []int{25, 50, 75, 100}

const DefaultCanaryPercent = 10

// UpgradeDefinition describes one candidate upgrade. It is immutable once
// loaded into the catalog.
type UpgradeDefinition struct {
	ID          string
	Name        string
	Description string
	Kind        Kind
	Priority    Priority

	Requirements []Requirement
	Benefits     []Benefit

	Strategy      Strategy
	Phases        []int
	CanaryPercent int

	RollbackSupported bool
	TestingRequired   bool

	Conflicts []string
	DependsOn []string

	// Timeout overrides the engine-wide execution deadline when positive.
	Timeout time.Duration
}

// BenefitScore aggregates the benefit estimates into a single ranking value.
func (d UpgradeDefinition) BenefitScore() float64 {
	var total float64
	for _, b := range d.Benefits {
		if m := b.Midpoint(); Finite(m) {
			total += m
		}
	}
	return total
}

// ProgressivePhases returns the phase percentages for progressive rollouts.
func (d UpgradeDefinition) ProgressivePhases() []int {
	if len(d.Phases) == 0 {
		return DefaultProgressivePhases
	}
	return d.Phases
}

// CanaryShare returns the canary percentage, falling back to the default.
func (d UpgradeDefinition) CanaryShare() int {
	if d.CanaryPercent <= 0 || d.CanaryPercent >= 100 {
		return DefaultCanaryPercent
	}
	return d.CanaryPercent
}

// HasBenefitTag reports whether any benefit is named tag.
func (d UpgradeDefinition) HasBenefitTag(tag string) bool {
	for _, b := range d.Benefits {
		if b.Name == tag {
			return true
		}
	}
	return false
}

// Validate checks the structural fields that the engine relies on.
// Requirement types and metrics are not validated here; malformed
// requirements are scored as failed checks by the evaluator. Numbers
// must be finite everywhere.
func (d UpgradeDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDefinition)
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, d.Kind)
	}
	if !d.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidDefinition, d.Strategy)
	}
	prev := 0
	for _, p := range d.Phases {
		if p <= prev || p > 100 {
			return fmt.Errorf("%w: phases must increase within 1..100, got %v", ErrInvalidDefinition, d.Phases)
		}
		prev = p
	}
	if len(d.Phases) > 0 && prev != 100 {
		return fmt.Errorf("%w: last phase must be 100, got %d", ErrInvalidDefinition, prev)
	}
	for _, id := range d.Conflicts {
		if id == d.ID {
			return fmt.Errorf("%w: definition conflicts with itself", ErrInvalidDefinition)
		}
	}
	for _, id := range d.DependsOn {
		if id == d.ID {
			return fmt.Errorf("%w: definition depends on itself", ErrInvalidDefinition)
		}
	}
	for _, r := range d.Requirements {
		if !Finite(r.Value, r.Min, r.Max) {
			return fmt.Errorf("%w: requirement %q has a non-finite bound", ErrInvalidDefinition, r.Name)
		}
	}
	for _, b := range d.Benefits {
		if !Finite(b.Min, b.Max) {
			return fmt.Errorf("%w: benefit %q has a non-finite estimate", ErrInvalidDefinition, b.Name)
		}
	}
	return nil
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

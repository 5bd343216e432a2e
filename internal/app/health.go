package app

import (
	"context"
	"fmt"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// HealthPolicy decides whether a telemetry sample shows degradation.
// Zero limits are not checked. Metrics missing from the sample are not
// treated as degradation; non-finite ones are.
type HealthPolicy struct {
	MaxErrorRate   float64
	MinPerformance float64
	MaxLoad        float64
}

// Check returns an error wrapping domain.ErrUnhealthy if t breaches the policy.
func (p HealthPolicy) Check(t domain.Telemetry) error {
	if p.MaxErrorRate > 0 {
		if v, ok := t.Metric(domain.MetricErrorRate); ok && !(v <= p.MaxErrorRate) {
			return fmt.Errorf("%w: error rate %.4g above %.4g", domain.ErrUnhealthy, v, p.MaxErrorRate)
		}
	}
	if p.MinPerformance > 0 {
		if v, ok := t.Metric(domain.MetricPerformanceScore); ok && (!domain.Finite(v) || v < p.MinPerformance) {
			return fmt.Errorf("%w: performance score %.4g below %.4g", domain.ErrUnhealthy, v, p.MinPerformance)
		}
	}
	if p.MaxLoad > 0 {
		if v, ok := t.Metric(domain.MetricLoad); ok && !(v <= p.MaxLoad) {
			return fmt.Errorf("%w: load %.4g above %.4g", domain.ErrUnhealthy, v, p.MaxLoad)
		}
	}
	return nil
}

// sampleHealth takes a fresh telemetry snapshot and checks it.
func sampleHealth(ctx context.Context, provider ports.TelemetryProvider, policy HealthPolicy) error {
	t, err := provider.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("telemetry snapshot: %w", err)
	}
	return policy.Check(t)
}

// TelemetryValidator is the default post-deployment validator: it passes
// when a fresh telemetry sample satisfies the health policy.
type TelemetryValidator struct {
	telemetry ports.TelemetryProvider
	policy    HealthPolicy
}

// NewTelemetryValidator creates a validator over provider.
func NewTelemetryValidator(provider ports.TelemetryProvider, policy HealthPolicy) *TelemetryValidator {
	return &TelemetryValidator{telemetry: provider, policy: policy}
}

// Validate implements ports.Validator.
func (v *TelemetryValidator) Validate(ctx context.Context, _ domain.UpgradeDefinition) (ports.CheckResult, error) {
	t, err := v.telemetry.Snapshot(ctx)
	if err != nil {
		return ports.CheckResult{}, fmt.Errorf("telemetry snapshot: %w", err)
	}
	if err := v.policy.Check(t); err != nil {
		return ports.CheckResult{Passed: false, Details: err.Error()}, nil
	}
	return ports.CheckResult{Passed: true}, nil
}

var _ ports.Validator = (*TelemetryValidator)(nil)

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/clock"

	"github.com/bft-labs/upshift/internal/ports"
)

// StabilityMonitor watches telemetry for a fixed window after deployment.
type StabilityMonitor struct {
	telemetry ports.TelemetryProvider
	policy    HealthPolicy
	clock     clock.Clock
	duration  time.Duration
	interval  time.Duration
}

// NewStabilityMonitor creates a monitor sampling every interval for duration.
func NewStabilityMonitor(provider ports.TelemetryProvider, policy HealthPolicy, clk clock.Clock, duration, interval time.Duration) *StabilityMonitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &StabilityMonitor{
		telemetry: provider,
		policy:    policy,
		clock:     clk,
		duration:  duration,
		interval:  interval,
	}
}

// Observe returns nil if every sample in the window was healthy. The
// first unhealthy sample ends the window early. With a non-positive
// duration a single sample is taken.
func (m *StabilityMonitor) Observe(ctx context.Context) error {
	if m.duration <= 0 {
		return sampleHealth(ctx, m.telemetry, m.policy)
	}

	deadline := m.clock.Now().Add(m.duration)
	samples := 0
	for {
		wait := m.interval
		if remaining := deadline.Sub(m.clock.Now()); remaining < wait {
			wait = remaining
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-m.clock.After(wait):
			}
		}

		samples++
		if err := sampleHealth(ctx, m.telemetry, m.policy); err != nil {
			return fmt.Errorf("sample %d: %w", samples, err)
		}
		if !m.clock.Now().Before(deadline) {
			return nil
		}
	}
}

package app

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/upshift/internal/domain"
)

func observeAsync(ctx context.Context, m *StabilityMonitor) <-chan error {
	done := make(chan error, 1)
	go func() { done <- m.Observe(ctx) }()
	return done
}

func TestStabilityMonitor_HealthyWindow(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	provider := staticTelemetry(healthy())
	m := NewStabilityMonitor(provider, testHealth, clk, 3*time.Second, time.Second)

	done := observeAsync(context.Background(), m)
	for i := 0; i < 3; i++ {
		require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Observe did not return after the window elapsed")
	}
	assert.Equal(t, 3, provider.Calls())
}

func TestStabilityMonitor_UnhealthySampleEndsWindow(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	samples := 0
	provider := &fakeTelemetry{fn: func() (domain.Telemetry, error) {
		samples++
		if samples == 2 {
			return unhealthy(), nil
		}
		return healthy(), nil
	}}
	m := NewStabilityMonitor(provider, testHealth, clk, time.Minute, time.Second)

	done := observeAsync(context.Background(), m)
	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrUnhealthy)
		assert.Contains(t, err.Error(), "sample 2")
	case <-time.After(time.Second):
		t.Fatal("Observe did not stop at the unhealthy sample")
	}
}

func TestStabilityMonitor_Cancelled(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	m := NewStabilityMonitor(staticTelemetry(healthy()), testHealth, clk, time.Minute, time.Second)

	ctx, cancel := context.WithCancelCause(context.Background())
	done := observeAsync(ctx, m)
	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	cancel(domain.ErrForceStopped)

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, domain.ErrForceStopped))
	case <-time.After(time.Second):
		t.Fatal("Observe ignored cancellation")
	}
}

func TestStabilityMonitor_ZeroDurationSamplesOnce(t *testing.T) {
	provider := staticTelemetry(healthy())
	m := NewStabilityMonitor(provider, testHealth, testclock.NewClock(time.Unix(0, 0)), 0, time.Second)

	require.NoError(t, m.Observe(context.Background()))
	assert.Equal(t, 1, provider.Calls())
}

func TestHealthPolicy_Check(t *testing.T) {
	policy := HealthPolicy{MaxErrorRate: 0.05, MinPerformance: 0.5, MaxLoad: 0.9}

	assert.NoError(t, policy.Check(healthy()))
	assert.NoError(t, policy.Check(domain.Telemetry{}), "missing metrics are not degradation")
	assert.NoError(t, HealthPolicy{}.Check(unhealthy()), "zero limits are not checked")

	slow := healthy()
	slow.Metrics[domain.MetricPerformanceScore] = 0.1
	assert.ErrorIs(t, policy.Check(slow), domain.ErrUnhealthy)

	busy := healthy()
	busy.Metrics[domain.MetricLoad] = 0.95
	assert.ErrorIs(t, policy.Check(busy), domain.ErrUnhealthy)

	assert.ErrorIs(t, policy.Check(unhealthy()), domain.ErrUnhealthy)

	for _, metric := range []string{domain.MetricErrorRate, domain.MetricPerformanceScore, domain.MetricLoad} {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			bad := healthy()
			bad.Metrics[metric] = v
			assert.ErrorIs(t, policy.Check(bad), domain.ErrUnhealthy, "%s=%v", metric, v)
		}
	}
}

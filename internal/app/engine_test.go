package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

type engineFixture struct {
	defs      *fakeDefinitions
	modules   *fakeModules
	executor  *fakeExecutor
	snapshots *fakeSnapshots
	telemetry *fakeTelemetry
	history   *MemoryHistory
	events    *recordingEvents
	cfg       EngineConfig
}

func newEngineFixture(defs ...domain.UpgradeDefinition) *engineFixture {
	return &engineFixture{
		defs:      &fakeDefinitions{defs: defs},
		modules:   &fakeModules{},
		executor:  &fakeExecutor{},
		snapshots: &fakeSnapshots{},
		telemetry: staticTelemetry(healthy()),
		history:   NewMemoryHistory(),
		events:    &recordingEvents{},
		cfg: EngineConfig{
			MaxConcurrent: 2,
			MaxAttempts:   3,
			AbandonWait:   time.Second,
			Rollout:       quickRollout(),
		},
	}
}

func (f *engineFixture) start(t *testing.T) *Engine {
	t.Helper()
	var seq atomic.Int64
	e, err := NewEngine(f.cfg, EngineDeps{
		Definitions: f.defs,
		Telemetry:   f.telemetry,
		Modules:     f.modules,
		Snapshots:   f.snapshots,
		Executor:    f.executor,
		History:     f.history,
		Logger:      mockLogger{},
		Events:      f.events,
		NewID:       func() string { return fmt.Sprintf("exec-%d", seq.Add(1)) },
	})
	require.NoError(t, err)
	require.NoError(t, e.Init(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(100 * time.Millisecond) })
	return e
}

func (f *engineFixture) records(t *testing.T) []domain.HistoryRecord {
	t.Helper()
	recs, err := f.history.Since(context.Background(), time.Time{})
	require.NoError(t, err)
	return recs
}

func idle(e *Engine) func() bool {
	return func() bool { return e.Status().Active == 0 }
}

func mustTick(t *testing.T, e *Engine) TickSummary {
	t.Helper()
	s, err := e.Tick(context.Background())
	require.NoError(t, err)
	return s
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(EngineConfig{MaxConcurrent: 1}, EngineDeps{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	_, err = NewEngine(EngineConfig{}, EngineDeps{Definitions: &fakeDefinitions{}})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestEngine_TickCompletesUpgrade(t *testing.T) {
	d := perfV2()
	d.Requirements = []domain.Requirement{{Type: domain.RequirementMin, Metric: domain.MetricPerformanceScore, Value: 0.5}}
	f := newEngineFixture(d)
	e := f.start(t)

	s := mustTick(t, e)
	assert.Equal(t, 1, s.Definitions)
	assert.Equal(t, 1, s.Eligible)
	assert.Equal(t, []string{"perf-v2"}, s.Admitted)

	require.Eventually(t, idle(e), waitFor, tick)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StateCompleted, recs[0].FinalState)
	assert.Equal(t, "exec-1", recs[0].ExecutionID)
	assert.Equal(t, []string{"perf-v2"}, e.Status().Completed)
	assert.Empty(t, f.snapshots.Restored())
	assert.Equal(t, []domain.EventType{
		domain.EventSystemInitialized,
		domain.EventUpgradeStarted,
		domain.EventUpgradeCompleted,
	}, f.events.Types())

	assert.Empty(t, mustTick(t, e).Admitted, "completed upgrades are not applied again")
}

func TestEngine_HigherPriorityFirstUnderCapacity(t *testing.T) {
	gate := make(chan struct{})
	f := newEngineFixture(newDef("low", domain.PriorityLow), newDef("high", domain.PriorityHigh))
	f.cfg.MaxConcurrent = 1
	f.executor = gatedExecutor(gate)
	e := f.start(t)

	assert.Equal(t, []string{"high"}, mustTick(t, e).Admitted)
	st := e.Status()
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 1, st.Available)
	require.Len(t, st.Running, 1)
	assert.Equal(t, "high", st.Running[0].DefinitionID)

	assert.Empty(t, mustTick(t, e).Admitted)

	close(gate)
	require.Eventually(t, idle(e), waitFor, tick)
	assert.Equal(t, []string{"low"}, mustTick(t, e).Admitted)
	require.Eventually(t, idle(e), waitFor, tick)
	assert.Equal(t, []string{"high", "low"}, e.Status().Completed)
}

func TestEngine_NeverExceedsCapacity(t *testing.T) {
	var defs []domain.UpgradeDefinition
	for i := 0; i < 5; i++ {
		defs = append(defs, newDef(fmt.Sprintf("up-%d", i), domain.PriorityMedium))
	}
	gate := make(chan struct{})
	f := newEngineFixture(defs...)
	f.executor = gatedExecutor(gate)
	e := f.start(t)

	assert.Len(t, mustTick(t, e).Admitted, 2)
	assert.Empty(t, mustTick(t, e).Admitted)
	assert.Equal(t, 2, e.Status().Active)

	close(gate)
	require.Eventually(t, func() bool {
		_, _ = e.Tick(context.Background())
		return len(e.Status().Completed) == 5
	}, waitFor, tick)

	assert.LessOrEqual(t, f.executor.MaxConcurrent(), 2)
	assert.Len(t, f.records(t), 5)
}

func TestEngine_ConflictsAreNotConcurrent(t *testing.T) {
	a := newDef("a", domain.PriorityHigh)
	a.Conflicts = []string{"b"}
	b := newDef("b", domain.PriorityMedium)
	gate := make(chan struct{})
	f := newEngineFixture(a, b)
	f.executor = gatedExecutor(gate)
	e := f.start(t)

	assert.Equal(t, []string{"a"}, mustTick(t, e).Admitted)
	assert.Empty(t, mustTick(t, e).Admitted)

	close(gate)
	require.Eventually(t, idle(e), waitFor, tick)
	assert.Equal(t, []string{"b"}, mustTick(t, e).Admitted)
}

func TestEngine_DependenciesWaitForCompletion(t *testing.T) {
	base := newDef("base", domain.PriorityLow)
	dependent := newDef("dependent", domain.PriorityCritical)
	dependent.DependsOn = []string{"base"}
	f := newEngineFixture(base, dependent)
	e := f.start(t)

	assert.Equal(t, []string{"base"}, mustTick(t, e).Admitted)
	require.Eventually(t, idle(e), waitFor, tick)
	assert.Equal(t, []string{"dependent"}, mustTick(t, e).Admitted)
	require.Eventually(t, idle(e), waitFor, tick)
}

func TestEngine_RetriesUpToMaxAttempts(t *testing.T) {
	f := newEngineFixture(newDef("flaky", domain.PriorityHigh))
	f.cfg.MaxAttempts = 2
	f.executor = failingExecutor("flaky")
	e := f.start(t)

	for attempt := 0; attempt < 2; attempt++ {
		assert.Equal(t, []string{"flaky"}, mustTick(t, e).Admitted, "attempt %d", attempt)
		require.Eventually(t, idle(e), waitFor, tick)
	}
	assert.Empty(t, mustTick(t, e).Admitted)

	recs := f.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, 0, recs[0].RetryCount)
	assert.Equal(t, 1, recs[1].RetryCount)
	for _, r := range recs {
		assert.Equal(t, domain.StateFailed, r.FinalState)
		assert.Equal(t, domain.StateDeploying, r.Phase)
	}

	plan, err := e.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.False(t, plan[0].Admitted)
	assert.Equal(t, SkipAttempts, plan[0].Reason)
}

func TestEngine_RollbackFailureBlocksDefinition(t *testing.T) {
	f := newEngineFixture(perfV2())
	f.executor = failingExecutor("perf-v2")
	f.snapshots.restoreErr = errors.New("restore refused")
	e := f.start(t)

	mustTick(t, e)
	require.Eventually(t, idle(e), waitFor, tick)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StateRollbackFailed, recs[0].FinalState)
	assert.Equal(t, []string{"perf-v2"}, e.Status().Blocked)
	assert.Empty(t, mustTick(t, e).Admitted)

	rep, err := e.Report(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Overall.RollbackFailed)
	assert.Equal(t, []string{recs[0].ExecutionID}, rep.RollbackFailures)
}

func TestEngine_ShutdownForceStops(t *testing.T) {
	f := newEngineFixture(perfV2())
	f.executor = gatedExecutor(make(chan struct{}))
	e := f.start(t)

	mustTick(t, e)
	require.Eventually(t, func() bool { return f.executor.CallCount() == 1 }, waitFor, tick)

	err := e.Shutdown(20 * time.Millisecond)
	require.ErrorIs(t, err, domain.ErrShutdownTimeout)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StateForceStopped, recs[0].FinalState)
	assert.Equal(t, domain.StateDeploying, recs[0].Phase)
	assert.Empty(t, f.snapshots.Restored(), "force stop does not roll back")
	assert.Contains(t, f.events.Types(), domain.EventUpgradeForceStopped)
	assert.Zero(t, e.Status().Active)
}

func TestEngine_ShutdownWithinGrace(t *testing.T) {
	f := newEngineFixture(newDef("quick", domain.PriorityMedium))
	e := f.start(t)

	mustTick(t, e)
	require.NoError(t, e.Shutdown(time.Second))

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StateCompleted, recs[0].FinalState)
}

func TestEngine_PanickingExecutorFailsExecution(t *testing.T) {
	f := newEngineFixture(newDef("explosive", domain.PriorityMedium))
	f.executor.fn = func(context.Context, domain.UpgradeDefinition, ports.DeployRequest) (ports.DeployResult, error) {
		panic("kaboom")
	}
	e := f.start(t)

	mustTick(t, e)
	require.Eventually(t, idle(e), waitFor, tick)

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, domain.StateFailed, recs[0].FinalState)
	assert.Equal(t, domain.StateDeploying, recs[0].Phase)
	assert.Contains(t, recs[0].Error, "kaboom")
}

func TestEngine_InitReplaysHistory(t *testing.T) {
	f := newEngineFixture(newDef("done", domain.PriorityHigh), newDef("stuck", domain.PriorityHigh), newDef("fresh", domain.PriorityLow))
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, f.history.Append(ctx, domain.HistoryRecord{DefinitionID: "done", FinalState: domain.StateCompleted, EndedAt: now}))
	require.NoError(t, f.history.Append(ctx, domain.HistoryRecord{DefinitionID: "stuck", FinalState: domain.StateRollbackFailed, EndedAt: now}))
	e := f.start(t)

	st := e.Status()
	assert.Equal(t, []string{"done"}, st.Completed)
	assert.Equal(t, []string{"stuck"}, st.Blocked)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, []domain.EventType{domain.EventSystemInitialized}, f.events.Types())

	assert.Equal(t, []string{"fresh"}, mustTick(t, e).Admitted)
}

func TestEngine_InitFailsWithoutDefinitions(t *testing.T) {
	f := newEngineFixture()
	f.defs.err = errors.New("directory missing")
	e, err := NewEngine(f.cfg, EngineDeps{Definitions: f.defs, Telemetry: f.telemetry, Executor: f.executor})
	require.NoError(t, err)
	assert.Error(t, e.Init(context.Background()))
}

func TestEngine_CheckCapabilitiesRequestsDiscovery(t *testing.T) {
	closer := newDef("cache-v3", domain.PriorityHigh)
	closer.Benefits = []domain.Benefit{{Name: "caching", Min: 10, Max: 20}}
	f := newEngineFixture(closer)
	f.modules.mods = []domain.Module{{ID: "cache-v1", Capabilities: []string{"caching"}, Performance: 0.4}}
	f.cfg.PerformanceThreshold = 0.7
	e := f.start(t)

	require.NoError(t, e.CheckCapabilities(context.Background()))

	gaps := e.Status().Gaps
	require.Len(t, gaps, 1)
	assert.Equal(t, "caching", gaps[0].Capability)
	assert.Equal(t, []string{"cache-v3"}, gaps[0].Upgrades)

	select {
	case <-e.wake:
	default:
		t.Fatal("expected an early discovery request")
	}
	assert.Equal(t, []string{"caching"}, capabilityNames(e.Capabilities()))
}

func drainWake(e *Engine) bool {
	select {
	case <-e.wake:
		return true
	default:
		return false
	}
}

func TestEngine_CheckCapabilitiesOnlyWakesOnChangeOrEligibility(t *testing.T) {
	closer := newDef("cache-v3", domain.PriorityHigh)
	closer.Benefits = []domain.Benefit{{Name: "caching", Min: 10, Max: 20}}
	closer.Requirements = []domain.Requirement{{Type: domain.RequirementMax, Metric: domain.MetricLoad, Value: 0.1}}
	f := newEngineFixture(closer)
	f.modules.mods = []domain.Module{{ID: "cache-v1", Capabilities: []string{"caching"}, Performance: 0.4}}
	f.cfg.PerformanceThreshold = 0.7
	e := f.start(t)
	ctx := context.Background()

	require.NoError(t, e.CheckCapabilities(ctx))
	assert.True(t, drainWake(e), "new closing upgrade")

	for i := 0; i < 3; i++ {
		require.NoError(t, e.CheckCapabilities(ctx))
		assert.False(t, drainWake(e), "closing upgrade is still ineligible")
	}
	assert.Equal(t, []string{"cache-v3"}, e.Status().Gaps[0].Upgrades)

	idleSample := healthy()
	idleSample.Metrics[domain.MetricLoad] = 0.05
	f.telemetry.mu.Lock()
	f.telemetry.fn = func() (domain.Telemetry, error) { return idleSample, nil }
	f.telemetry.mu.Unlock()

	require.NoError(t, e.CheckCapabilities(ctx))
	assert.True(t, drainWake(e), "closing upgrade became eligible")
}

func TestEngine_PerformanceThresholdDoesNotGateEligibility(t *testing.T) {
	f := newEngineFixture(newDef("plain", domain.PriorityMedium))
	f.cfg.PerformanceThreshold = 0.95
	e := f.start(t)

	// healthy() reports a performance score of 0.9.
	assert.Equal(t, []string{"plain"}, mustTick(t, e).Admitted)
}

func TestEngine_TickAfterShutdownAdmitsNothing(t *testing.T) {
	f := newEngineFixture(newDef("late", domain.PriorityHigh))
	e := f.start(t)

	require.NoError(t, e.Shutdown(time.Second))

	assert.Empty(t, mustTick(t, e).Admitted)
	assert.Zero(t, e.Status().Active)
	assert.Zero(t, f.executor.CallCount())
	assert.Empty(t, f.records(t))
}

func capabilityNames(recs []domain.CapabilityRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Name
	}
	return out
}

func TestEngine_DependencyOnInstalledModule(t *testing.T) {
	d := newDef("needs-cache", domain.PriorityMedium)
	d.Requirements = []domain.Requirement{{Type: domain.RequirementDependency, Target: "cache-v1"}}
	f := newEngineFixture(d)
	e := f.start(t)

	assert.Empty(t, mustTick(t, e).Admitted)

	f.modules.mods = []domain.Module{{ID: "cache-v1", Capabilities: []string{"caching"}, Performance: 1}}
	require.NoError(t, e.CheckCapabilities(context.Background()))
	assert.Equal(t, []string{"needs-cache"}, mustTick(t, e).Admitted)
}

func TestEngine_Plan(t *testing.T) {
	blocked := newDef("needs-idle", domain.PriorityCritical)
	blocked.Requirements = []domain.Requirement{{Type: domain.RequirementMax, Metric: domain.MetricLoad, Value: 0.1}}
	f := newEngineFixture(newDef("low", domain.PriorityLow), newDef("high", domain.PriorityHigh), blocked)
	f.cfg.MaxConcurrent = 1
	e := f.start(t)

	plan, err := e.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, plan, 3)

	assert.Equal(t, "high", plan[0].Definition.ID)
	assert.True(t, plan[0].Admitted)
	assert.Equal(t, "low", plan[1].Definition.ID)
	assert.Equal(t, SkipCapacity, plan[1].Reason)
	assert.Equal(t, "needs-idle", plan[2].Definition.ID)
	assert.Equal(t, SkipIneligible, plan[2].Reason)
	assert.False(t, plan[2].Eligibility.Eligible)

	assert.Zero(t, f.executor.CallCount(), "planning starts nothing")
	assert.Zero(t, e.Status().Active)
}

func TestEngine_RunLoop(t *testing.T) {
	f := newEngineFixture(newDef("a", domain.PriorityMedium), newDef("b", domain.PriorityMedium))
	f.cfg.DiscoveryInterval = 5 * time.Millisecond
	f.cfg.TelemetryInterval = 5 * time.Millisecond
	e := f.start(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool { return len(e.Status().Completed) == 2 }, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestEngine_TelemetryFailureSkipsTick(t *testing.T) {
	f := newEngineFixture(newDef("a", domain.PriorityMedium))
	f.telemetry = &fakeTelemetry{fn: func() (domain.Telemetry, error) {
		return domain.Telemetry{}, errors.New("collector down")
	}}
	e := f.start(t)

	_, err := e.Tick(context.Background())
	assert.Error(t, err)
	assert.Zero(t, e.Status().Active)
}

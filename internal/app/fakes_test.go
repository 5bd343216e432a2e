package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// healthy is a telemetry sample that passes testHealth.
func healthy() domain.Telemetry {
	return domain.Telemetry{Metrics: map[string]float64{
		domain.MetricLoad:             0.2,
		domain.MetricMemory:           0.3,
		domain.MetricErrorRate:        0.001,
		domain.MetricPerformanceScore: 0.9,
	}}
}

// unhealthy is a telemetry sample that fails testHealth.
func unhealthy() domain.Telemetry {
	t := healthy()
	t.Metrics[domain.MetricErrorRate] = 0.5
	return t
}

var testHealth = HealthPolicy{MaxErrorRate: 0.05}

// fakeTelemetry returns whatever sample fn produces.
type fakeTelemetry struct {
	mu    sync.Mutex
	fn    func() (domain.Telemetry, error)
	calls int
}

func staticTelemetry(t domain.Telemetry) *fakeTelemetry {
	return &fakeTelemetry{fn: func() (domain.Telemetry, error) { return t, nil }}
}

func (f *fakeTelemetry) Snapshot(ctx context.Context) (domain.Telemetry, error) {
	f.mu.Lock()
	f.calls++
	fn := f.fn
	f.mu.Unlock()
	return fn()
}

func (f *fakeTelemetry) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeExecutor records deploy calls. fn, when set, decides the outcome.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []deployCall
	fn      func(ctx context.Context, def domain.UpgradeDefinition, req ports.DeployRequest) (ports.DeployResult, error)
	running int
	maxSeen int
}

type deployCall struct {
	DefinitionID string
	Percent      int
	Phase        string
}

func (f *fakeExecutor) Deploy(ctx context.Context, def domain.UpgradeDefinition, req ports.DeployRequest) (ports.DeployResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, deployCall{DefinitionID: def.ID, Percent: req.Phase.Percent, Phase: req.Phase.Name})
	f.running++
	if f.running > f.maxSeen {
		f.maxSeen = f.running
	}
	fn := f.fn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	if fn == nil {
		return ports.DeployResult{Success: true}, nil
	}
	return fn(ctx, def, req)
}

func (f *fakeExecutor) Percents(defID string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, c := range f.calls {
		if c.DefinitionID == defID {
			out = append(out, c.Percent)
		}
	}
	return out
}

func (f *fakeExecutor) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeExecutor) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

// failingExecutor reports failure for the listed definitions.
func failingExecutor(ids ...string) *fakeExecutor {
	fail := make(map[string]bool, len(ids))
	for _, id := range ids {
		fail[id] = true
	}
	return &fakeExecutor{fn: func(_ context.Context, def domain.UpgradeDefinition, _ ports.DeployRequest) (ports.DeployResult, error) {
		if fail[def.ID] {
			return ports.DeployResult{Success: false, Details: "simulated failure"}, nil
		}
		return ports.DeployResult{Success: true}, nil
	}}
}

// gatedExecutor blocks every call until the gate is closed or ctx ends.
func gatedExecutor(gate <-chan struct{}) *fakeExecutor {
	return &fakeExecutor{fn: func(ctx context.Context, _ domain.UpgradeDefinition, _ ports.DeployRequest) (ports.DeployResult, error) {
		select {
		case <-gate:
			return ports.DeployResult{Success: true}, nil
		case <-ctx.Done():
			return ports.DeployResult{}, ctx.Err()
		}
	}}
}

// fakeSnapshots is an in-memory SnapshotStore.
type fakeSnapshots struct {
	mu         sync.Mutex
	created    []string
	restored   []string
	createErr  error
	restoreErr error
}

func (f *fakeSnapshots) Create(ctx context.Context, def domain.UpgradeDefinition) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	h := fmt.Sprintf("snap-%s-%d", def.ID, len(f.created)+1)
	f.created = append(f.created, h)
	return h, nil
}

func (f *fakeSnapshots) Restore(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.restoreErr != nil {
		return f.restoreErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.restored = append(f.restored, handle)
	return nil
}

func (f *fakeSnapshots) Restored() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.restored...)
}

func (f *fakeSnapshots) Created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

// fakeChecker implements both TestRunner and Validator.
type fakeChecker struct {
	mu     sync.Mutex
	result ports.CheckResult
	err    error
	calls  int
}

func passing() *fakeChecker { return &fakeChecker{result: ports.CheckResult{Passed: true}} }

func (f *fakeChecker) Run(ctx context.Context, def domain.UpgradeDefinition) (ports.CheckResult, error) {
	return f.check()
}

func (f *fakeChecker) Validate(ctx context.Context, def domain.UpgradeDefinition) (ports.CheckResult, error) {
	return f.check()
}

func (f *fakeChecker) check() (ports.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result, f.err
}

// fakeDefinitions is an in-memory DefinitionStore.
type fakeDefinitions struct {
	mu       sync.Mutex
	defs     []domain.UpgradeDefinition
	loadErrs []ports.LoadError
	err      error
}

func (f *fakeDefinitions) LoadAll(ctx context.Context) ([]domain.UpgradeDefinition, []ports.LoadError, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	return append([]domain.UpgradeDefinition(nil), f.defs...), f.loadErrs, nil
}

// fakeModules is a static ModuleSource.
type fakeModules struct {
	mu   sync.Mutex
	mods []domain.Module
}

func (f *fakeModules) InstalledModules(ctx context.Context) ([]domain.Module, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Module(nil), f.mods...), nil
}

// recordingEvents collects published events.
type recordingEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingEvents) Publish(ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEvents) Types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// recordingMetrics counts transitions by target state.
type recordingMetrics struct {
	noopMetrics
	mu          sync.Mutex
	transitions map[domain.State]int
	finished    []domain.HistoryRecord
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{transitions: make(map[domain.State]int)}
}

func (m *recordingMetrics) StateTransition(to domain.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[to]++
}

func (m *recordingMetrics) ExecutionFinished(rec domain.HistoryRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, rec)
}

func (m *recordingMetrics) Transitions(to domain.State) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions[to]
}

func newDef(id string, prio domain.Priority) domain.UpgradeDefinition {
	return domain.UpgradeDefinition{
		ID:       id,
		Name:     id,
		Kind:     domain.KindPerformance,
		Priority: prio,
		Strategy: domain.StrategyImmediate,
	}
}

var errBoom = errors.New("boom")

// quickRollout is a rollout config with no waiting.
func quickRollout() RolloutConfig {
	return RolloutConfig{
		AutoRollback:          true,
		ProgressiveEnabled:    true,
		StabilityDuration:     0,
		StabilityPollInterval: time.Millisecond,
		ExecutionTimeout:      5 * time.Second,
		RollbackTimeout:       time.Second,
		Health:                testHealth,
	}
}

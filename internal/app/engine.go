package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"golang.org/x/sync/errgroup"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
	"github.com/bft-labs/upshift/pkg/log"
)

// Engine defaults.
const (
	DefaultDiscoveryInterval = 30 * time.Second
	DefaultTelemetryInterval = 10 * time.Second
	DefaultAbandonWait       = 2 * time.Second
)

// EngineConfig holds the engine's scheduling settings.
type EngineConfig struct {
	DiscoveryInterval time.Duration
	TelemetryInterval time.Duration

	MaxConcurrent int
	MaxAttempts   int

	// PerformanceThreshold is the capability level below which a gap is
	// open. Eligibility does not use it.
	PerformanceThreshold float64

	// AbandonWait is how long force-stopped executions get to return.
	AbandonWait time.Duration

	Rollout RolloutConfig
}

// EventPublisher receives engine events synchronously.
type EventPublisher interface {
	Publish(ev domain.Event)
}

// EngineDeps are the engine's collaborators. Definitions, Telemetry and
// Executor are required; the rest have defaults.
type EngineDeps struct {
	Definitions ports.DefinitionStore
	Telemetry   ports.TelemetryProvider
	Modules     ports.ModuleSource
	Snapshots   ports.SnapshotStore
	Executor    ports.DeploymentExecutor
	Tests       ports.TestRunner
	Validator   ports.Validator
	History     ports.HistoryRepository

	Metrics ports.Metrics
	Logger  ports.Logger
	Events  EventPublisher
	Clock   clock.Clock

	// NewID generates execution ids. Defaults to random UUIDs.
	NewID func() string
}

// activeExecution is an admitted execution and its bookkeeping.
type activeExecution struct {
	def  domain.UpgradeDefinition
	exec *domain.Execution
	once sync.Once
}

// Engine owns the catalog, active executions, capability registry and
// history, and runs the discovery and telemetry loops.
type Engine struct {
	cfg       EngineConfig
	deps      EngineDeps
	catalog   *Catalog
	caps      *CapabilityRegistry
	scheduler Scheduler
	rollout   *Rollout

	mu        sync.Mutex
	active    map[string]*activeExecution
	completed set.Strings
	failures  map[string]int
	blocked   set.Strings
	available int
	gaps      []domain.CapabilityGap
	closing   set.Strings
	stopping  bool

	wake chan struct{}
	wg   sync.WaitGroup

	// execCtx outlives the loops so in-flight executions can finish
	// during the shutdown grace period.
	execCtx    context.Context
	execCancel context.CancelCauseFunc
}

// NewEngine creates an engine. It does not load anything until Init.
func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if deps.Definitions == nil {
		return nil, fmt.Errorf("%w: definition store is required", domain.ErrInvalidConfig)
	}
	if cfg.MaxConcurrent <= 0 {
		return nil, fmt.Errorf("%w: max concurrent upgrades must be positive", domain.ErrInvalidConfig)
	}
	if cfg.DiscoveryInterval <= 0 {
		cfg.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if cfg.TelemetryInterval <= 0 {
		cfg.TelemetryInterval = DefaultTelemetryInterval
	}
	if cfg.AbandonWait <= 0 {
		cfg.AbandonWait = DefaultAbandonWait
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
	if deps.History == nil {
		deps.History = NewMemoryHistory()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	rollout, err := NewRollout(cfg.Rollout, RolloutDeps{
		Executor:  deps.Executor,
		Tests:     deps.Tests,
		Validator: deps.Validator,
		Snapshots: deps.Snapshots,
		Telemetry: deps.Telemetry,
		Clock:     deps.Clock,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
	if err != nil {
		return nil, err
	}

	execCtx, execCancel := context.WithCancelCause(context.Background())
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		catalog:    NewCatalog(),
		caps:       NewCapabilityRegistry(),
		scheduler:  Scheduler{MaxConcurrent: cfg.MaxConcurrent, MaxAttempts: cfg.MaxAttempts},
		rollout:    rollout,
		active:     make(map[string]*activeExecution),
		completed:  set.NewStrings(),
		failures:   make(map[string]int),
		blocked:    set.NewStrings(),
		closing:    set.NewStrings(),
		wake:       make(chan struct{}, 1),
		execCtx:    execCtx,
		execCancel: execCancel,
	}, nil
}

// Init replays history into the scheduling bookkeeping, loads the catalog
// and capability registry, and emits system_initialized.
func (e *Engine) Init(ctx context.Context) error {
	records, err := e.deps.History.Since(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	e.mu.Lock()
	for _, rec := range records {
		e.noteOutcome(rec)
	}
	e.mu.Unlock()

	if err := e.refreshCatalog(ctx); err != nil {
		return err
	}
	if err := e.refreshCapabilities(ctx); err != nil {
		e.deps.Logger.Warn("capability scan failed", ports.Err(err))
	}

	e.deps.Logger.Info("engine initialized",
		ports.Int("definitions", e.catalog.Len()),
		ports.Int("history_records", len(records)),
	)
	e.publish(domain.Event{Type: domain.EventSystemInitialized})
	return nil
}

// Run runs the discovery and telemetry loops until ctx is cancelled.
// In-flight executions are not affected by ctx; see Shutdown.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.loop(gctx, "discovery", e.cfg.DiscoveryInterval, e.wake, func(ctx context.Context) error {
			_, err := e.Tick(ctx)
			return err
		})
	})
	g.Go(func() error {
		return e.loop(gctx, "telemetry", e.cfg.TelemetryInterval, nil, e.CheckCapabilities)
	})
	return g.Wait()
}

// loop calls fn immediately and then every interval, or early when wake fires.
// Errors and panics from fn are logged and do not stop the loop.
func (e *Engine) loop(ctx context.Context, name string, interval time.Duration, wake <-chan struct{}, fn func(context.Context) error) error {
	for {
		if err := e.safeCall(ctx, name, fn); err != nil && ctx.Err() == nil {
			e.deps.Logger.Warn(name+" tick failed", ports.Err(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-e.deps.Clock.After(interval):
		case <-wake:
		}
	}
}

func (e *Engine) safeCall(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.deps.Logger.Error(name+" tick panicked",
				ports.Any("panic", r),
				ports.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%s tick panicked: %v", name, r)
		}
	}()
	return fn(ctx)
}

// RequestDiscovery asks for an early discovery tick. It never blocks and
// coalesces with requests that are already pending.
func (e *Engine) RequestDiscovery() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// TickSummary describes one discovery pass.
type TickSummary struct {
	Definitions int
	Eligible    int
	Admitted    []string
}

// Tick performs one discovery pass: refresh the catalog, evaluate every
// definition against fresh telemetry, prioritize, and start what the
// scheduler admits.
func (e *Engine) Tick(ctx context.Context) (TickSummary, error) {
	start := e.deps.Clock.Now()
	defer func() { e.deps.Metrics.TickDuration(e.deps.Clock.Now().Sub(start)) }()

	if err := e.refreshCatalog(ctx); err != nil {
		e.deps.Logger.Warn("catalog refresh failed, keeping previous definitions", ports.Err(err))
	}

	cands, err := e.candidates(ctx)
	if err != nil {
		return TickSummary{}, err
	}

	summary := TickSummary{Definitions: e.catalog.Len(), Eligible: len(cands)}

	e.mu.Lock()
	if e.stopping {
		e.mu.Unlock()
		return summary, nil
	}
	admitted := e.scheduler.Admit(cands, e.admissionState())
	launched := make([]*activeExecution, 0, len(admitted))
	for _, c := range admitted {
		ae := &activeExecution{
			def:  c.Definition,
			exec: domain.NewExecution(e.deps.NewID(), c.Definition.ID, e.failures[c.Definition.ID], e.deps.Clock.Now()),
		}
		e.active[c.Definition.ID] = ae
		launched = append(launched, ae)
		summary.Admitted = append(summary.Admitted, c.Definition.ID)
	}
	e.available = 0
	for _, c := range cands {
		if _, running := e.active[c.Definition.ID]; !running {
			e.available++
		}
	}
	activeCount := len(e.active)
	// Counted under e.mu so Shutdown never waits while an admission is
	// still being added.
	e.wg.Add(len(launched))
	e.mu.Unlock()

	e.deps.Metrics.ActiveExecutions(activeCount)
	for _, ae := range launched {
		e.launch(ae)
	}

	if len(summary.Admitted) > 0 {
		e.deps.Logger.Info("upgrades admitted",
			ports.Any("definitions", summary.Admitted),
			ports.Int("active", activeCount),
		)
	}
	return summary, nil
}

// PlanEntry is a dry-run scheduling verdict.
type PlanEntry struct {
	Definition  domain.UpgradeDefinition
	Eligibility Eligibility
	Admitted    bool
	Reason      SkipReason
}

// Plan evaluates and prioritizes the current catalog and reports what the
// scheduler would do, without starting anything. Ineligible definitions
// are listed last with their eligibility results.
func (e *Engine) Plan(ctx context.Context) ([]PlanEntry, error) {
	if err := e.refreshCatalog(ctx); err != nil {
		return nil, err
	}
	t, err := e.telemetry(ctx)
	if err != nil {
		return nil, err
	}

	var eligible []Candidate
	var rest []PlanEntry
	for _, def := range e.catalog.All() {
		el := Evaluate(def, t)
		if el.Eligible {
			eligible = append(eligible, Candidate{Definition: def, Eligibility: el})
			continue
		}
		rest = append(rest, PlanEntry{Definition: def, Eligibility: el, Reason: SkipIneligible})
	}

	e.mu.Lock()
	decisions := e.scheduler.Decide(Prioritize(eligible), e.admissionState())
	e.mu.Unlock()

	out := make([]PlanEntry, 0, len(decisions)+len(rest))
	for _, d := range decisions {
		out = append(out, PlanEntry{
			Definition:  d.Candidate.Definition,
			Eligibility: d.Candidate.Eligibility,
			Admitted:    d.Admitted,
			Reason:      d.Reason,
		})
	}
	return append(out, rest...), nil
}

// candidates returns the eligible definitions in priority order.
func (e *Engine) candidates(ctx context.Context) ([]Candidate, error) {
	t, err := e.telemetry(ctx)
	if err != nil {
		return nil, err
	}
	var cands []Candidate
	for _, def := range e.catalog.All() {
		if el := Evaluate(def, t); el.Eligible {
			cands = append(cands, Candidate{Definition: def, Eligibility: el})
		}
	}
	return Prioritize(cands), nil
}

// telemetry returns a fresh snapshot with installed modules, provided
// capabilities and completed upgrades marked available.
func (e *Engine) telemetry(ctx context.Context) (domain.Telemetry, error) {
	t, err := e.deps.Telemetry.Snapshot(ctx)
	if err != nil {
		return domain.Telemetry{}, fmt.Errorf("telemetry snapshot: %w", err)
	}
	e.mu.Lock()
	completed := e.completed.SortedValues()
	e.mu.Unlock()
	return t.WithAvailable(append(e.caps.Available(), completed...)...), nil
}

// admissionState must be called with e.mu held.
func (e *Engine) admissionState() AdmissionState {
	active := make([]domain.UpgradeDefinition, 0, len(e.active))
	for _, ae := range e.active {
		active = append(active, ae.def)
	}
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return AdmissionState{
		Active:    active,
		Completed: e.completed,
		Failures:  e.failures,
		Blocked:   e.blocked,
	}
}

func (e *Engine) refreshCatalog(ctx context.Context) error {
	defs, loadErrs, err := e.deps.Definitions.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	for _, le := range loadErrs {
		e.deps.Logger.Warn("skipping malformed definition",
			ports.String("path", le.Path),
			ports.Err(le.Err),
		)
	}
	for _, id := range e.catalog.Replace(defs) {
		e.deps.Logger.Warn("skipping duplicate definition", ports.String("definition_id", id))
	}
	e.deps.Metrics.CatalogSize(e.catalog.Len())
	e.deps.Metrics.DefinitionLoadErrors(len(loadErrs))
	return nil
}

func (e *Engine) refreshCapabilities(ctx context.Context) error {
	if e.deps.Modules == nil {
		return nil
	}
	mods, err := e.deps.Modules.InstalledModules(ctx)
	if err != nil {
		return fmt.Errorf("list installed modules: %w", err)
	}
	e.caps.Rebuild(mods)
	return nil
}

// CheckCapabilities rebuilds the capability registry and records open
// gaps. It requests an early discovery pass when the set of pending
// upgrades that could close a gap changes, or when one of them is
// eligible now.
func (e *Engine) CheckCapabilities(ctx context.Context) error {
	if err := e.refreshCapabilities(ctx); err != nil {
		return err
	}

	defs := e.catalog.All()
	gaps := e.caps.Gaps(e.cfg.PerformanceThreshold)

	e.mu.Lock()
	pending := make([]domain.UpgradeDefinition, 0, len(defs))
	for _, d := range defs {
		if _, running := e.active[d.ID]; !running && !e.completed.Contains(d.ID) && !e.blocked.Contains(d.ID) {
			pending = append(pending, d)
		}
	}
	e.mu.Unlock()

	closing := set.NewStrings()
	for i := range gaps {
		gaps[i].Upgrades = UpgradesClosing(gaps[i], pending)
		for _, id := range gaps[i].Upgrades {
			closing.Add(id)
		}
	}

	e.mu.Lock()
	e.gaps = gaps
	changed := !closing.Difference(e.closing).IsEmpty() || !e.closing.Difference(closing).IsEmpty()
	e.closing = closing
	e.mu.Unlock()

	if closing.IsEmpty() {
		return nil
	}
	if !changed {
		ready, err := e.anyEligible(ctx, pending, closing)
		if err != nil {
			return err
		}
		if !ready {
			return nil
		}
	}

	e.deps.Logger.Info("capability gap can be closed, requesting discovery",
		ports.Int("gaps", len(gaps)),
		ports.Strings("upgrades", closing.SortedValues()),
	)
	e.RequestDiscovery()
	return nil
}

// anyEligible reports whether a definition in defs whose id is in ids
// passes eligibility against fresh telemetry.
func (e *Engine) anyEligible(ctx context.Context, defs []domain.UpgradeDefinition, ids set.Strings) (bool, error) {
	t, err := e.telemetry(ctx)
	if err != nil {
		return false, err
	}
	for _, d := range defs {
		if ids.Contains(d.ID) && Evaluate(d, t).Eligible {
			return true, nil
		}
	}
	return false, nil
}

// launch starts the execution goroutine. The caller has already added it
// to e.wg.
func (e *Engine) launch(ae *activeExecution) {
	e.publish(domain.Event{
		Type:         domain.EventUpgradeStarted,
		ExecutionID:  ae.exec.ID(),
		DefinitionID: ae.def.ID,
		State:        ae.exec.State(),
	})

	go func() {
		defer e.wg.Done()
		defer e.finalize(ae)
		defer e.recoverExecution(ae)
		e.rollout.Execute(e.execCtx, ae.def, ae.exec)
	}()
}

// recoverExecution turns a panic inside a rollout into a failed execution.
func (e *Engine) recoverExecution(ae *activeExecution) {
	r := recover()
	if r == nil {
		return
	}
	err := fmt.Errorf("panic: %v", r)
	e.deps.Logger.Error("execution panicked",
		ports.String("execution_id", ae.exec.ID()),
		ports.String("definition_id", ae.def.ID),
		ports.Any("panic", r),
		ports.String("stack", string(debug.Stack())),
	)

	state := ae.exec.State()
	if _, ferr := ae.exec.Fail(state, err); ferr != nil {
		if state == domain.StateRollingBack {
			ae.exec.SetError(err)
			_, _ = ae.exec.TransitionTo(domain.StateRollbackFailed)
		}
	}
	ae.exec.Finish(e.deps.Clock.Now())
}

// finalize records a finished execution exactly once and frees its slot.
func (e *Engine) finalize(ae *activeExecution) {
	ae.once.Do(func() {
		if !ae.exec.Done() {
			// Abandoned without reaching a final state; record what we have.
			ae.exec.ForceStop(e.deps.Clock.Now())
		}
		snap := ae.exec.Snapshot()
		rec := domain.NewHistoryRecord(ae.def, snap)

		if err := e.deps.History.Append(context.Background(), rec); err != nil {
			e.deps.Logger.Error("failed to record history",
				ports.String("execution_id", rec.ExecutionID),
				ports.Err(err),
			)
		}
		e.deps.Metrics.ExecutionFinished(rec)

		e.publish(domain.Event{
			Type:         domain.TerminalEventType(rec.FinalState),
			ExecutionID:  rec.ExecutionID,
			DefinitionID: rec.DefinitionID,
			State:        rec.FinalState,
			Error:        rec.Error,
		})

		if rec.Succeeded() {
			if err := e.refreshCapabilities(context.Background()); err != nil {
				e.deps.Logger.Warn("capability scan failed", ports.Err(err))
			}
		}

		// The slot is released only once the outcome is recorded.
		e.mu.Lock()
		if cur, ok := e.active[ae.def.ID]; ok && cur == ae {
			delete(e.active, ae.def.ID)
		}
		e.noteOutcome(rec)
		activeCount := len(e.active)
		e.mu.Unlock()
		e.deps.Metrics.ActiveExecutions(activeCount)

		// A slot is free, and dependents may now be admissible.
		e.RequestDiscovery()
	})
}

// noteOutcome updates scheduling bookkeeping. Must be called with e.mu held.
func (e *Engine) noteOutcome(rec domain.HistoryRecord) {
	switch rec.FinalState {
	case domain.StateCompleted:
		e.completed.Add(rec.DefinitionID)
	case domain.StateRollbackFailed:
		e.blocked.Add(rec.DefinitionID)
		e.failures[rec.DefinitionID]++
	case domain.StateFailed, domain.StateRolledBack:
		e.failures[rec.DefinitionID]++
	}
}

// Shutdown waits up to grace for in-flight executions, then force-stops
// the rest and waits briefly for their goroutines. It returns
// domain.ErrShutdownTimeout if any execution was force stopped.
func (e *Engine) Shutdown(grace time.Duration) error {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()

	if e.waitExecutions(grace) {
		e.execCancel(context.Canceled)
		return nil
	}

	e.execCancel(domain.ErrForceStopped)

	e.mu.Lock()
	remaining := make([]*activeExecution, 0, len(e.active))
	for _, ae := range e.active {
		remaining = append(remaining, ae)
	}
	e.mu.Unlock()

	now := e.deps.Clock.Now()
	for _, ae := range remaining {
		if ae.exec.ForceStop(now) {
			e.deps.Metrics.StateTransition(domain.StateForceStopped)
		}
		e.deps.Logger.Warn("execution force stopped",
			ports.String("execution_id", ae.exec.ID()),
			ports.String("definition_id", ae.def.ID),
		)
		e.finalize(ae)
	}

	if !e.waitExecutions(e.cfg.AbandonWait) {
		e.deps.Logger.Warn("abandoning execution goroutines", ports.Duration("waited", e.cfg.AbandonWait))
	}
	return fmt.Errorf("%w: %d executions force stopped", domain.ErrShutdownTimeout, len(remaining))
}

// waitExecutions reports whether all execution goroutines returned within d.
func (e *Engine) waitExecutions(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-e.deps.Clock.After(d):
		return false
	}
}

func (e *Engine) publish(ev domain.Event) {
	if e.deps.Events == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = e.deps.Clock.Now()
	}
	e.deps.Events.Publish(ev)
}

// Status is a point-in-time view of the engine.
type Status struct {
	Total     int                        `json:"total"`
	Active    int                        `json:"active"`
	Available int                        `json:"available"`
	Completed []string                   `json:"completed"`
	Blocked   []string                   `json:"blocked,omitempty"`
	Running   []domain.ExecutionSnapshot `json:"running"`
	Gaps      []domain.CapabilityGap     `json:"gaps,omitempty"`
}

// Status returns counts, active executions and open capability gaps.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	running := make([]domain.ExecutionSnapshot, 0, len(e.active))
	for _, ae := range e.active {
		running = append(running, ae.exec.Snapshot())
	}
	sort.Slice(running, func(i, j int) bool { return running[i].DefinitionID < running[j].DefinitionID })
	gaps := make([]domain.CapabilityGap, len(e.gaps))
	copy(gaps, e.gaps)
	return Status{
		Total:     e.catalog.Len(),
		Active:    len(e.active),
		Available: e.available,
		Completed: e.completed.SortedValues(),
		Blocked:   e.blocked.SortedValues(),
		Running:   running,
		Gaps:      gaps,
	}
}

// Executions returns snapshots of the active executions.
func (e *Engine) Executions() []domain.ExecutionSnapshot {
	return e.Status().Running
}

// Capabilities returns the capability registry contents.
func (e *Engine) Capabilities() []domain.CapabilityRecord {
	return e.caps.All()
}

// Report aggregates history over the trailing window.
func (e *Engine) Report(ctx context.Context, window time.Duration) (Report, error) {
	now := e.deps.Clock.Now()
	since := time.Time{}
	if window > 0 {
		since = now.Add(-window)
	}
	records, err := e.deps.History.Since(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("load history: %w", err)
	}
	return BuildReport(records, window, now), nil
}

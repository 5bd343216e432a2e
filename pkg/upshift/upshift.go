package upshift

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bft-labs/upshift/internal/adapters/fs"
	"github.com/bft-labs/upshift/internal/adapters/runtime"
	s3store "github.com/bft-labs/upshift/internal/adapters/s3"
	"github.com/bft-labs/upshift/internal/adapters/sqlite"
	"github.com/bft-labs/upshift/internal/adapters/webhook"
	"github.com/bft-labs/upshift/internal/app"
	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

// Errors returned by Upshift. They can be checked with errors.Is.
var (
	ErrAlreadyRunning  = domain.ErrAlreadyRunning
	ErrNotRunning      = domain.ErrNotRunning
	ErrShutdownTimeout = domain.ErrShutdownTimeout
	ErrInvalidConfig   = domain.ErrInvalidConfig

	// ErrClosed is returned by Start after Stop or Close released the instance.
	ErrClosed = errors.New("upshift: instance closed")
)

// loopStopTimeout bounds how long Stop waits for the discovery and
// telemetry loops, which return as soon as their context is cancelled.
const loopStopTimeout = 5 * time.Second

// Upshift is an upgrade orchestration engine that can be embedded in
// other applications. Use New() to create an instance, then Start() to
// begin discovery. An instance is not restartable once stopped.
type Upshift struct {
	config    Config
	opts      options
	lifecycle *app.Lifecycle
	engine    *app.Engine
	logger    Logger
	plugins   []Plugin
	closers   []io.Closer

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool

	initMu      sync.Mutex
	initialized bool
	closeOnce   sync.Once
}

// New creates a new Upshift instance with the given configuration.
// The instance is created in StateStopped; call Start() to begin.
// Adapters are built from cfg unless replaced by options.
func New(cfg Config, opts ...Option) (*Upshift, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	emitter := &eventEmitterWrapper{handler: o.eventHandler}
	u := &Upshift{
		config:    cfg,
		opts:      o,
		lifecycle: app.NewLifecycle(o.logger, emitter, o.clock),
		logger:    o.logger,
		plugins:   o.plugins,
	}

	deps, err := u.buildDeps(emitter)
	if err != nil {
		u.closeResources()
		return nil, err
	}

	engine, err := app.NewEngine(cfg.engineConfig(), deps)
	if err != nil {
		u.closeResources()
		return nil, err
	}

	u.engine = engine
	return u, nil
}

// buildDeps resolves every collaborator: the option when given, otherwise
// the adapter selected by the configuration.
func (u *Upshift) buildDeps(events app.EventPublisher) (app.EngineDeps, error) {
	cfg, o := u.config, u.opts

	deps := app.EngineDeps{
		Definitions: o.definitions,
		Telemetry:   o.telemetry,
		Modules:     o.modules,
		Snapshots:   o.snapshots,
		Executor:    o.executor,
		Tests:       o.tests,
		Validator:   o.validator,
		History:     o.history,
		Metrics:     o.metrics,
		Logger:      o.logger,
		Events:      events,
		Clock:       o.clock,
		NewID:       o.newID,
	}

	if deps.Definitions == nil {
		if cfg.DefinitionsDir == "" {
			return deps, fmt.Errorf("%w: definitions dir is required", domain.ErrInvalidConfig)
		}
		deps.Definitions = fs.NewDefinitionStore(cfg.DefinitionsDir)
	}

	var procTelemetry *runtime.Provider
	if deps.Telemetry == nil {
		procTelemetry = runtime.New(runtime.WithClock(o.clock))
		deps.Telemetry = procTelemetry
	}

	if deps.Modules == nil && cfg.ModulesPath != "" {
		deps.Modules = fs.NewModuleSource(cfg.ModulesPath)
	}

	if deps.Snapshots == nil {
		switch {
		case cfg.S3.Bucket != "":
			client, err := s3store.NewClient(context.Background(), s3store.Config{
				Endpoint:  cfg.S3.Endpoint,
				Region:    cfg.S3.Region,
				Bucket:    cfg.S3.Bucket,
				Prefix:    cfg.S3.Prefix,
				AccessKey: cfg.S3.AccessKey,
				SecretKey: cfg.S3.SecretKey,
			})
			if err != nil {
				return deps, fmt.Errorf("s3 snapshot store: %w", err)
			}
			deps.Snapshots = s3store.NewSnapshotStore(client, cfg.S3.Bucket, cfg.S3.Prefix, cfg.ModulesPath)
		case cfg.SnapshotDir != "":
			deps.Snapshots = fs.NewSnapshotStore(cfg.SnapshotDir, cfg.ModulesPath)
		}
	}

	if cfg.WebhookURL != "" {
		clientOpts := []webhook.Option{webhook.WithLogger(o.logger), webhook.WithClock(o.clock)}
		if o.httpClient != nil {
			clientOpts = append(clientOpts, webhook.WithHTTPClient(o.httpClient))
		}
		if procTelemetry != nil {
			clientOpts = append(clientOpts, webhook.WithObserver(procTelemetry.ObserveRequest))
		}
		client := webhook.New(cfg.WebhookURL, cfg.WebhookAuthKey, clientOpts...)
		if deps.Executor == nil {
			deps.Executor = webhook.NewRegistry(client)
		}
		if deps.Tests == nil {
			deps.Tests = client
		}
		if deps.Validator == nil && cfg.WebhookValidate {
			deps.Validator = client
		}
	}

	if deps.History == nil && cfg.HistoryPath != "" {
		repo, err := sqlite.Open(cfg.HistoryPath)
		if err != nil {
			return deps, fmt.Errorf("history: %w", err)
		}
		deps.History = repo
		u.closers = append(u.closers, repo)
	}

	return deps, nil
}

// Start loads history and definitions and begins discovery in the background.
// Returns immediately after starting the engine loops.
// The provided context is used for the lifetime of the loops.
func (u *Upshift) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.closed {
		return ErrClosed
	}
	if !u.lifecycle.CanStart() {
		return domain.ErrAlreadyRunning
	}
	if err := u.lifecycle.TransitionTo(app.RunStarting, "Start() called"); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	u.cancel = cancel
	u.lifecycle.SetCancel(cancel)

	pluginCfg := PluginConfig{
		DefinitionsDir:   u.config.DefinitionsDir,
		ModulesPath:      u.config.ModulesPath,
		Logger:           u.logger,
		RequestDiscovery: u.engine.RequestDiscovery,
	}
	for i, p := range u.plugins {
		if err := p.Initialize(runCtx, pluginCfg); err != nil {
			u.logger.Error("plugin initialization failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
			cancel()
			u.shutdownPlugins(u.plugins[:i])
			_ = u.lifecycle.TransitionTo(app.RunCrashed, "plugin init failed: "+p.Name())
			return fmt.Errorf("plugin %s: %w", p.Name(), err)
		}
		u.logger.Info("plugin initialized", ports.String("plugin", p.Name()))
	}

	if err := u.init(runCtx); err != nil {
		cancel()
		u.shutdownPlugins(u.plugins)
		_ = u.lifecycle.TransitionTo(app.RunCrashed, "engine init failed")
		return err
	}

	u.lifecycle.AddWorker()
	go func() {
		defer u.lifecycle.WorkerDone()

		if err := u.lifecycle.TransitionTo(app.RunRunning, "engine loops starting"); err != nil {
			u.logger.Error("failed to transition to running", ports.Err(err))
			return
		}

		if err := u.engine.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			u.logger.Error("engine error", ports.Err(err))
			_ = u.lifecycle.TransitionTo(app.RunCrashed, err.Error())
		}
	}()

	return nil
}

// init replays history and loads the catalog once per instance.
func (u *Upshift) init(ctx context.Context) error {
	u.initMu.Lock()
	defer u.initMu.Unlock()
	if u.initialized {
		return nil
	}
	if err := u.engine.Init(ctx); err != nil {
		return err
	}
	u.initialized = true
	return nil
}

// Stop stops discovery, waits up to ShutdownGrace for in-flight upgrades,
// force-stops the rest and shuts plugins down in reverse order.
// Returns nil on graceful shutdown, an error wrapping ErrShutdownTimeout
// if upgrades had to be force stopped.
func (u *Upshift) Stop() error {
	u.mu.Lock()

	if !u.lifecycle.CanStop() {
		u.mu.Unlock()
		return domain.ErrNotRunning
	}
	if err := u.lifecycle.TransitionTo(app.RunStopping, "Stop() called"); err != nil {
		u.mu.Unlock()
		return err
	}
	if u.cancel != nil {
		u.cancel()
	}
	u.closed = true
	u.mu.Unlock()

	loopErr := u.lifecycle.WaitWithTimeout(loopStopTimeout)
	shutdownErr := u.engine.Shutdown(u.config.ShutdownGrace)

	u.shutdownPlugins(u.plugins)
	u.closeResources()

	if loopErr != nil {
		_ = u.lifecycle.TransitionTo(app.RunCrashed, "shutdown timeout")
	} else {
		_ = u.lifecycle.TransitionTo(app.RunStopped, "graceful shutdown")
	}
	return errors.Join(loopErr, shutdownErr)
}

// Close releases the history database of an instance that was never
// started, for one-shot uses such as Plan and Report.
func (u *Upshift) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.lifecycle.CanStop() {
		return domain.ErrAlreadyRunning
	}
	u.closed = true
	return u.closeResources()
}

func (u *Upshift) shutdownPlugins(plugins []Plugin) {
	ctx := context.Background()
	for i := len(plugins) - 1; i >= 0; i-- {
		p := plugins[i]
		if err := p.Shutdown(ctx); err != nil {
			u.logger.Error("plugin shutdown failed",
				ports.String("plugin", p.Name()),
				ports.Err(err))
		} else {
			u.logger.Info("plugin shutdown complete", ports.String("plugin", p.Name()))
		}
	}
}

func (u *Upshift) closeResources() error {
	var errs []error
	u.closeOnce.Do(func() {
		for _, c := range u.closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// Status is a point-in-time view of the instance.
type Status struct {
	State       State        `json:"state"`
	StateSince  time.Time    `json:"state_since"`
	StateReason string       `json:"state_reason,omitempty"`
	Engine      EngineStatus `json:"engine"`
	Config      Config       `json:"config"`
}

// Status returns the run state, engine counters, active executions,
// open capability gaps and the configuration in effect.
// Safe to call concurrently from any goroutine.
func (u *Upshift) Status() Status {
	run := u.lifecycle.Info()
	return Status{
		State:       State(run.State),
		StateSince:  run.Since,
		StateReason: run.Reason,
		Engine:      u.engine.Status(),
		Config:      u.config,
	}
}

// State returns the current run state.
func (u *Upshift) State() State {
	return State(u.lifecycle.State())
}

// Report aggregates execution history over the trailing window.
// A non-positive window covers all history.
func (u *Upshift) Report(ctx context.Context, window time.Duration) (Report, error) {
	return u.engine.Report(ctx, window)
}

// Capabilities returns the capability registry.
func (u *Upshift) Capabilities() []CapabilityRecord {
	return u.engine.Capabilities()
}

// Executions returns the in-flight executions.
func (u *Upshift) Executions() []ExecutionSnapshot {
	return u.engine.Executions()
}

// Plan reports what the next discovery pass would admit without starting
// anything. It loads history first if the instance was never started.
func (u *Upshift) Plan(ctx context.Context) ([]PlanEntry, error) {
	if err := u.init(ctx); err != nil {
		return nil, err
	}
	return u.engine.Plan(ctx)
}

// RequestDiscovery asks for an early discovery pass. It never blocks.
func (u *Upshift) RequestDiscovery() {
	u.engine.RequestDiscovery()
}

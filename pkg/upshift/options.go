package upshift

import (
	"github.com/juju/clock"

	"github.com/bft-labs/upshift/internal/app"
	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
	"github.com/bft-labs/upshift/pkg/log"
)

// Re-exported types so embedders can implement the extension points
// without importing internal packages.
type (
	Logger   = log.Logger
	LogField = log.Field

	HTTPClient = ports.HTTPClient

	DefinitionStore    = ports.DefinitionStore
	LoadError          = ports.LoadError
	TelemetryProvider  = ports.TelemetryProvider
	ModuleSource       = ports.ModuleSource
	SnapshotStore      = ports.SnapshotStore
	DeploymentExecutor = ports.DeploymentExecutor
	DeployRequest      = ports.DeployRequest
	DeployResult       = ports.DeployResult
	PhaseInfo          = ports.PhaseInfo
	TestRunner         = ports.TestRunner
	Validator          = ports.Validator
	CheckResult        = ports.CheckResult
	HistoryRepository  = ports.HistoryRepository
	Metrics            = ports.Metrics

	UpgradeDefinition = domain.UpgradeDefinition
	Telemetry         = domain.Telemetry
	Module            = domain.Module
	HistoryRecord     = domain.HistoryRecord
	ExecutionSnapshot = domain.ExecutionSnapshot
	CapabilityRecord  = domain.CapabilityRecord
	CapabilityGap     = domain.CapabilityGap

	EngineStatus = app.Status
	Report       = app.Report
	PlanEntry    = app.PlanEntry
)

// Option configures optional behavior of Upshift.
type Option func(*options)

// options holds the collaborators that override the configured adapters.
type options struct {
	logger       Logger
	eventHandler EventHandler
	plugins      []Plugin
	clock        clock.Clock
	httpClient   HTTPClient
	newID        func() string

	definitions DefinitionStore
	telemetry   TelemetryProvider
	modules     ModuleSource
	snapshots   SnapshotStore
	executor    DeploymentExecutor
	tests       TestRunner
	validator   Validator
	history     HistoryRepository
	metrics     Metrics
}

func defaultOptions() options {
	return options{
		logger: log.NewNoopLogger(),
		clock:  clock.WallClock,
	}
}

// WithLogger sets a custom logger for structured logging.
// If not provided, a no-op logger is used (no output).
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for run state changes and upgrade events.
// If not provided, no events are emitted.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when Upshift starts.
// Plugins are initialized in registration order and shut down in reverse order.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithHTTPClient sets the client used for the deployment webhook.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithIDGenerator replaces the random execution id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		o.newID = fn
	}
}

// WithDefinitionStore replaces the directory definition store.
func WithDefinitionStore(store DefinitionStore) Option {
	return func(o *options) {
		o.definitions = store
	}
}

// WithTelemetry replaces the process telemetry provider.
func WithTelemetry(provider TelemetryProvider) Option {
	return func(o *options) {
		o.telemetry = provider
	}
}

// WithModuleSource replaces the manifest module source.
func WithModuleSource(source ModuleSource) Option {
	return func(o *options) {
		o.modules = source
	}
}

// WithSnapshotStore replaces the configured snapshot store.
func WithSnapshotStore(store SnapshotStore) Option {
	return func(o *options) {
		o.snapshots = store
	}
}

// WithExecutor replaces the webhook deployment executor.
func WithExecutor(exec DeploymentExecutor) Option {
	return func(o *options) {
		o.executor = exec
	}
}

// WithTestRunner replaces the webhook test runner.
func WithTestRunner(runner TestRunner) Option {
	return func(o *options) {
		o.tests = runner
	}
}

// WithValidator replaces the post-deployment validator.
func WithValidator(v Validator) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithHistory replaces the configured history repository.
func WithHistory(repo HistoryRepository) Option {
	return func(o *options) {
		o.history = repo
	}
}

// WithMetrics records engine measurements, typically into Prometheus.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

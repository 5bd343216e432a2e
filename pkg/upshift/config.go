package upshift

import (
	"fmt"
	"time"

	"github.com/bft-labs/upshift/internal/app"
	"github.com/bft-labs/upshift/internal/domain"
)

// Default configuration values.
const (
	DefaultDiscoveryInterval     = app.DefaultDiscoveryInterval
	DefaultTelemetryInterval     = app.DefaultTelemetryInterval
	DefaultMaxConcurrent         = 3
	DefaultMaxAttempts           = 3
	DefaultPerformanceThreshold  = 0.8
	DefaultStabilityDuration     = 5 * time.Minute
	DefaultStabilityPollInterval = 15 * time.Second
	DefaultCanaryObservation     = 30 * time.Second
	DefaultExecutionTimeout      = 30 * time.Minute
	DefaultRollbackTimeout       = 5 * time.Minute
	DefaultShutdownGrace         = app.DefaultShutdownGrace
	DefaultMaxErrorRate          = 0.05
)

// Config holds the engine configuration. It is read once by New.
type Config struct {
	// DefinitionsDir holds one upgrade definition per file.
	DefinitionsDir string `json:"definitions_dir"`

	// ModulesPath is the installed-modules manifest. It is both the
	// dependency source and the state captured by snapshots.
	ModulesPath string `json:"modules_path,omitempty"`

	// SnapshotDir stores local snapshots when no bucket is configured.
	SnapshotDir string `json:"snapshot_dir,omitempty"`

	// HistoryPath is the SQLite history database. Empty keeps history in memory.
	HistoryPath string `json:"history_path,omitempty"`

	DiscoveryInterval time.Duration `json:"discovery_interval"`
	TelemetryInterval time.Duration `json:"telemetry_interval"`

	MaxConcurrent int `json:"max_concurrent"`
	// MaxAttempts bounds retries of failed definitions. Zero means unlimited.
	MaxAttempts int `json:"max_attempts"`

	// PerformanceThreshold is the capability performance below which a gap
	// is reported. It does not gate eligibility.
	PerformanceThreshold float64 `json:"performance_threshold"`

	StabilityDuration     time.Duration `json:"stability_duration"`
	StabilityPollInterval time.Duration `json:"stability_poll_interval"`
	CanaryObservation     time.Duration `json:"canary_observation"`
	ExecutionTimeout      time.Duration `json:"execution_timeout"`
	RollbackTimeout       time.Duration `json:"rollback_timeout"`
	ShutdownGrace         time.Duration `json:"shutdown_grace"`

	AutoRollback       bool `json:"auto_rollback"`
	ProgressiveEnabled bool `json:"progressive_enabled"`

	// Health limits applied to canary checks, phase checks, validation
	// and the stability window. Zero disables a limit.
	MaxErrorRate   float64 `json:"max_error_rate"`
	MinPerformance float64 `json:"min_performance,omitempty"`
	MaxLoad        float64 `json:"max_load,omitempty"`

	// WebhookURL is the deployment service. Deployments, tests and
	// validation are posted to it unless overridden by options.
	WebhookURL     string `json:"webhook_url,omitempty"`
	WebhookAuthKey string `json:"-"`
	// WebhookValidate posts validation to the webhook instead of checking
	// fresh telemetry against the health limits.
	WebhookValidate bool `json:"webhook_validate,omitempty"`

	S3 S3Config `json:"s3"`
}

// S3Config selects the bucket snapshot store. It is used when Bucket is set.
type S3Config struct {
	Endpoint  string `json:"endpoint,omitempty"`
	Region    string `json:"region,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	AccessKey string `json:"-"`
	SecretKey string `json:"-"`
}

// DefaultConfig returns a Config with defaults. Unlike SetDefaults it also
// sets the fields whose zero value is meaningful.
func DefaultConfig() Config {
	cfg := Config{
		AutoRollback:       true,
		ProgressiveEnabled: true,
		StabilityDuration:  DefaultStabilityDuration,
		CanaryObservation:  DefaultCanaryObservation,
		MaxAttempts:        DefaultMaxAttempts,
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero-valued fields where zero is not a valid setting.
// Boolean switches, the stability window, canary observation and max
// attempts are left alone.
func (c *Config) SetDefaults() {
	if c.DiscoveryInterval == 0 {
		c.DiscoveryInterval = DefaultDiscoveryInterval
	}
	if c.TelemetryInterval == 0 {
		c.TelemetryInterval = DefaultTelemetryInterval
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PerformanceThreshold == 0 {
		c.PerformanceThreshold = DefaultPerformanceThreshold
	}
	if c.StabilityPollInterval == 0 {
		c.StabilityPollInterval = DefaultStabilityPollInterval
	}
	if c.ExecutionTimeout == 0 {
		c.ExecutionTimeout = DefaultExecutionTimeout
	}
	if c.RollbackTimeout == 0 {
		c.RollbackTimeout = DefaultRollbackTimeout
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	if c.MaxErrorRate == 0 {
		c.MaxErrorRate = DefaultMaxErrorRate
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.DiscoveryInterval < 0:
		return fmt.Errorf("%w: discovery interval must not be negative", domain.ErrInvalidConfig)
	case c.TelemetryInterval < 0:
		return fmt.Errorf("%w: telemetry interval must not be negative", domain.ErrInvalidConfig)
	case c.MaxConcurrent < 1:
		return fmt.Errorf("%w: max concurrent upgrades must be at least 1", domain.ErrInvalidConfig)
	case c.MaxAttempts < 0:
		return fmt.Errorf("%w: max attempts must not be negative", domain.ErrInvalidConfig)
	case !(c.PerformanceThreshold >= 0 && c.PerformanceThreshold <= 1):
		return fmt.Errorf("%w: performance threshold must be within [0, 1]", domain.ErrInvalidConfig)
	case c.StabilityDuration < 0:
		return fmt.Errorf("%w: stability duration must not be negative", domain.ErrInvalidConfig)
	case c.StabilityPollInterval < 0, c.CanaryObservation < 0:
		return fmt.Errorf("%w: poll and observation intervals must not be negative", domain.ErrInvalidConfig)
	case c.ExecutionTimeout < 0, c.RollbackTimeout < 0, c.ShutdownGrace < 0:
		return fmt.Errorf("%w: timeouts must not be negative", domain.ErrInvalidConfig)
	case !(c.MaxErrorRate >= 0 && c.MaxErrorRate <= 1):
		return fmt.Errorf("%w: max error rate must be within [0, 1]", domain.ErrInvalidConfig)
	case c.SnapshotDir != "" && c.ModulesPath == "":
		return fmt.Errorf("%w: snapshot dir requires a modules manifest path", domain.ErrInvalidConfig)
	case c.S3.Bucket != "" && c.ModulesPath == "":
		return fmt.Errorf("%w: s3 snapshots require a modules manifest path", domain.ErrInvalidConfig)
	}
	return nil
}

func (c Config) engineConfig() app.EngineConfig {
	return app.EngineConfig{
		DiscoveryInterval:    c.DiscoveryInterval,
		TelemetryInterval:    c.TelemetryInterval,
		MaxConcurrent:        c.MaxConcurrent,
		MaxAttempts:          c.MaxAttempts,
		PerformanceThreshold: c.PerformanceThreshold,
		Rollout: app.RolloutConfig{
			AutoRollback:          c.AutoRollback,
			ProgressiveEnabled:    c.ProgressiveEnabled,
			CanaryObservation:     c.CanaryObservation,
			StabilityDuration:     c.StabilityDuration,
			StabilityPollInterval: c.StabilityPollInterval,
			ExecutionTimeout:      c.ExecutionTimeout,
			RollbackTimeout:       c.RollbackTimeout,
			Health: app.HealthPolicy{
				MaxErrorRate:   c.MaxErrorRate,
				MinPerformance: c.MinPerformance,
				MaxLoad:        c.MaxLoad,
			},
		},
	}
}

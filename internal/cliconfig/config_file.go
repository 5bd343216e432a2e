package cliconfig

import (
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Home           string `toml:"home"`
	DefinitionsDir string `toml:"definitions_dir"`
	ModulesPath    string `toml:"modules_path"`
	SnapshotDir    string `toml:"snapshot_dir"`
	HistoryPath    string `toml:"history_path"`
	ListenAddr     string `toml:"listen_addr"`
	LogLevel       string `toml:"log_level"`
	Watch          *bool  `toml:"watch"`

	DiscoveryInterval     string `toml:"discovery_interval"`
	TelemetryInterval     string `toml:"telemetry_interval"`
	StabilityDuration     string `toml:"stability_duration"`
	StabilityPollInterval string `toml:"stability_poll_interval"`
	CanaryObservation     string `toml:"canary_observation"`
	ExecutionTimeout      string `toml:"execution_timeout"`
	RollbackTimeout       string `toml:"rollback_timeout"`
	ShutdownGrace         string `toml:"shutdown_grace"`

	MaxConcurrent int  `toml:"max_concurrent"`
	MaxAttempts   *int `toml:"max_attempts"`

	PerformanceThreshold float64 `toml:"performance_threshold"`
	MaxErrorRate         float64 `toml:"max_error_rate"`
	MinPerformance       float64 `toml:"min_performance"`
	MaxLoad              float64 `toml:"max_load"`

	AutoRollback       *bool `toml:"auto_rollback"`
	ProgressiveEnabled *bool `toml:"progressive_enabled"`

	Webhook WebhookFileConfig `toml:"webhook"`
	S3      S3FileConfig      `toml:"s3"`
}

// WebhookFileConfig is the [webhook] table.
type WebhookFileConfig struct {
	URL      string `toml:"url"`
	AuthKey  string `toml:"auth_key"`
	Validate *bool  `toml:"validate"`
}

// S3FileConfig is the [s3] table.
type S3FileConfig struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.upshift/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if home := DefaultHome(); home != "" {
		return filepath.Join(home, "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("home", fc.Home, &cfg.Home)
	s.setString("definitions-dir", fc.DefinitionsDir, &cfg.DefinitionsDir)
	s.setString("modules", fc.ModulesPath, &cfg.ModulesPath)
	s.setString("snapshot-dir", fc.SnapshotDir, &cfg.SnapshotDir)
	s.setString("history", fc.HistoryPath, &cfg.HistoryPath)
	s.setString("listen", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setBool("watch", fc.Watch, &cfg.Watch)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"discovery-interval", fc.DiscoveryInterval, &cfg.DiscoveryInterval},
		{"telemetry-interval", fc.TelemetryInterval, &cfg.TelemetryInterval},
		{"stability-duration", fc.StabilityDuration, &cfg.StabilityDuration},
		{"stability-poll", fc.StabilityPollInterval, &cfg.StabilityPollInterval},
		{"canary-observation", fc.CanaryObservation, &cfg.CanaryObservation},
		{"execution-timeout", fc.ExecutionTimeout, &cfg.ExecutionTimeout},
		{"rollback-timeout", fc.RollbackTimeout, &cfg.RollbackTimeout},
		{"shutdown-grace", fc.ShutdownGrace, &cfg.ShutdownGrace},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	s.setInt("max-concurrent", fc.MaxConcurrent, &cfg.MaxConcurrent)
	if err := s.setCount("max-attempts", fc.MaxAttempts, &cfg.MaxAttempts); err != nil {
		return err
	}

	s.setFloat("performance-threshold", fc.PerformanceThreshold, &cfg.PerformanceThreshold)
	s.setFloat("max-error-rate", fc.MaxErrorRate, &cfg.MaxErrorRate)
	s.setFloat("min-performance", fc.MinPerformance, &cfg.MinPerformance)
	s.setFloat("max-load", fc.MaxLoad, &cfg.MaxLoad)

	s.setBool("auto-rollback", fc.AutoRollback, &cfg.AutoRollback)
	s.setBool("progressive", fc.ProgressiveEnabled, &cfg.ProgressiveEnabled)

	s.setString("webhook-url", fc.Webhook.URL, &cfg.WebhookURL)
	s.setString("auth-key", fc.Webhook.AuthKey, &cfg.AuthKey)
	s.setBool("webhook-validate", fc.Webhook.Validate, &cfg.WebhookValidate)

	s.setString("s3-endpoint", fc.S3.Endpoint, &cfg.S3Endpoint)
	s.setString("s3-region", fc.S3.Region, &cfg.S3Region)
	s.setString("s3-bucket", fc.S3.Bucket, &cfg.S3Bucket)
	s.setString("s3-prefix", fc.S3.Prefix, &cfg.S3Prefix)
	s.setString("s3-access-key", fc.S3.AccessKey, &cfg.S3AccessKey)
	s.setString("s3-secret-key", fc.S3.SecretKey, &cfg.S3SecretKey)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

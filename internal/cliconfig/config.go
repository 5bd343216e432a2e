package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/upshift/pkg/upshift"
)

// DefaultListenAddr is where the status server listens unless disabled.
const DefaultListenAddr = "127.0.0.1:9464"

// Config holds CLI configuration for upshift.
type Config struct {
	Home string

	DefinitionsDir string
	ModulesPath    string
	SnapshotDir    string
	HistoryPath    string

	ListenAddr string
	LogLevel   string
	Watch      bool

	DiscoveryInterval     time.Duration
	TelemetryInterval     time.Duration
	StabilityDuration     time.Duration
	StabilityPollInterval time.Duration
	CanaryObservation     time.Duration
	ExecutionTimeout      time.Duration
	RollbackTimeout       time.Duration
	ShutdownGrace         time.Duration

	MaxConcurrent int
	MaxAttempts   int

	PerformanceThreshold float64
	MaxErrorRate         float64
	MinPerformance       float64
	MaxLoad              float64

	AutoRollback       bool
	ProgressiveEnabled bool

	WebhookURL      string
	AuthKey         string
	WebhookValidate bool

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	lib := upshift.DefaultConfig()
	return Config{
		LogLevel:              "info",
		ListenAddr:            DefaultListenAddr,
		Watch:                 true,
		DiscoveryInterval:     lib.DiscoveryInterval,
		TelemetryInterval:     lib.TelemetryInterval,
		StabilityDuration:     lib.StabilityDuration,
		StabilityPollInterval: lib.StabilityPollInterval,
		CanaryObservation:     lib.CanaryObservation,
		ExecutionTimeout:      lib.ExecutionTimeout,
		RollbackTimeout:       lib.RollbackTimeout,
		ShutdownGrace:         lib.ShutdownGrace,
		MaxConcurrent:         lib.MaxConcurrent,
		MaxAttempts:           lib.MaxAttempts,
		PerformanceThreshold:  lib.PerformanceThreshold,
		MaxErrorRate:          lib.MaxErrorRate,
		AutoRollback:          lib.AutoRollback,
		ProgressiveEnabled:    lib.ProgressiveEnabled,
		AuthKey:               os.Getenv("UPSHIFT_AUTH_KEY"),
		S3Prefix:              "snapshots",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
// Paths left empty are derived from Home, which defaults to ~/.upshift.
func (c *Config) Validate() error {
	if c.Home == "" {
		c.Home = DefaultHome()
	}
	if c.DefinitionsDir == "" {
		if c.Home == "" {
			return fmt.Errorf("definitions-dir is required (or home)")
		}
		c.DefinitionsDir = filepath.Join(c.Home, "definitions")
	}
	if c.Home != "" {
		if c.ModulesPath == "" {
			c.ModulesPath = filepath.Join(c.Home, "modules.toml")
		}
		if c.SnapshotDir == "" && c.S3Bucket == "" {
			c.SnapshotDir = filepath.Join(c.Home, "snapshots")
		}
		if c.HistoryPath == "" {
			c.HistoryPath = filepath.Join(c.Home, "history.db")
		}
	}

	// Ensure no trailing slash
	if n := len(c.WebhookURL); n > 0 && c.WebhookURL[n-1] == '/' {
		c.WebhookURL = c.WebhookURL[:n-1]
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	return c.ToUpshift().Validate()
}

// ToUpshift converts the CLI configuration to the library configuration.
func (c Config) ToUpshift() upshift.Config {
	return upshift.Config{
		DefinitionsDir:        c.DefinitionsDir,
		ModulesPath:           c.ModulesPath,
		SnapshotDir:           c.SnapshotDir,
		HistoryPath:           c.HistoryPath,
		DiscoveryInterval:     c.DiscoveryInterval,
		TelemetryInterval:     c.TelemetryInterval,
		MaxConcurrent:         c.MaxConcurrent,
		MaxAttempts:           c.MaxAttempts,
		PerformanceThreshold:  c.PerformanceThreshold,
		StabilityDuration:     c.StabilityDuration,
		StabilityPollInterval: c.StabilityPollInterval,
		CanaryObservation:     c.CanaryObservation,
		ExecutionTimeout:      c.ExecutionTimeout,
		RollbackTimeout:       c.RollbackTimeout,
		ShutdownGrace:         c.ShutdownGrace,
		AutoRollback:          c.AutoRollback,
		ProgressiveEnabled:    c.ProgressiveEnabled,
		MaxErrorRate:          c.MaxErrorRate,
		MinPerformance:        c.MinPerformance,
		MaxLoad:               c.MaxLoad,
		WebhookURL:            c.WebhookURL,
		WebhookAuthKey:        c.AuthKey,
		WebhookValidate:       c.WebhookValidate,
		S3: upshift.S3Config{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		},
	}
}

// Masked returns a copy safe for logging.
func (c Config) Masked() Config {
	if c.AuthKey != "" {
		c.AuthKey = "*****"
	}
	if c.S3SecretKey != "" {
		c.S3SecretKey = "*****"
	}
	return c
}

// DefaultHome returns ~/.upshift, or "" if the home directory is unknown.
func DefaultHome() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".upshift")
	}
	return ""
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setCount sets an int from a pointer, so zero can be configured.
func (s *configSetter) setCount(flag string, value *int, dst *int) error {
	if value == nil || s.changed[flag] {
		return nil
	}
	if *value < 0 {
		return fmt.Errorf("%s must not be negative", flag)
	}
	*dst = *value
	return nil
}

// setFloat sets a float64 value if positive and flag not changed.
func (s *configSetter) setFloat(flag string, value float64, dst *float64) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Zero is accepted. Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i < 0 {
		return fmt.Errorf("%s must not be negative", flag)
	}
	*dst = i
	return nil
}

// setFloatFromString parses a string to float64 and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setFloatFromString(flag, value string, dst *float64) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if f <= 0 {
		return nil
	}
	*dst = f
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}

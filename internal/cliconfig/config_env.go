package cliconfig

import "os"

// envPrefix prefixes every environment variable upshift reads.
const envPrefix = "UPSHIFT_"

// ApplyEnvConfig applies UPSHIFT_* environment variables to cfg.
// Variables override the config file but not explicitly set flags.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)
	env := func(name string) string { return os.Getenv(envPrefix + name) }

	s.setString("home", env("HOME"), &cfg.Home)
	s.setString("definitions-dir", env("DEFINITIONS_DIR"), &cfg.DefinitionsDir)
	s.setString("modules", env("MODULES_PATH"), &cfg.ModulesPath)
	s.setString("snapshot-dir", env("SNAPSHOT_DIR"), &cfg.SnapshotDir)
	s.setString("history", env("HISTORY_PATH"), &cfg.HistoryPath)
	s.setString("listen", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setBoolFromString("watch", env("WATCH"), &cfg.Watch)

	if err := s.setDuration("discovery-interval", env("DISCOVERY_INTERVAL"), &cfg.DiscoveryInterval); err != nil {
		return err
	}
	if err := s.setDuration("telemetry-interval", env("TELEMETRY_INTERVAL"), &cfg.TelemetryInterval); err != nil {
		return err
	}
	if err := s.setDuration("stability-duration", env("STABILITY_DURATION"), &cfg.StabilityDuration); err != nil {
		return err
	}
	if err := s.setDuration("execution-timeout", env("EXECUTION_TIMEOUT"), &cfg.ExecutionTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-grace", env("SHUTDOWN_GRACE"), &cfg.ShutdownGrace); err != nil {
		return err
	}

	if err := s.setIntFromString("max-concurrent", env("MAX_CONCURRENT"), &cfg.MaxConcurrent); err != nil {
		return err
	}
	if err := s.setIntFromString("max-attempts", env("MAX_ATTEMPTS"), &cfg.MaxAttempts); err != nil {
		return err
	}
	if err := s.setFloatFromString("performance-threshold", env("PERFORMANCE_THRESHOLD"), &cfg.PerformanceThreshold); err != nil {
		return err
	}
	if err := s.setFloatFromString("max-error-rate", env("MAX_ERROR_RATE"), &cfg.MaxErrorRate); err != nil {
		return err
	}

	s.setBoolFromString("auto-rollback", env("AUTO_ROLLBACK"), &cfg.AutoRollback)
	s.setBoolFromString("progressive", env("PROGRESSIVE_ENABLED"), &cfg.ProgressiveEnabled)

	s.setString("webhook-url", env("WEBHOOK_URL"), &cfg.WebhookURL)
	s.setString("auth-key", env("AUTH_KEY"), &cfg.AuthKey)

	s.setString("s3-endpoint", env("S3_ENDPOINT"), &cfg.S3Endpoint)
	s.setString("s3-region", env("S3_REGION"), &cfg.S3Region)
	s.setString("s3-bucket", env("S3_BUCKET"), &cfg.S3Bucket)
	s.setString("s3-access-key", env("S3_ACCESS_KEY"), &cfg.S3AccessKey)
	s.setString("s3-secret-key", env("S3_SECRET_KEY"), &cfg.S3SecretKey)

	return nil
}

// Package upshift provides an upgrade orchestration engine that rolls out
// telemetry-qualified upgrades with snapshots, health checks and rollback.
//
// Example usage:
//
//	cfg := upshift.DefaultConfig()
//	cfg.DefinitionsDir = "/etc/upshift/definitions"
//	cfg.ModulesPath = "/var/lib/upshift/modules.toml"
//	cfg.WebhookURL = "http://deployer.internal"
//	if err := upshift.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
//
// For lifecycle control, events and plugins use pkg/upshift directly.
package upshift

import (
	"context"

	"github.com/bft-labs/upshift/pkg/upshift"
)

// Config holds the engine configuration.
// Use DefaultConfig() to get a Config with sensible defaults.
type Config = upshift.Config

// Option customizes the engine created by Run.
type Option = upshift.Option

// Run starts the engine with the given configuration.
// It blocks until the context is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, opts ...Option) error {
	u, err := upshift.New(cfg, opts...)
	if err != nil {
		return err
	}
	if err := u.Start(ctx); err != nil {
		_ = u.Close()
		return err
	}
	<-ctx.Done()
	return u.Stop()
}

// DefaultConfig returns a Config with sensible default values.
// At minimum, set DefinitionsDir and either WebhookURL or an executor option.
func DefaultConfig() Config {
	return upshift.DefaultConfig()
}

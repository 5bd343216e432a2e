// Package upshift provides an embeddable upgrade orchestration engine.
//
// Upshift discovers upgrade definitions, checks them against live
// telemetry, admits the most valuable ones under a concurrency limit, and
// drives each through backup, testing, deployment, validation and a
// stability window, rolling back automatically when a step fails. It can
// be used as a standalone CLI application or embedded as a library.
//
// # Basic Usage
//
//	cfg := upshift.DefaultConfig()
//	cfg.DefinitionsDir = "/etc/upshift/definitions"
//	cfg.ModulesPath = "/var/lib/upshift/modules.toml"
//	cfg.SnapshotDir = "/var/lib/upshift/snapshots"
//	cfg.WebhookURL = "https://deploy.internal"
//
//	u, err := upshift.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := u.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// ... run until shutdown signal ...
//
//	if err := u.Stop(); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//
// # Configuration
//
// Start from [DefaultConfig]; [Config.SetDefaults] only fills fields whose
// zero value is not a valid setting. Collaborators are built from the
// configuration: definitions from DefinitionsDir, installed modules from
// ModulesPath, snapshots in SnapshotDir or an S3 bucket, history in a
// SQLite database at HistoryPath, deployments through WebhookURL and
// telemetry from the current process.
//
// # Dependency Injection
//
// Every collaborator can be replaced with an option:
//
//	u, err := upshift.New(cfg,
//	    upshift.WithExecutor(myExecutor),
//	    upshift.WithTelemetry(myTelemetry),
//	    upshift.WithLogger(myLogger),
//	)
//
// # Event Handling
//
// Implement [EventHandler] (embed [BaseEventHandler] for no-op defaults)
// and pass it via [WithEventHandler] to receive run state changes and
// upgrade events. Handlers are called synchronously and should return
// quickly.
//
// # Lifecycle States
//
// An instance is in one of [StateStopped], [StateStarting], [StateRunning],
// [StateStopping] or [StateCrashed]. Stop waits up to ShutdownGrace for
// in-flight upgrades and force-stops the rest; a stopped instance cannot
// be started again.
//
// # Plugins
//
//	import "github.com/bft-labs/upshift/plugins/definitionwatcher"
//
//	u, err := upshift.New(cfg, definitionwatcher.WithDefaultDefinitionWatcher())
package upshift

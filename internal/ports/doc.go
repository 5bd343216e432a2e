// Package ports lists what the engine needs from the system it upgrades.
//
// Each interface is one collaborator of the rollout pipeline:
//
//   - [DefinitionStore] supplies the catalog
//   - [TelemetryProvider] and [ModuleSource] describe the live system
//   - [SnapshotStore] captures state before deployment and restores it on rollback
//   - [DeploymentExecutor], [TestRunner] and [Validator] act on an upgrade
//   - [HistoryRepository] keeps finished executions across restarts
//   - [Metrics] and [Logger] observe the engine
//
// internal/app depends on nothing else; internal/adapters provides
// file, SQLite, S3, webhook and runtime implementations.
package ports

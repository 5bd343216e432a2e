package upshift

import "context"

// Plugin extends an Upshift instance with optional functionality.
// Plugins are initialized by Start in registration order and shut down
// by Stop in reverse order.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize starts the plugin. ctx is cancelled when the instance stops.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown releases the plugin's resources.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin gets to work with.
type PluginConfig struct {
	DefinitionsDir string
	ModulesPath    string
	Logger         Logger

	// RequestDiscovery asks the engine for an early discovery pass.
	// It never blocks.
	RequestDiscovery func()
}

package definitionwatcher

import "github.com/bft-labs/upshift/pkg/upshift"

// WithDefinitionWatcher returns an upshift Option that requests a discovery
// pass whenever definition files change.
//
// Usage:
//
//	u, err := upshift.New(cfg,
//	    definitionwatcher.WithDefinitionWatcher(definitionwatcher.Config{
//	        DebounceDelay: 500 * time.Millisecond,
//	    }),
//	)
func WithDefinitionWatcher(cfg Config) upshift.Option {
	return upshift.WithPlugin(New(cfg))
}

// WithDefaultDefinitionWatcher returns an upshift Option that enables the
// watcher with default settings (debounce 200ms, manifest watched).
func WithDefaultDefinitionWatcher() upshift.Option {
	return WithDefinitionWatcher(DefaultConfig())
}

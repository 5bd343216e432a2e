// Package definitionwatcher triggers early discovery when upgrade
// definitions or the installed-modules manifest change on disk.
package definitionwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/upshift/internal/adapters/fs"
	"github.com/bft-labs/upshift/pkg/log"
	"github.com/bft-labs/upshift/pkg/upshift"
)

// Plugin watches the definitions directory and requests a discovery pass
// after a burst of changes settles.
type Plugin struct {
	mu sync.Mutex

	debounceDelay time.Duration
	watchManifest bool

	definitionsDir   string
	manifestPath     string
	logger           upshift.Logger
	requestDiscovery func()
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	debounce         *time.Timer
}

// Config holds configuration options for the definition watcher plugin.
type Config struct {
	// DebounceDelay is how long to wait after the last change before
	// requesting discovery.
	// Default: 200 milliseconds
	DebounceDelay time.Duration

	// WatchManifest also watches the installed-modules manifest.
	WatchManifest bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DebounceDelay: 200 * time.Millisecond,
		WatchManifest: true,
	}
}

// New creates a new definition watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		watchManifest: cfg.WatchManifest,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "definitionwatcher"
}

// Initialize starts watching.
func (p *Plugin) Initialize(ctx context.Context, cfg upshift.PluginConfig) error {
	p.mu.Lock()
	p.definitionsDir = cfg.DefinitionsDir
	if p.watchManifest {
		p.manifestPath = cfg.ModulesPath
	}
	p.logger = cfg.Logger
	if p.logger == nil {
		p.logger = log.NewNoopLogger()
	}
	p.requestDiscovery = cfg.RequestDiscovery
	p.mu.Unlock()

	if p.definitionsDir == "" || p.requestDiscovery == nil {
		p.logger.Warn("Definition watcher disabled: no definitions directory configured")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(p.definitionsDir); err != nil {
		watcher.Close()
		return err
	}
	if p.manifestPath != "" {
		if err := watcher.Add(filepath.Dir(p.manifestPath)); err != nil {
			p.logger.Warn("Definition watcher: cannot watch modules manifest",
				log.String("path", p.manifestPath), log.Err(err))
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("Definition watcher plugin initialized", log.String("dir", p.definitionsDir))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !p.relevant(event) {
				continue
			}
			p.debounceRequest(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("Definition watcher: watcher error", log.Err(err))
		}
	}
}

// relevant reports whether event touches a definition file or the manifest.
func (p *Plugin) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if p.manifestPath != "" && filepath.Clean(event.Name) == filepath.Clean(p.manifestPath) {
		return true
	}
	if filepath.Clean(filepath.Dir(event.Name)) != filepath.Clean(p.definitionsDir) {
		return false
	}
	return fs.IsDefinitionFile(filepath.Base(event.Name))
}

func (p *Plugin) debounceRequest(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.logger.Debug("Definition watcher: change detected, requesting discovery")
		p.requestDiscovery()
	})
}

// Ensure Plugin implements upshift.Plugin.
var _ upshift.Plugin = (*Plugin)(nil)

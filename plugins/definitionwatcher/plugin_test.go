package definitionwatcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/upshift/pkg/log"
	"github.com/bft-labs/upshift/pkg/upshift"
)

func startPlugin(t *testing.T, cfg Config, pluginCfg upshift.PluginConfig) (*Plugin, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	pluginCfg.Logger = log.NewNoopLogger()
	pluginCfg.RequestDiscovery = func() { calls.Add(1) }

	p := New(cfg)
	require.NoError(t, p.Initialize(context.Background(), pluginCfg))
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return p, &calls
}

func TestPlugin_RequestsDiscoveryOnDefinitionChange(t *testing.T) {
	dir := t.TempDir()
	_, calls := startPlugin(t, Config{DebounceDelay: 10 * time.Millisecond}, upshift.PluginConfig{DefinitionsDir: dir})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "cache-v2.toml"), []byte(`kind = "performance"`), 0o600))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlugin_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	_, calls := startPlugin(t, Config{DebounceDelay: 100 * time.Millisecond}, upshift.PluginConfig{DefinitionsDir: dir})

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "cache-v2.toml"), []byte(`kind = "performance"`), 0o600))
	}

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPlugin_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	_, calls := startPlugin(t, Config{DebounceDelay: 10 * time.Millisecond}, upshift.PluginConfig{DefinitionsDir: dir})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0o600))

	assert.Never(t, func() bool { return calls.Load() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
}

func TestPlugin_WatchesManifest(t *testing.T) {
	defs := t.TempDir()
	state := t.TempDir()
	manifest := filepath.Join(state, "modules.toml")
	_, calls := startPlugin(t, Config{DebounceDelay: 10 * time.Millisecond, WatchManifest: true},
		upshift.PluginConfig{DefinitionsDir: defs, ModulesPath: manifest})

	require.NoError(t, os.WriteFile(manifest, []byte("[[modules]]\nid = \"cache-v1\"\n"), 0o600))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlugin_DisabledWithoutDirectory(t *testing.T) {
	p := New(DefaultConfig())
	err := p.Initialize(context.Background(), upshift.PluginConfig{Logger: log.NewNoopLogger()})
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestPlugin_MissingDirectory(t *testing.T) {
	p := New(DefaultConfig())
	err := p.Initialize(context.Background(), upshift.PluginConfig{
		DefinitionsDir:   filepath.Join(t.TempDir(), "missing"),
		Logger:           log.NewNoopLogger(),
		RequestDiscovery: func() {},
	})
	assert.Error(t, err)
}

func TestPlugin_Relevant(t *testing.T) {
	p := &Plugin{definitionsDir: "/defs", manifestPath: "/state/modules.toml"}

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"toml write", fsnotify.Event{Name: "/defs/a.toml", Op: fsnotify.Write}, true},
		{"yaml create", fsnotify.Event{Name: "/defs/a.yaml", Op: fsnotify.Create}, true},
		{"yml remove", fsnotify.Event{Name: "/defs/a.yml", Op: fsnotify.Remove}, true},
		{"chmod only", fsnotify.Event{Name: "/defs/a.toml", Op: fsnotify.Chmod}, false},
		{"other extension", fsnotify.Event{Name: "/defs/a.json", Op: fsnotify.Write}, false},
		{"manifest", fsnotify.Event{Name: "/state/modules.toml", Op: fsnotify.Write}, true},
		{"manifest sibling", fsnotify.Event{Name: "/state/other.toml", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.relevant(tt.event))
		})
	}
}

func TestWithDefinitionWatcher(t *testing.T) {
	assert.NotNil(t, WithDefaultDefinitionWatcher())
	assert.Equal(t, "definitionwatcher", New(Config{}).Name())
}

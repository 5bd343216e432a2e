package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/upshift/internal/cliconfig"
)

const quietDefinition = `
name = "Cache v2"
kind = "performance"
priority = "high"

[[benefits]]
name = "caching"
min = 10.0
max = 20.0
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep the developer's own config and environment out of the run.
	t.Setenv("HOME", t.TempDir())
	t.Setenv("UPSHIFT_AUTH_KEY", "")

	c := &cli{cfg: cliconfig.DefaultConfig(), log: zerolog.Nop()}
	root := newRootCommand(c)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeDefinition(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
}

func TestValidateCommand(t *testing.T) {
	home := t.TempDir()
	defs := filepath.Join(home, "definitions")
	writeDefinition(t, defs, "cache-v2.toml", quietDefinition)

	out, err := execute(t, "validate", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "(cache-v2)")

	writeDefinition(t, defs, "broken.toml", `kind = "teleport"`)
	out, err = execute(t, "validate", "--home", home)
	require.Error(t, err)
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, err.Error(), "1 of 2")
}

func TestValidateCommand_ExplicitFiles(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeDefinition(t, first, "cache-v2.toml", quietDefinition)
	writeDefinition(t, second, "cache-v2.yaml", "kind: performance\n")

	out, err := execute(t, "validate", "--home", t.TempDir(),
		filepath.Join(first, "cache-v2.toml"), filepath.Join(second, "cache-v2.yaml"))
	require.Error(t, err)
	assert.Contains(t, out, "duplicate id")
}

func TestPlanCommand(t *testing.T) {
	home := t.TempDir()
	writeDefinition(t, filepath.Join(home, "definitions"), "cache-v2.toml", quietDefinition)

	out, err := execute(t, "plan", "--home", home)
	require.NoError(t, err)
	assert.Contains(t, out, "DECISION")
	assert.Contains(t, out, "cache-v2")
	assert.Contains(t, out, "start")
}

func TestReportCommand(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "definitions"), 0o755))

	out, err := execute(t, "report", "--home", home, "--window", "0")
	require.NoError(t, err)

	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	overall := report["overall"].(map[string]any)
	assert.EqualValues(t, 0, overall["total"])
}

func TestRunCommand_RequiresWebhook(t *testing.T) {
	_, err := execute(t, "run", "--home", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webhook-url")
}

func TestLoadConfig_RejectsBadLogLevel(t *testing.T) {
	_, err := execute(t, "plan", "--home", t.TempDir(), "--log-level", "loud")
	assert.Error(t, err)
}

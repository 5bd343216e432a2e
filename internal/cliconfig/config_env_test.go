package cliconfig

import (
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"UPSHIFT_DEFINITIONS_DIR":    "/env/defs",
				"UPSHIFT_DISCOVERY_INTERVAL": "10m",
				"UPSHIFT_MAX_CONCURRENT":     "6",
				"UPSHIFT_MAX_ATTEMPTS":       "0",
				"UPSHIFT_MAX_ERROR_RATE":     "0.02",
				"UPSHIFT_AUTO_ROLLBACK":      "false",
				"UPSHIFT_WEBHOOK_URL":        "http://deploy.env",
			},
			changed: map[string]bool{},
			initial: Config{AutoRollback: true, MaxAttempts: 3},
			expected: Config{
				DefinitionsDir:    "/env/defs",
				DiscoveryInterval: 10 * time.Minute,
				MaxConcurrent:     6,
				MaxAttempts:       0,
				MaxErrorRate:      0.02,
				AutoRollback:      false,
				WebhookURL:        "http://deploy.env",
			},
			wantErr: false,
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"UPSHIFT_DEFINITIONS_DIR": "/env/defs",
				"UPSHIFT_LOG_LEVEL":       "debug",
			},
			changed: map[string]bool{"definitions-dir": true},
			initial: Config{
				DefinitionsDir: "/flag/defs",
			},
			expected: Config{
				DefinitionsDir: "/flag/defs",
				LogLevel:       "debug",
			},
			wantErr: false,
		},
		{
			name: "returns error for invalid duration",
			envVars: map[string]string{
				"UPSHIFT_SHUTDOWN_GRACE": "not-a-duration",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "returns error for invalid int",
			envVars: map[string]string{
				"UPSHIFT_MAX_CONCURRENT": "lots",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "returns error for negative attempts",
			envVars: map[string]string{
				"UPSHIFT_MAX_ATTEMPTS": "-1",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyEnvConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyEnvConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

// Integration test: precedence order (CLI > Env > File)
func TestConfigPrecedence(t *testing.T) {
	fileConf := FileConfig{
		DefinitionsDir: "/file/defs",
		ModulesPath:    "/file/modules.toml",
		MaxConcurrent:  2,
	}

	t.Setenv("UPSHIFT_DEFINITIONS_DIR", "/env/defs")
	t.Setenv("UPSHIFT_MODULES_PATH", "/env/modules.toml")

	changed := map[string]bool{
		"definitions-dir": true,
	}

	cfg := Config{
		DefinitionsDir: "/cli/defs",
	}

	if err := ApplyFileConfig(&cfg, fileConf, changed); err != nil {
		t.Fatalf("ApplyFileConfig failed: %v", err)
	}
	if err := ApplyEnvConfig(&cfg, changed); err != nil {
		t.Fatalf("ApplyEnvConfig failed: %v", err)
	}

	if cfg.DefinitionsDir != "/cli/defs" {
		t.Errorf("DefinitionsDir = %v, want /cli/defs (CLI should win)", cfg.DefinitionsDir)
	}
	if cfg.ModulesPath != "/env/modules.toml" {
		t.Errorf("ModulesPath = %v, want /env/modules.toml (env should override file)", cfg.ModulesPath)
	}
	if cfg.MaxConcurrent != 2 {
		t.Errorf("MaxConcurrent = %v, want 2 (file should set)", cfg.MaxConcurrent)
	}
}

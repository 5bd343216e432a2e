package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true
	falseVal := false
	zero := 0

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				DefinitionsDir:       "/etc/upshift/definitions",
				DiscoveryInterval:    "1m",
				MaxConcurrent:        5,
				PerformanceThreshold: 0.7,
				AutoRollback:         &falseVal,
				Webhook:              WebhookFileConfig{URL: "http://deploy.local", AuthKey: "key", Validate: &trueVal},
			},
			changed: map[string]bool{},
			initial: Config{AutoRollback: true},
			expected: Config{
				DefinitionsDir:       "/etc/upshift/definitions",
				DiscoveryInterval:    time.Minute,
				MaxConcurrent:        5,
				PerformanceThreshold: 0.7,
				AutoRollback:         false,
				WebhookURL:           "http://deploy.local",
				AuthKey:              "key",
				WebhookValidate:      true,
			},
			wantErr: false,
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				DefinitionsDir: "/file/defs",
				MaxConcurrent:  7,
			},
			changed: map[string]bool{"definitions-dir": true},
			initial: Config{
				DefinitionsDir: "/flag/defs",
				MaxConcurrent:  3,
			},
			expected: Config{
				DefinitionsDir: "/flag/defs", // unchanged because flag was set
				MaxConcurrent:  7,
			},
			wantErr: false,
		},
		{
			name: "max attempts can be set to zero",
			fileConfig: FileConfig{
				MaxAttempts: &zero,
			},
			changed:  map[string]bool{},
			initial:  Config{MaxAttempts: 3},
			expected: Config{MaxAttempts: 0},
			wantErr:  false,
		},
		{
			name: "returns error for invalid duration",
			fileConfig: FileConfig{
				StabilityDuration: "a while",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "handles s3 table",
			fileConfig: FileConfig{
				S3: S3FileConfig{
					Endpoint:  "http://minio:9000",
					Region:    "us-east-1",
					Bucket:    "upgrades",
					Prefix:    "prod",
					AccessKey: "ak",
					SecretKey: "sk",
				},
			},
			changed: map[string]bool{},
			expected: Config{
				S3Endpoint:  "http://minio:9000",
				S3Region:    "us-east-1",
				S3Bucket:    "upgrades",
				S3Prefix:    "prod",
				S3AccessKey: "ak",
				S3SecretKey: "sk",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyFileConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyFileConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
definitions_dir = "/etc/upshift/definitions"
discovery_interval = "45s"
max_concurrent = 4
max_attempts = 0
auto_rollback = false

[webhook]
url = "http://deploy.local"

[s3]
bucket = "upgrades"
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.DefinitionsDir != "/etc/upshift/definitions" {
		t.Errorf("DefinitionsDir = %v", fc.DefinitionsDir)
	}
	if fc.DiscoveryInterval != "45s" {
		t.Errorf("DiscoveryInterval = %v, want 45s", fc.DiscoveryInterval)
	}
	if fc.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %v, want 4", fc.MaxConcurrent)
	}
	if fc.MaxAttempts == nil || *fc.MaxAttempts != 0 {
		t.Errorf("MaxAttempts = %v, want explicit 0", fc.MaxAttempts)
	}
	if fc.AutoRollback == nil || *fc.AutoRollback {
		t.Errorf("AutoRollback = %v, want explicit false", fc.AutoRollback)
	}
	if fc.Webhook.URL != "http://deploy.local" {
		t.Errorf("Webhook.URL = %v", fc.Webhook.URL)
	}
	if fc.S3.Bucket != "upgrades" {
		t.Errorf("S3.Bucket = %v", fc.S3.Bucket)
	}
}

func TestLoadFileConfig_Errors(t *testing.T) {
	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadFileConfig() expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "broken.toml")
	if err := os.WriteFile(path, []byte("max_concurrent = \"many"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(path); err == nil {
		t.Error("LoadFileConfig() expected error for malformed file")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()
	if path == "" {
		t.Skip("home directory not available")
	}
	if !strings.HasSuffix(path, filepath.Join(".upshift", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %v", path)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "present")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists() = false for existing file")
	}
	if FileExists(filepath.Join(dir, "absent")) {
		t.Error("FileExists() = true for missing file")
	}
}

package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/relaymesh/relaymesh/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.API.Addr != "127.0.0.1:7890" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, "127.0.0.1:7890")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Discovery.Scheme != "relaymesh" {
		t.Errorf("Discovery.Scheme = %q, want %q", cfg.Discovery.Scheme, "relaymesh")
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
api:
  addr: "127.0.0.1:9000"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
data:
  dir: "/tmp/relaymesh-test"
discovery:
  scheme: "relaymesh-dev"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != "127.0.0.1:9000" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, "127.0.0.1:9000")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Data.Dir != "/tmp/relaymesh-test" {
		t.Errorf("Data.Dir = %q, want %q", cfg.Data.Dir, "/tmp/relaymesh-test")
	}

	if cfg.Discovery.Scheme != "relaymesh-dev" {
		t.Errorf("Discovery.Scheme = %q, want %q", cfg.Discovery.Scheme, "relaymesh-dev")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override api.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
api:
  addr: "127.0.0.1:5555"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.API.Addr != "127.0.0.1:5555" {
		t.Errorf("API.Addr = %q, want %q", cfg.API.Addr, "127.0.0.1:5555")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Discovery.Scheme != "relaymesh" {
		t.Errorf("Discovery.Scheme = %q, want default %q", cfg.Discovery.Scheme, "relaymesh")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty api addr",
			modify: func(cfg *config.Config) {
				cfg.API.Addr = ""
			},
			wantErr: config.ErrEmptyAPIAddr,
		},
		{
			name: "empty metrics addr with metrics enabled",
			modify: func(cfg *config.Config) {
				cfg.Metrics.Addr = ""
			},
			wantErr: config.ErrEmptyMetricsAddr,
		},
		{
			name: "empty discovery scheme",
			modify: func(cfg *config.Config) {
				cfg.Discovery.Scheme = ""
			},
			wantErr: config.ErrEmptyScheme,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSkipsDisabledSections(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Metrics.Path = ""
	cfg.Metrics.Addr = ""
	cfg.Discovery.Disabled = true
	cfg.Discovery.Scheme = ""

	if err := config.Validate(cfg); err != nil {
		t.Errorf("Validate() with disabled metrics/discovery = %v, want nil", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadEmptyPathUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("RELAYMESH_LOG_LEVEL", "debug")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}

	if cfg.API.Addr != "127.0.0.1:7890" {
		t.Errorf("API.Addr = %q, want default %q", cfg.API.Addr, "127.0.0.1:7890")
	}
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	return path
}

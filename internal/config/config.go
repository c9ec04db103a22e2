// Package config manages the relaymesh daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables. This is the
// static, operator-facing daemon configuration (listen addresses, data
// directory, logging) — distinct from the mutable per-node identity state
// owned by package identity.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete relaymesh daemon configuration.
type Config struct {
	API       APIConfig       `koanf:"api"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
	Data      DataConfig      `koanf:"data"`
	Discovery DiscoveryConfig `koanf:"discovery"`
}

// APIConfig holds the local REST/WebSocket API listener configuration.
type APIConfig struct {
	// Addr is the HTTP listen address for the local API (e.g., "127.0.0.1:7890").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// DataConfig holds on-disk state locations.
type DataConfig struct {
	// Dir is the root directory for identity files, the SQLite database,
	// and the blob store.
	Dir string `koanf:"dir"`
}

// DiscoveryConfig holds the mDNS/DNS-SD advertisement configuration.
type DiscoveryConfig struct {
	// Scheme names the service type, advertised as "_<scheme>._tcp".
	Scheme string `koanf:"scheme"`
	// Disabled turns off LAN discovery entirely (manual peering only).
	Disabled bool `koanf:"disabled"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Addr: "127.0.0.1:7890",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Data: DataConfig{
			Dir: "",
		},
		Discovery: DiscoveryConfig{
			Scheme:   "relaymesh",
			Disabled: false,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for relaymesh configuration.
// Variables are named RELAYMESH_<section>_<key>, e.g., RELAYMESH_API_ADDR.
const envPrefix = "RELAYMESH_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (RELAYMESH_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips the
// file layer entirely (env + defaults only).
//
// Environment variable mapping:
//
//	RELAYMESH_API_ADDR       -> api.addr
//	RELAYMESH_METRICS_ADDR   -> metrics.addr
//	RELAYMESH_METRICS_PATH   -> metrics.path
//	RELAYMESH_LOG_LEVEL      -> log.level
//	RELAYMESH_LOG_FORMAT     -> log.format
//	RELAYMESH_DATA_DIR       -> data.dir
//	RELAYMESH_DISCOVERY_SCHEME -> discovery.scheme
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms RELAYMESH_API_ADDR -> api.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"api.addr":            defaults.API.Addr,
		"metrics.addr":        defaults.Metrics.Addr,
		"metrics.path":        defaults.Metrics.Path,
		"log.level":           defaults.Log.Level,
		"log.format":          defaults.Log.Format,
		"data.dir":            defaults.Data.Dir,
		"discovery.scheme":    defaults.Discovery.Scheme,
		"discovery.disabled":  defaults.Discovery.Disabled,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAPIAddr indicates the local API listen address is empty.
	ErrEmptyAPIAddr = errors.New("api.addr must not be empty")

	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrEmptyScheme indicates the discovery scheme is empty.
	ErrEmptyScheme = errors.New("discovery.scheme must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.API.Addr == "" {
		return ErrEmptyAPIAddr
	}

	if !cfg.Metrics.Disabled() && cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if !cfg.Discovery.Disabled && cfg.Discovery.Scheme == "" {
		return ErrEmptyScheme
	}

	return nil
}

// Disabled reports whether the metrics endpoint has been turned off by
// configuring an empty path. Addr is still required unless the whole
// section is unused; this mirrors the rest of the config's "empty means
// off" convention for optional sub-systems.
func (m MetricsConfig) Disabled() bool {
	return m.Path == ""
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

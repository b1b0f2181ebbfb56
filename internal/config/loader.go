// Package config loads pkg/config.Config from a file, auto-detecting the
// format by extension, then layers environment overrides on top — the
// teacher's extension-sniffing LoadFromFile/LoadFromYAML/LoadFromJSON/
// LoadFromTOML + ApplyDefaults/Validate pattern, extended with a fixed
// environment prefix for operator overrides in containerized deployments.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/goran-ethernal/subgraphd/pkg/config"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the fixed environment variable prefix for configuration
// overrides (spec.md §6: "overrides via a fixed environment prefix").
const EnvPrefix = "SUBGRAPHD_"

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return LoadFromYAML(path)
	case ".json":
		return LoadFromJSON(path)
	case ".toml":
		return LoadFromTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	var cfg pkgconfig.Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return processConfig(&cfg)
}

// applyEnvOverrides overrides a handful of operationally hot fields from
// SUBGRAPHD_-prefixed environment variables, applied before defaults so a
// zero-value override still triggers ApplyDefaults.
func applyEnvOverrides(cfg *pkgconfig.Config) error {
	if v, ok := os.LookupEnv(EnvPrefix + "CHAIN"); ok {
		cfg.Chain = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BACKEND_URI"); ok {
		cfg.Backend.URI = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "BACKEND_KEYSPACE"); ok {
		cfg.Backend.Keyspace = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "REORG_THRESHOLD"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREORG_THRESHOLD: %w", EnvPrefix, err)
		}
		cfg.ReorgThreshold = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.DefaultLevel = v
	}
	return nil
}

// processConfig layers environment overrides, applies defaults, and validates.
func processConfig(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

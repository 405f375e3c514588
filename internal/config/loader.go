package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads a RuntimeConfig from the YAML/TOML/JSON file at path, applying
// ACTORFLOW_-prefixed environment variable overrides on top, then filling
// in any field still at its zero value with the built-in defaults.
func Load(path string) (*RuntimeConfig, error) {
	v := viper.New()

	dir := filepath.Dir(path)
	filename := filepath.Base(path)
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)

	v.SetConfigName(name)
	v.SetConfigType(strings.TrimPrefix(ext, "."))
	v.AddConfigPath(dir)

	v.SetEnvPrefix("ACTORFLOW")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultRuntimeConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills zero-valued fields after an Unmarshal, since viper
// leaves fields the file/env didn't set at the Go zero value rather than
// at the struct literal default passed into Unmarshal's target.
func applyDefaults(cfg *RuntimeConfig) {
	d := DefaultRuntimeConfig()
	if cfg.Logger == nil {
		cfg.Logger = d.Logger
	}
	if cfg.DefaultPortCapacity <= 0 {
		cfg.DefaultPortCapacity = d.DefaultPortCapacity
	}
	if cfg.MetricsWindowSize <= 0 {
		cfg.MetricsWindowSize = d.MetricsWindowSize
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = d.ShutdownGrace
	}
}

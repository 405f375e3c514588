// Package config handles global configuration loading using viper.
package config

import (
	"time"

	"firestige.xyz/actorflow/internal/log"
)

// RuntimeConfig is the top-level static configuration for an actorflow
// process: the ambient logger plus the defaults new Actors, Ports and
// WorkflowManagers fall back to when a call site does not override them.
type RuntimeConfig struct {
	Logger *log.LoggerConfig `mapstructure:"logger"`

	// DefaultPortCapacity is the buffer size new ports get when Port
	// creation does not specify one explicitly.
	DefaultPortCapacity int `mapstructure:"default_port_capacity"`

	// MetricsWindowSize bounds how many recent processing durations an
	// ActorMetrics keeps for its average/min/max calculations.
	MetricsWindowSize int `mapstructure:"metrics_window_size"`

	// ShutdownGrace bounds how long WorkflowManager.Stop waits for its
	// connections and actors to join before logging a warning.
	// It is observability only: stop always waits for the join to
	// actually finish, per the shutdown ordering invariant.
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// DefaultRuntimeConfig returns the configuration used when no file or env
// overrides are present.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Logger:              log.DefaultConfig(),
		DefaultPortCapacity: 64,
		MetricsWindowSize:   1000,
		ShutdownGrace:       10 * time.Second,
	}
}

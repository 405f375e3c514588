package config

import (
	"firestige.xyz/actorflow/actor"
	"firestige.xyz/actorflow/internal/log"
	"firestige.xyz/actorflow/port"
	"firestige.xyz/actorflow/workflow"
)

// Apply installs cfg as the process-wide configuration: it initializes the
// logger and sets the package-level defaults that new Ports, Actors and
// Managers fall back to. Call it once at startup, before constructing any
// of those. Like log.Init, the logger initialization only takes effect on
// its first call; the numeric defaults can be changed again by a later
// Apply call.
func Apply(cfg *RuntimeConfig) {
	if cfg == nil {
		return
	}
	if cfg.Logger != nil {
		log.Init(cfg.Logger)
	}
	port.SetDefaultCapacity(cfg.DefaultPortCapacity)
	actor.SetDefaultMetricsWindowSize(cfg.MetricsWindowSize)
	workflow.SetDefaultShutdownGrace(cfg.ShutdownGrace)
}

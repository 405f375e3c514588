package config

import (
	"testing"
	"time"

	"firestige.xyz/actorflow/actor"
	"firestige.xyz/actorflow/port"
)

func TestApplyWiresPackageDefaults(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.DefaultPortCapacity = 7
	cfg.MetricsWindowSize = 42
	cfg.ShutdownGrace = 3 * time.Second

	Apply(cfg)

	if port.DefaultCapacity != 7 {
		t.Fatalf("port.DefaultCapacity = %d, want 7", port.DefaultCapacity)
	}

	p := port.New[int]("probe", port.Config[int]{})
	if cap(p.RawChannel()) != 7 {
		t.Fatalf("new port capacity = %d, want 7", cap(p.RawChannel()))
	}

	a := actor.New("probe")
	snap := a.Metrics().Snapshot()
	if snap.Received != 0 {
		t.Fatalf("fresh actor should report zero received, got %d", snap.Received)
	}
}

func TestApplyIgnoresNilConfig(t *testing.T) {
	before := port.DefaultCapacity
	Apply(nil)
	if port.DefaultCapacity != before {
		t.Fatalf("Apply(nil) changed port.DefaultCapacity from %d to %d", before, port.DefaultCapacity)
	}
}

package supervisor

import (
	"context"
	"testing"

	"firestige.xyz/actorflow/actor"
	"firestige.xyz/actorflow/errs"
)

func TestRegisterDuplicateFails(t *testing.T) {
	s := New()
	s.Start()
	a := actor.New("x")
	if err := s.Register("x", "echo", a); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := s.Register("x", "echo", a); err == nil {
		t.Fatal("expected a duplicate Register to fail")
	} else if !errs.Is(err, errs.DuplicateID) {
		t.Errorf("expected a DuplicateID error, got %v", err)
	}
}

// TestHotSwapPreservesRunningState is scenario S5.
func TestHotSwapPreservesRunningState(t *testing.T) {
	s := New()
	s.Start()
	x := actor.New("x")
	if err := x.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := s.Register("x", "echo", x); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	replacement := actor.New("x-v2")
	if err := s.HotSwap(context.Background(), "x", replacement, "echo"); err != nil {
		t.Fatalf("HotSwap() error: %v", err)
	}

	got, ok := s.Get("x")
	if !ok {
		t.Fatal("Get(\"x\") after hot swap found nothing")
	}
	if got != replacement {
		t.Error("Get(\"x\") did not return the replacement actor")
	}
	if replacement.State().Phase != actor.Running {
		t.Errorf("replacement.State().Phase = %v, want Running", replacement.State().Phase)
	}
	if x.State().Phase != actor.Stopped {
		t.Errorf("outgoing actor phase = %v, want Stopped", x.State().Phase)
	}
}

func TestHotSwapRejectsMismatchedKind(t *testing.T) {
	s := New()
	s.Start()
	x := actor.New("x")
	if err := s.Register("x", "echo", x); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	other := actor.New("y")
	if err := s.HotSwap(context.Background(), "x", other, "transform"); err == nil {
		t.Fatal("expected HotSwap to reject a different kind")
	}

	got, _ := s.Get("x")
	if got != x {
		t.Error("registry entry changed despite a rejected hot swap")
	}
}

func TestGetByKind(t *testing.T) {
	s := New()
	s.Start()
	a1 := actor.New("a1")
	a2 := actor.New("a2")
	b1 := actor.New("b1")
	s.Register("a1", "kindA", a1)
	s.Register("a2", "kindA", a2)
	s.Register("b1", "kindB", b1)

	got := s.GetByKind("kindA")
	if len(got) != 2 {
		t.Fatalf("GetByKind(kindA) returned %d actors, want 2", len(got))
	}
}

func TestDisposeClearsRegistry(t *testing.T) {
	s := New()
	s.Start()
	a := actor.New("x")
	s.Register("x", "echo", a)

	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
	if _, ok := s.Get("x"); ok {
		t.Fatal("expected registry to be empty after Dispose")
	}
}

// TestOperationsRequireRunning covers spec.md §4.5's "Supervisor must be
// Running for all operations": Register fails with errs.InvalidState before
// Start and after Stop, StartAllActors fails with it before Start, and Get
// reports nothing in either case.
func TestOperationsRequireRunning(t *testing.T) {
	s := New()
	a := actor.New("x")

	if err := s.Register("x", "echo", a); err == nil {
		t.Fatal("expected Register to fail before Start")
	} else if !errs.Is(err, errs.InvalidState) {
		t.Errorf("expected errs.InvalidState, got %v", err)
	}
	if _, ok := s.Get("x"); ok {
		t.Fatal("expected Get to find nothing before Start")
	}
	if err := s.StartAllActors(context.Background()); err == nil {
		t.Fatal("expected StartAllActors to fail before Start")
	} else if !errs.Is(err, errs.InvalidState) {
		t.Errorf("expected errs.InvalidState, got %v", err)
	}

	s.Start()
	if err := s.Register("x", "echo", a); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	s.Stop()

	if err := s.Register("y", "echo", actor.New("y")); err == nil {
		t.Fatal("expected Register to fail after Stop")
	} else if !errs.Is(err, errs.InvalidState) {
		t.Errorf("expected errs.InvalidState, got %v", err)
	}
	if _, ok := s.Get("x"); ok {
		t.Fatal("expected Get to report nothing once the supervisor is no longer running")
	}

	// Dispose works regardless of Running state, mirroring Actor.Dispose.
	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
}

func TestGetAllReturnsEveryRegisteredActor(t *testing.T) {
	s := New()
	s.Start()
	a1 := actor.New("a1")
	a2 := actor.New("a2")
	s.Register("a1", "kindA", a1)
	s.Register("a2", "kindB", a2)

	got := s.GetAll()
	if len(got) != 2 {
		t.Fatalf("GetAll() returned %d actors, want 2", len(got))
	}
}

func TestStartAllActorsAndStopAllActors(t *testing.T) {
	s := New()
	s.Start()
	a1 := actor.New("a1")
	a2 := actor.New("a2")
	s.Register("a1", "kind", a1)
	s.Register("a2", "kind", a2)

	if err := s.StartAllActors(context.Background()); err != nil {
		t.Fatalf("StartAllActors() error: %v", err)
	}
	if a1.State().Phase != actor.Running || a2.State().Phase != actor.Running {
		t.Fatal("expected both actors Running after StartAllActors")
	}

	if err := s.StopAllActors(); err != nil {
		t.Fatalf("StopAllActors() error: %v", err)
	}
	if a1.State().Phase != actor.Stopped || a2.State().Phase != actor.Stopped {
		t.Fatal("expected both actors Stopped after StopAllActors")
	}
}

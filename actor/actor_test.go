package actor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestStartStopLifecycle(t *testing.T) {
	a := New("probe")
	var received []string
	var mu sync.Mutex
	if _, err := CreateInputPort[string](a, "in", 4, func(ctx context.Context, msg string) error {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
		return nil
	}); err != nil {
		t.Fatalf("CreateInputPort() error: %v", err)
	}

	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	in, ok := GetPort[string](a, "in")
	if !ok {
		t.Fatal("GetPort() did not find the \"in\" port")
	}
	if err := in.Send(context.Background(), "hello"); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if a.State().Phase != Stopped {
		t.Errorf("State().Phase = %v, want Stopped", a.State().Phase)
	}

	// Restart must re-spawn exactly one consumer task per input port.
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	in, _ = GetPort[string](a, "in")
	if err := in.Send(context.Background(), "world"); err != nil {
		t.Fatalf("Send() after restart error: %v", err)
	}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	})
	a.Stop()
}

func TestPauseRejectsSendUntilResume(t *testing.T) {
	a := New("pausable")
	processed := make(chan string, 4)
	if _, err := CreateInputPort[string](a, "in", 4, func(ctx context.Context, msg string) error {
		processed <- msg
		return nil
	}); err != nil {
		t.Fatalf("CreateInputPort() error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer a.Stop()

	if err := a.Pause("maintenance"); err != nil {
		t.Fatalf("Pause() error: %v", err)
	}

	in, _ := GetPort[string](a, "in")
	if err := in.Send(context.Background(), "queued"); err == nil {
		// Send is routed through the actor's own port, whose owner check
		// requires Running; Paused must reject it just like any non-Running
		// phase.
		t.Fatal("expected Send to fail while the actor is Paused")
	}

	if err := a.Resume(); err != nil {
		t.Fatalf("Resume() error: %v", err)
	}
	if err := in.Send(context.Background(), "after-resume"); err != nil {
		t.Fatalf("Send() after resume error: %v", err)
	}
	select {
	case msg := <-processed:
		if msg != "after-resume" {
			t.Errorf("processed = %q, want after-resume", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message was never processed after resume")
	}
}

func TestFailTransitionsToErrored(t *testing.T) {
	a := New("faulty")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	a.Fail(errors.New("boom"))
	if a.State().Phase != Errored {
		t.Errorf("State().Phase = %v, want Errored", a.State().Phase)
	}
	if a.State().Err != "boom" {
		t.Errorf("State().Err = %q, want boom", a.State().Err)
	}

	// An errored actor remains in Error until explicitly stopped; Stop must
	// still succeed and move it to Stopped so it can be restarted.
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() from Errored error: %v", err)
	}
	if a.State().Phase != Stopped {
		t.Errorf("State().Phase after Stop() from Errored = %v, want Stopped", a.State().Phase)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() after recovering from Errored error: %v", err)
	}
	if a.State().Phase != Running {
		t.Errorf("State().Phase after restart = %v, want Running", a.State().Phase)
	}
	a.Stop()
}

func TestStopFromInitializedSucceeds(t *testing.T) {
	a := New("never-started")
	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() from Initialized error: %v", err)
	}
	if a.State().Phase != Stopped {
		t.Errorf("State().Phase = %v, want Stopped", a.State().Phase)
	}
}

func TestDisposeFromRunningStopsFirst(t *testing.T) {
	a := New("guarded")
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	// Dispose must work from any state: it stops the actor itself rather
	// than requiring the caller to stop it first.
	if err := a.Dispose(); err != nil {
		t.Fatalf("Dispose() from Running error: %v", err)
	}
	if a.State().Phase != Stopped {
		t.Errorf("State().Phase = %v, want Stopped", a.State().Phase)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("second Dispose() should be a no-op, got error: %v", err)
	}
	// A disposed actor cannot restart.
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() on disposed actor error: %v", err)
	}
	if a.State().Phase != Stopped {
		t.Errorf("Start() on disposed actor changed phase to %v, want it to remain Stopped", a.State().Phase)
	}
}

func TestMetricsTrackReceivedProcessedFailed(t *testing.T) {
	a := New("metered")
	if _, err := CreateInputPort[int](a, "in", 4, func(ctx context.Context, msg int) error {
		if msg < 0 {
			return errors.New("negative")
		}
		return nil
	}); err != nil {
		t.Fatalf("CreateInputPort() error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer a.Stop()

	in, _ := GetPort[int](a, "in")
	in.Send(context.Background(), 1)
	in.Send(context.Background(), -1)

	waitFor(t, func() bool {
		snap := a.Metrics().Snapshot()
		return snap.Processed+snap.Failed == 2
	})

	snap := a.Metrics().Snapshot()
	if snap.Received != 2 {
		t.Errorf("Received = %d, want 2", snap.Received)
	}
	if snap.Processed != 1 || snap.Failed != 1 {
		t.Errorf("Processed=%d Failed=%d, want 1/1", snap.Processed, snap.Failed)
	}
	if snap.Processed+snap.Failed > snap.Received {
		t.Errorf("processed+failed (%d) exceeds received (%d)", snap.Processed+snap.Failed, snap.Received)
	}
}

func TestMetricsResetClearsCounters(t *testing.T) {
	a := New("resettable")
	if _, err := CreateInputPort[int](a, "in", 4, func(ctx context.Context, msg int) error { return nil }); err != nil {
		t.Fatalf("CreateInputPort() error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer a.Stop()

	in, _ := GetPort[int](a, "in")
	in.Send(context.Background(), 1)
	waitFor(t, func() bool { return a.Metrics().Snapshot().Processed == 1 })

	a.Metrics().Reset()
	snap := a.Metrics().Snapshot()
	if snap.Received != 0 || snap.Processed != 0 || snap.Failed != 0 {
		t.Errorf("Snapshot() after Reset = %+v, want all counters zero", snap)
	}
	if len(snap.ByPort) != 0 {
		t.Errorf("ByPort after Reset = %v, want empty", snap.ByPort)
	}
}

func TestProcessorPanicInvokesOnErrorAndFailsActor(t *testing.T) {
	a := New("panicky")
	var gotErr error
	var gotMsg int
	var mu sync.Mutex
	if _, err := CreateInputPort[int](a, "in", 4, func(ctx context.Context, msg int) error {
		panic("boom")
	}, func(err error, msg int) {
		mu.Lock()
		gotErr, gotMsg = err, msg
		mu.Unlock()
	}); err != nil {
		t.Fatalf("CreateInputPort() error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	in, _ := GetPort[int](a, "in")
	if err := in.Send(context.Background(), 7); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	waitFor(t, func() bool { return a.State().Phase == Errored })

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Fatal("expected onError to be invoked with the panic converted to an error")
	}
	if gotMsg != 7 {
		t.Errorf("onError msg = %d, want 7", gotMsg)
	}
}

func TestProcessorReturnedErrorDoesNotFailActor(t *testing.T) {
	a := New("resilient")
	var errCount int
	var mu sync.Mutex
	if _, err := CreateInputPort[int](a, "in", 4, func(ctx context.Context, msg int) error {
		if msg < 0 {
			return errors.New("negative")
		}
		return nil
	}, func(err error, msg int) {
		mu.Lock()
		errCount++
		mu.Unlock()
	}); err != nil {
		t.Fatalf("CreateInputPort() error: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer a.Stop()

	in, _ := GetPort[int](a, "in")
	in.Send(context.Background(), -1)
	in.Send(context.Background(), 1)

	waitFor(t, func() bool { return a.Metrics().Snapshot().Processed == 1 })

	mu.Lock()
	defer mu.Unlock()
	if errCount != 1 {
		t.Errorf("onError invocation count = %d, want 1", errCount)
	}
	if a.State().Phase != Running {
		t.Errorf("State().Phase = %v, want Running (a returned error must not fail the actor)", a.State().Phase)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition was never satisfied")
}

// Package actor implements Actor, the unit of concurrent execution that
// owns a set of named Ports and the consumer tasks draining its input
// ports. An Actor's lifecycle is a small state machine: Initialized ->
// Running <-> Paused -> Stopped, with Errored reachable from any running
// state.
package actor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/tevino/abool"

	"firestige.xyz/actorflow/errs"
	"firestige.xyz/actorflow/internal/ids"
	"firestige.xyz/actorflow/internal/log"
	"firestige.xyz/actorflow/port"
)

// Phase is one of an Actor's lifecycle states.
type Phase int32

const (
	Initialized Phase = iota
	Running
	Paused
	Stopped
	Errored
)

func (p Phase) String() string {
	switch p {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Errored:
		return "errored"
	default:
		return "initialized"
	}
}

// State is an Actor's current lifecycle state, with Reason set while
// Paused and Err set while Errored.
type State struct {
	Phase  Phase
	Reason string
	Err    string
}

// ProcessFunc handles one message drained from an input port. A returned
// error is recorded as a failed message and reported through an optional
// ErrorHandler; it does not by itself stop the consumer task, since a
// returned error is the in-band, already-handled outcome Go uses in place of
// a thrown exception.
type ProcessFunc[T any] func(ctx context.Context, msg T) error

// ErrorHandler is spec.md §4.3's user onError(err, msg) hook, invoked once
// per failed or panicking message.
type ErrorHandler[T any] func(err error, msg T)

// Actor owns a name-keyed set of ports and the consumer task for each
// input port. Construct with New, wire ports with CreateInputPort and
// CreateOutputPort, then Start.
type Actor struct {
	id   string
	name string

	mu        sync.RWMutex
	state     State
	ports     map[string]port.AnyPort
	consumers map[string]func(ctx context.Context)
	resumeCh  chan struct{}

	cancel context.CancelFunc
	wg     *conc.WaitGroup

	disposed *abool.AtomicBool
	metrics  *Metrics
	logger   log.Logger
}

// New constructs an Actor in the Initialized phase.
func New(name string) *Actor {
	return &Actor{
		id:        ids.NewActorID(),
		name:      name,
		state:     State{Phase: Initialized},
		ports:     make(map[string]port.AnyPort),
		consumers: make(map[string]func(ctx context.Context)),
		disposed:  abool.New(),
		metrics:   newMetrics(defaultWindowSize),
		logger:    log.GetLogger().WithField("actor", name),
	}
}

func (a *Actor) ID() string   { return a.id }
func (a *Actor) Name() string { return a.name }

// State returns a snapshot of the actor's current lifecycle state.
func (a *Actor) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Metrics returns the actor's ActorMetrics collector.
func (a *Actor) Metrics() *Metrics { return a.metrics }

// OwnerState implements port.Owner by projecting Phase onto port.OwnerState,
// so every Port this actor owns enforces "send only while Running" without
// the port package importing actor.
func (a *Actor) OwnerState() port.OwnerState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch a.state.Phase {
	case Running:
		return port.OwnerRunning
	case Paused:
		return port.OwnerPaused
	case Stopped:
		return port.OwnerStopped
	case Errored:
		return port.OwnerError
	default:
		return port.OwnerInitialized
	}
}

// addPort rejects a name already owned by this actor rather than silently
// overwriting the existing port (and, for input ports, its consumer task).
func (a *Actor) addPort(p port.AnyPort) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.ports[p.Name()]; exists {
		return errs.Newf(errs.DuplicateID, "actor %s: port %q already exists", a.name, p.Name())
	}
	a.ports[p.Name()] = p
	return nil
}

// Port looks up a named port in its type-erased form.
func (a *Actor) Port(name string) (port.AnyPort, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.ports[name]
	return p, ok
}

// Ports returns every port this actor owns, in no particular order.
func (a *Actor) Ports() []port.AnyPort {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]port.AnyPort, 0, len(a.ports))
	for _, p := range a.ports {
		out = append(out, p)
	}
	return out
}

// CreateInputPort wires a new input Port[T] on a, with process as the body
// of its consumer task. process runs once per message, sequentially, for
// the life of the actor. onError is variadic so existing callers that don't
// care about per-message failures don't need to pass anything; when given
// (only the first is used), it is invoked with every error process returns
// and every recovered panic, alongside the message that triggered it.
// CreateInputPort fails with errs.DuplicateID if a owns a port with this
// name already.
func CreateInputPort[T any](a *Actor, name string, capacity int, process ProcessFunc[T], onError ...ErrorHandler[T]) (*port.Port[T], error) {
	p := port.New[T](name, port.Config[T]{Capacity: capacity, Direction: port.Input, Owner: a})
	if err := a.addPort(p); err != nil {
		return nil, err
	}

	var handler ErrorHandler[T]
	if len(onError) > 0 {
		handler = onError[0]
	}

	a.mu.Lock()
	a.consumers[name] = func(ctx context.Context) {
		consumeLoop(ctx, a, p, process, handler)
	}
	a.mu.Unlock()
	return p, nil
}

// CreateOutputPort wires a new output Port[T] on a. Output ports have no
// consumer task; they are sent to directly and drained by whatever
// PortConnection relays them onward. CreateOutputPort fails with
// errs.DuplicateID if a owns a port with this name already.
func CreateOutputPort[T any](a *Actor, name string, capacity int) (*port.Port[T], error) {
	p := port.New[T](name, port.Config[T]{Capacity: capacity, Direction: port.Output, Owner: a})
	if err := a.addPort(p); err != nil {
		return nil, err
	}
	return p, nil
}

// GetPort recovers the typed *port.Port[T] behind a named port.
func GetPort[T any](a *Actor, name string) (*port.Port[T], bool) {
	p, ok := a.Port(name)
	if !ok {
		return nil, false
	}
	return port.Lookup[T](p)
}

// Start transitions Initialized -> Running and spawns one consumer task per
// input port under a single task scope.
func (a *Actor) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.disposed.IsSet() {
		// Disposed actors cannot restart; Start is a no-op rather than an
		// error so defensive restart logic doesn't need a disposed check
		// of its own.
		a.mu.Unlock()
		return nil
	}
	if a.state.Phase == Running {
		a.mu.Unlock()
		return nil
	}
	if a.state.Phase != Initialized && a.state.Phase != Stopped {
		phase := a.state.Phase
		a.mu.Unlock()
		return errs.Newf(errs.InvalidState, "actor %s: cannot start from phase %s", a.name, phase)
	}
	a.state = State{Phase: Running}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg = conc.NewWaitGroup()
	consumers := make([]func(context.Context), 0, len(a.consumers))
	for _, c := range a.consumers {
		consumers = append(consumers, c)
	}
	a.mu.Unlock()

	for _, c := range consumers {
		c := c
		a.wg.Go(func() { c(runCtx) })
	}
	a.logger.Info("actor started")
	return nil
}

// Pause transitions Running -> Paused(reason). Consumer tasks block before
// invoking their next process call until Resume or Stop.
func (a *Actor) Pause(reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state.Phase != Running {
		return errs.Newf(errs.InvalidState, "actor %s: cannot pause from phase %s", a.name, a.state.Phase)
	}
	a.state = State{Phase: Paused, Reason: reason}
	a.resumeCh = make(chan struct{})
	a.logger.WithField("reason", reason).Info("actor paused")
	return nil
}

// Resume transitions Paused -> Running and wakes any consumer task blocked
// on the pause.
func (a *Actor) Resume() error {
	a.mu.Lock()
	if a.state.Phase != Paused {
		phase := a.state.Phase
		a.mu.Unlock()
		return errs.Newf(errs.InvalidState, "actor %s: cannot resume from phase %s", a.name, phase)
	}
	a.state = State{Phase: Running}
	ch := a.resumeCh
	a.resumeCh = nil
	a.mu.Unlock()

	if ch != nil {
		close(ch)
	}
	a.logger.Info("actor resumed")
	return nil
}

// Stop transitions any non-disposed phase -> Stopped: Running or Paused
// (cancelling and joining every consumer task), Initialized (nothing ever
// started), or Errored (so a failed actor can be explicitly stopped and
// later restarted, per its "remains in Error until explicitly stopped"
// contract). It is idempotent from Stopped itself.
func (a *Actor) Stop() error {
	a.mu.Lock()
	if a.disposed.IsSet() {
		phase := a.state.Phase
		a.mu.Unlock()
		return errs.Newf(errs.InvalidState, "actor %s: cannot stop a disposed actor (phase %s)", a.name, phase)
	}
	a.state = State{Phase: Stopped}
	cancel := a.cancel
	wg := a.wg
	resumeCh := a.resumeCh
	a.resumeCh = nil
	a.mu.Unlock()

	if resumeCh != nil {
		select {
		case <-resumeCh:
		default:
			close(resumeCh)
		}
	}
	if cancel != nil {
		cancel()
	}
	if wg != nil {
		wg.Wait()
	}
	a.logger.Info("actor stopped")
	return nil
}

// Fail transitions the actor to Errored from any state and cancels its
// consumer tasks. Unlike Stop it never returns an error: a processor that
// hits an unrecoverable fault should always be able to report it.
func (a *Actor) Fail(cause error) {
	a.mu.Lock()
	a.state = State{Phase: Errored, Err: cause.Error()}
	cancel := a.cancel
	resumeCh := a.resumeCh
	a.resumeCh = nil
	a.mu.Unlock()

	if resumeCh != nil {
		select {
		case <-resumeCh:
		default:
			close(resumeCh)
		}
	}
	if cancel != nil {
		cancel()
	}
	a.logger.WithError(cause).Error("actor entered error state")
}

// Dispose stops the actor (if it is Running or Paused) and then closes
// every port it owns. It is callable from any state and idempotent; a
// disposed actor's Start becomes a no-op, so it can never restart.
func (a *Actor) Dispose() error {
	if a.disposed.IsSet() {
		return nil
	}

	a.mu.RLock()
	phase := a.state.Phase
	a.mu.RUnlock()
	if phase == Running || phase == Paused {
		if err := a.Stop(); err != nil {
			a.logger.WithError(err).Warn("actor failed to stop cleanly during dispose")
		}
	}

	a.mu.Lock()
	if a.disposed.IsSet() {
		a.mu.Unlock()
		return nil
	}
	a.disposed.Set()
	ports := make([]port.AnyPort, 0, len(a.ports))
	for _, p := range a.ports {
		ports = append(ports, p)
	}
	a.mu.Unlock()

	for _, p := range ports {
		p.Dispose()
	}
	a.logger.Info("actor disposed")
	return nil
}

// waitWhilePaused blocks the calling consumer task while the actor is
// Paused. It returns true once the actor is Running again, false once the
// actor stops, errors, or ctx is cancelled first.
func waitWhilePaused(ctx context.Context, a *Actor) bool {
	for {
		a.mu.RLock()
		phase := a.state.Phase
		ch := a.resumeCh
		a.mu.RUnlock()

		if phase != Paused {
			return phase == Running
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return false
		}
	}
}

func consumeLoop[T any](ctx context.Context, a *Actor, p *port.Port[T], process ProcessFunc[T], onError ErrorHandler[T]) {
	logger := a.logger.WithField("port", p.Name())
	for {
		if !waitWhilePaused(ctx, a) {
			return
		}

		msg, ok := p.Receive(ctx)
		if !ok {
			return
		}
		a.metrics.recordReceived(p.Name())

		start := time.Now()
		err, panicked := invokeProcess(ctx, process, msg)
		a.metrics.recordProcessed(p.Name(), time.Since(start), err)
		if err != nil {
			logger.WithError(err).Warn("processor returned an error")
			if onError != nil {
				onError(err, msg)
			}
			if panicked {
				// A panic is the closest Go analogue of spec.md §4.3's "handler
				// throws a non-cancellation exception": it was not caught
				// in-band the way a returned error is, so this port's consumer
				// task fails fast and the actor moves to Errored rather than
				// continuing to drain.
				a.Fail(err)
				return
			}
		}
	}
}

// invokeProcess runs process and converts a recovered panic into an error,
// so a misbehaving handler can never take down the whole process. panicked
// distinguishes that case from an ordinary returned error, which consumeLoop
// treats as already handled.
func invokeProcess[T any](ctx context.Context, process ProcessFunc[T], msg T) (err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panicked: %v", r)
			panicked = true
		}
	}()
	err = process(ctx, msg)
	return err, false
}

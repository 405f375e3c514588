// Package port implements the typed, buffered, asynchronous endpoints
// Actors expose message pipelines through. A Port[T] is reified with its
// element type T so callers keep compile-time type safety, while Actor
// stores ports behind the type-erased AnyPort interface so it can hold a
// heterogeneous name-keyed map of them.
package port

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/tevino/abool"

	"firestige.xyz/actorflow/errs"
	"firestige.xyz/actorflow/internal/ids"
	"firestige.xyz/actorflow/internal/log"
)

// State is a Port's one-way lifecycle: Open -> Closed.
type State int32

const (
	Open State = iota
	Closed
)

func (s State) String() string {
	if s == Closed {
		return "closed"
	}
	return "open"
}

// Direction distinguishes an actor's input ports (drained by a consumer
// task spawned by the owning Actor) from output ports (send-only, no
// consumer).
type Direction int

const (
	Input Direction = iota
	Output
)

// OwnerState mirrors the subset of an Actor's lifecycle state a Port needs
// to enforce its send precondition. It is declared here (not imported from
// package actor) so actor can depend on port without a cycle; Actor
// implements Owner by mapping its own state machine onto these values.
type OwnerState int

const (
	OwnerInitialized OwnerState = iota
	OwnerRunning
	OwnerPaused
	OwnerStopped
	OwnerError
)

// Owner is implemented by Actor. A Port consults it on every Send so a
// lifecycle transition on the owner takes effect immediately.
type Owner interface {
	OwnerState() OwnerState
}

// DefaultCapacity is the queue size a Port gets when Config.Capacity is
// zero. A process can lower or raise it process-wide with
// SetDefaultCapacity, typically from a loaded RuntimeConfig at startup.
var DefaultCapacity = 64

// SetDefaultCapacity changes the process-wide default queue size for
// future ports. It has no effect on ports already constructed.
func SetDefaultCapacity(n int) {
	if n > 0 {
		DefaultCapacity = n
	}
}

// Handler transforms or inspects a message as it moves through a Port's
// send pipeline, in the order handlers were added. Returning an error
// rejects the message with errs.Validation.
type Handler[T any] func(ctx context.Context, msg T) (T, error)

// Rule is a named, conditionally-applicable transformation step in a
// Port's send pipeline. CanHandle is evaluated once per
// send, immediately before Apply; a nil CanHandle always applies.
type Rule[T any] struct {
	Name      string
	CanHandle func() bool
	Apply     func(ctx context.Context, msg T) (T, error)
}

// Adapter bridges between a Port's wire representation and its in-memory
// type T. CanHandle reports whether the adapter bridges the given types;
// Send does not call it. Encode/Decode run on every message. The zero-cost default is IdentityAdapter, for
// which Decode(Encode(msg)) == msg.
type Adapter[T any] interface {
	CanHandle(in, out reflect.Type) bool
	Encode(msg T) (any, error)
	Decode(wire any) (T, error)
}

// IdentityAdapter is the default ProtocolAdapter: it performs no
// conversion, so decode∘encode is the identity function as required by
// §4.1.
type IdentityAdapter[T any] struct{}

func (IdentityAdapter[T]) CanHandle(in, out reflect.Type) bool { return in == out }

func (IdentityAdapter[T]) Encode(msg T) (any, error) { return msg, nil }

func (IdentityAdapter[T]) Decode(wire any) (T, error) {
	v, ok := wire.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("identity adapter: cannot decode %T as %T", wire, zero)
	}
	return v, nil
}

// AnyPort is the type-erased view of a Port[T] that an Actor's port map and
// a WorkflowManager's connection resolver operate on. Typed access to
// messages always goes back through Port[T]; callers obtain one with
// Lookup. ReceiveAny/SendRawAny let a name-resolved PortConnection (built
// without knowing T at compile time) relay messages by boxing them as any,
// the same way connection.PortConnection[IN,OUT] relays them unboxed.
type AnyPort interface {
	ID() string
	Name() string
	ElementType() reflect.Type
	Direction() Direction
	State() State
	Dispose()
	ReceiveAny(ctx context.Context) (any, bool)
	SendRawAny(ctx context.Context, msg any) error
}

// AnyType is the reflect.Type of a Port[any], the "top type" spec.md's
// WorkflowManager falls back to resolving a ConnectionSpec's named ports
// against when their declared element types don't match.
var AnyType = reflect.TypeOf((*any)(nil)).Elem()

// Config controls Port construction.
type Config[T any] struct {
	Capacity  int
	Direction Direction
	Owner     Owner
	Adapter   Adapter[T]
}

// Port is a typed, buffered, asynchronous endpoint. Construct with New; the
// zero value is not usable.
type Port[T any] struct {
	id        string
	name      string
	direction Direction
	owner     Owner

	mu       sync.RWMutex
	handlers []Handler[T]
	rules    []Rule[T]
	adapter  Adapter[T]

	closed   *abool.AtomicBool
	closedCh chan struct{}
	closeOne sync.Once

	queue chan T
}

// New constructs a Port[T] in the Open state. actor.CreateInputPort and
// actor.CreateOutputPort are the usual callers; New is exported so tests and PortConnection fallback wiring can
// build ports outside of an Actor.
func New[T any](name string, cfg Config[T]) *Port[T] {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	adapter := cfg.Adapter
	if adapter == nil {
		adapter = IdentityAdapter[T]{}
	}
	return &Port[T]{
		id:        ids.NewPortID(),
		name:      name,
		direction: cfg.Direction,
		owner:     cfg.Owner,
		adapter:   adapter,
		closed:    abool.New(),
		closedCh:  make(chan struct{}),
		queue:     make(chan T, capacity),
	}
}

func (p *Port[T]) ID() string                   { return p.id }
func (p *Port[T]) Name() string                 { return p.name }
func (p *Port[T]) Direction() Direction         { return p.direction }
func (p *Port[T]) ElementType() reflect.Type    { return reflect.TypeOf((*T)(nil)).Elem() }

// State returns Open or Closed.
func (p *Port[T]) State() State {
	if p.closed.IsSet() {
		return Closed
	}
	return Open
}

// AddHandler appends a handler to the send pipeline.
func (p *Port[T]) AddHandler(h Handler[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// AddRule appends a conversion rule to the send pipeline.
func (p *Port[T]) AddRule(r Rule[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, r)
}

// SetAdapter replaces the port's ProtocolAdapter.
func (p *Port[T]) SetAdapter(a Adapter[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.adapter = a
}

// Send runs msg through the handler chain, the rule chain, and the
// protocol adapter, then enqueues it. It fails with errs.Validation if any
// pipeline stage errors, errs.Closed if the port has been disposed, and
// errs.InvalidState if the owning Actor is not Running.
func (p *Port[T]) Send(ctx context.Context, msg T) error {
	if p.owner != nil && p.owner.OwnerState() != OwnerRunning {
		return errs.Newf(errs.InvalidState, "port %s: owner is not running", p.name)
	}
	if p.closed.IsSet() {
		return errs.Newf(errs.Closed, "port %s is closed", p.name)
	}

	p.mu.RLock()
	handlers := append([]Handler[T](nil), p.handlers...)
	rules := append([]Rule[T](nil), p.rules...)
	adapter := p.adapter
	p.mu.RUnlock()

	cur := msg
	for _, h := range handlers {
		var err error
		cur, err = h(ctx, cur)
		if err != nil {
			return errs.Wrap(errs.Validation, fmt.Sprintf("port %s: handler rejected message", p.name), err)
		}
	}
	for _, r := range rules {
		if r.CanHandle != nil && !r.CanHandle() {
			return errs.Newf(errs.Validation, "port %s: rule %q cannot handle this message", p.name, r.Name)
		}
		var err error
		cur, err = r.Apply(ctx, cur)
		if err != nil {
			return errs.Wrap(errs.Validation, fmt.Sprintf("port %s: rule %q rejected message", p.name, r.Name), err)
		}
	}
	wire, err := adapter.Encode(cur)
	if err != nil {
		return errs.Wrap(errs.Validation, fmt.Sprintf("port %s: adapter encode failed", p.name), err)
	}
	decoded, err := adapter.Decode(wire)
	if err != nil {
		return errs.Wrap(errs.Validation, fmt.Sprintf("port %s: adapter decode failed", p.name), err)
	}

	select {
	case p.queue <- decoded:
		return nil
	case <-p.closedCh:
		return errs.Newf(errs.Closed, "port %s is closed", p.name)
	case <-ctx.Done():
		return errs.Wrap(errs.Send, fmt.Sprintf("port %s: send cancelled", p.name), ctx.Err())
	}
}

// Receive is used by a consumer task (owned by an Actor) or a routing task
// (owned by a PortConnection) to drain the port. It always prefers an
// already-buffered message over observing the port's closed signal, so
// Dispose never drops messages that were already enqueued. ok is false once
// the port is closed and fully drained, or ctx is done.
func (p *Port[T]) Receive(ctx context.Context) (msg T, ok bool) {
	select {
	case msg, ok = <-p.queue:
		if ok {
			return msg, true
		}
	default:
	}

	select {
	case msg, ok = <-p.queue:
		return msg, ok
	case <-p.closedCh:
		select {
		case msg, ok = <-p.queue:
			return msg, ok
		default:
			var zero T
			return zero, false
		}
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// ReceiveAny is Receive with its result boxed as any, for a name-resolved
// connection that only knows this port's element type at runtime.
func (p *Port[T]) ReceiveAny(ctx context.Context) (any, bool) {
	return p.Receive(ctx)
}

// SendRawAny enqueues msg directly into the port's buffer, bypassing the
// handler/rule/adapter pipeline, the way a PortConnection's routing task
// relays an already-processed message into its target. It fails with
// errs.Validation if msg does not assert to T, and otherwise observes the
// same Closed/cancellation outcomes as Send's own enqueue step.
func (p *Port[T]) SendRawAny(ctx context.Context, msg any) error {
	v, ok := msg.(T)
	if !ok {
		var zero T
		return errs.Newf(errs.Validation, "port %s: cannot accept %T as %T", p.name, msg, zero)
	}
	select {
	case p.queue <- v:
		return nil
	case <-p.closedCh:
		return errs.Newf(errs.Closed, "port %s is closed", p.name)
	case <-ctx.Done():
		return errs.Wrap(errs.Send, fmt.Sprintf("port %s: send cancelled", p.name), ctx.Err())
	}
}

// RawChannel exposes the underlying queue so a PortConnection's routing
// task can relay messages without going back through Send's pipeline (the
// connection applies its own handlers/adapter/rules instead). It is not
// meant for use outside this module's routing tasks.
func (p *Port[T]) RawChannel() chan T {
	return p.queue
}

// Dispose idempotently closes the port: subsequent Sends fail with
// errs.Closed, while Receive still drains whatever was already buffered.
// Unlike closing the Go channel directly, this never races a concurrent
// Send into a "send on closed channel" panic.
func (p *Port[T]) Dispose() {
	p.closeOne.Do(func() {
		p.closed.Set()
		close(p.closedCh)
		log.GetLogger().WithField("port", p.name).Debug("port disposed")
	})
}

// Lookup recovers the typed *Port[T] behind an AnyPort, for callers that
// hold a port by its type-erased form (an Actor's port map, a
// WorkflowManager's connection resolver) and know T from context.
func Lookup[T any](p AnyPort) (*Port[T], bool) {
	typed, ok := p.(*Port[T])
	return typed, ok
}

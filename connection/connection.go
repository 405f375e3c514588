// Package connection implements PortConnection, the routed link between
// one Actor's output port and another's input port. A connection owns a
// single routing task that relays messages from source to target for as
// long as the connection is running.
package connection

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/sourcegraph/conc"

	"firestige.xyz/actorflow/errs"
	"firestige.xyz/actorflow/internal/ids"
	"firestige.xyz/actorflow/internal/log"
	"firestige.xyz/actorflow/port"
)

// Transform converts a source port's message into a target port's message
// type. It is one entry in a connection's rule chain: entries are tried in
// order and the first to succeed wins.
type Transform[IN, OUT any] func(ctx context.Context, msg IN) (OUT, error)

// Adapter bridges IN and OUT when they differ. When a connection has an
// Adapter, it converts every message that is not already an OUT, and the
// Transform chain is not consulted. CanHandle is consulted once, at
// validate time.
type Adapter[IN, OUT any] interface {
	CanHandle(in, out reflect.Type) bool
	Convert(msg IN) (OUT, error)
}

// AnyConnection is the type-erased view a WorkflowManager stores its
// connections behind, since it composes connections of many different
// IN/OUT type pairs.
type AnyConnection interface {
	ID() string
	SourceID() string
	TargetID() string
	Start(ctx context.Context)
	StopAndJoin()
	Failed() *errs.Error
}

// Option configures a PortConnection at construction time.
type Option[IN, OUT any] func(*PortConnection[IN, OUT])

// WithAdapter sets the connection's Adapter.
func WithAdapter[IN, OUT any](a Adapter[IN, OUT]) Option[IN, OUT] {
	return func(c *PortConnection[IN, OUT]) { c.adapter = a }
}

// WithTransform appends a step to the connection's rule chain.
func WithTransform[IN, OUT any](t Transform[IN, OUT]) Option[IN, OUT] {
	return func(c *PortConnection[IN, OUT]) { c.transforms = append(c.transforms, t) }
}

// PortConnection relays messages from a source Port[IN] to a target
// Port[OUT]. It is valid only when IN and OUT are the same type, an
// Adapter bridges them, or a Transform chain bridges them; New enforces
// this and returns a *errs.PortConnectionError otherwise.
type PortConnection[IN, OUT any] struct {
	id     string
	source *port.Port[IN]
	target *port.Port[OUT]

	adapter    Adapter[IN, OUT]
	transforms []Transform[IN, OUT]

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	running bool
	failed  *errs.Error
}

// New validates and constructs a PortConnection from source to target. It
// does not start routing; call Start for that.
func New[IN, OUT any](source *port.Port[IN], target *port.Port[OUT], opts ...Option[IN, OUT]) (*PortConnection[IN, OUT], error) {
	c := &PortConnection[IN, OUT]{
		id:     ids.NewConnectionID(),
		source: source,
		target: target,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *PortConnection[IN, OUT]) validate() error {
	inType := reflect.TypeOf((*IN)(nil)).Elem()
	outType := reflect.TypeOf((*OUT)(nil)).Elem()

	if inType == outType {
		return nil
	}
	if c.adapter != nil && c.adapter.CanHandle(inType, outType) {
		return nil
	}
	if len(c.transforms) > 0 {
		return nil
	}
	return errs.NewPortConnectionError(c.source.ID(), c.target.ID(),
		fmt.Sprintf("incompatible endpoint types %s -> %s: no adapter or rule chain bridges them", inType, outType))
}

func (c *PortConnection[IN, OUT]) ID() string       { return c.id }
func (c *PortConnection[IN, OUT]) SourceID() string { return c.source.ID() }
func (c *PortConnection[IN, OUT]) TargetID() string { return c.target.ID() }

// Start spawns the routing task if one is not already running. It is
// idempotent while running, and callable again after StopAndJoin — a
// connection built once from validated specs can be started and stopped
// across as many workflow restarts as its caller wants.
func (c *PortConnection[IN, OUT]) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.failed = nil

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg = conc.NewWaitGroup()
	c.wg.Go(func() {
		c.route(runCtx)
	})
}

// StopAndJoin cancels the routing task and blocks until it has exited. It
// is idempotent and safe to call even if Start was never called.
func (c *PortConnection[IN, OUT]) StopAndJoin() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	wg := c.wg
	c.mu.Unlock()

	cancel()
	wg.Wait()
}

// Failed reports the error that stopped this connection's routing task, if
// any. A connection with a live routing task, or one stopped cleanly via
// StopAndJoin, reports nil.
func (c *PortConnection[IN, OUT]) Failed() *errs.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *PortConnection[IN, OUT]) route(ctx context.Context) {
	logger := log.GetLogger().WithField("connection", c.id)
	for {
		msg, ok := c.source.Receive(ctx)
		if !ok {
			return
		}
		out, err := c.convert(ctx, msg)
		if err != nil {
			logger.WithError(err).Warn("connection stopping: message failed conversion")
			c.mu.Lock()
			c.running = false
			c.failed = errs.Newf(errs.Validation, "connection %s: %v", c.id, err)
			c.mu.Unlock()
			return
		}
		select {
		case c.target.RawChannel() <- out:
		case <-ctx.Done():
			return
		}
	}
}

func (c *PortConnection[IN, OUT]) convert(ctx context.Context, msg IN) (OUT, error) {
	var zero OUT
	if v, ok := any(msg).(OUT); ok {
		return v, nil
	}
	if c.adapter != nil {
		return c.adapter.Convert(msg)
	}
	for _, t := range c.transforms {
		out, err := t(ctx, msg)
		if err == nil {
			return out, nil
		}
	}
	return zero, errs.Newf(errs.Validation, "connection %s: no rule could convert message", c.id)
}

// dynamicConnection is the AnyConnection a WorkflowManager builds when it
// resolves a ConnectionSpec by port name rather than through the
// compile-time-typed New[IN, OUT]: it relays messages boxed as any via
// AnyPort.ReceiveAny/SendRawAny, so it never needs IN/OUT as type
// parameters. It accepts identical element types, or one endpoint declared
// as port.AnyType (spec.md §4.4's "Any" fallback), comparing reflect.Type
// values read at resolve time. Unlike New it takes no Adapter or Transform,
// and New does not accept a port.AnyType endpoint in place of a match.
type dynamicConnection struct {
	id     string
	source port.AnyPort
	target port.AnyPort

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      *conc.WaitGroup
	running bool
	failed  *errs.Error
}

// NewDynamic validates and constructs a connection between two ports whose
// element types are known only as reflect.Type, for WorkflowManager's
// name-based Connect. It fails with *errs.PortConnectionError when neither
// endpoint's element type matches the other and neither is port.AnyType.
func NewDynamic(source, target port.AnyPort) (AnyConnection, error) {
	srcType, tgtType := source.ElementType(), target.ElementType()
	if srcType != tgtType && srcType != port.AnyType && tgtType != port.AnyType {
		return nil, errs.NewPortConnectionError(source.ID(), target.ID(),
			fmt.Sprintf("incompatible endpoint types %s -> %s: neither side is port.AnyType", srcType, tgtType))
	}
	return &dynamicConnection{id: ids.NewConnectionID(), source: source, target: target}, nil
}

func (c *dynamicConnection) ID() string       { return c.id }
func (c *dynamicConnection) SourceID() string { return c.source.ID() }
func (c *dynamicConnection) TargetID() string { return c.target.ID() }

func (c *dynamicConnection) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.failed = nil

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg = conc.NewWaitGroup()
	c.wg.Go(func() {
		c.route(runCtx)
	})
}

func (c *dynamicConnection) StopAndJoin() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	wg := c.wg
	c.mu.Unlock()

	cancel()
	wg.Wait()
}

func (c *dynamicConnection) Failed() *errs.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failed
}

func (c *dynamicConnection) route(ctx context.Context) {
	logger := log.GetLogger().WithField("connection", c.id)
	for {
		msg, ok := c.source.ReceiveAny(ctx)
		if !ok {
			return
		}
		if err := c.target.SendRawAny(ctx, msg); err != nil {
			if errs.Is(err, errs.Closed) {
				return
			}
			logger.WithError(err).Warn("connection stopping: message rejected by target")
			c.mu.Lock()
			c.running = false
			c.failed = errs.Newf(errs.Validation, "connection %s: %v", c.id, err)
			c.mu.Unlock()
			return
		}
	}
}

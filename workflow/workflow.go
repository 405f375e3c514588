// Package workflow implements WorkflowManager, which composes Actors and
// PortConnections into a single unit with one lifecycle. Its defining
// responsibility is shutdown ordering: every PortConnection's routing task
// must be cancelled and joined before any Actor's ports are disposed, or a
// routing task could send into a port that has already been closed.
package workflow

import (
	"context"
	"sync"
	"time"

	"firestige.xyz/actorflow/actor"
	"firestige.xyz/actorflow/connection"
	"firestige.xyz/actorflow/errs"
	"firestige.xyz/actorflow/internal/ids"
	"firestige.xyz/actorflow/internal/log"
)

// defaultShutdownGrace is how long Stop waits for connections and actors to
// join before logging a warning that shutdown is taking longer than usual.
// It never shortens the wait itself: Stop always blocks until every routing
// task and consumer task has actually exited, per the shutdown ordering
// invariant. A process can change it with SetDefaultShutdownGrace, typically
// from a loaded RuntimeConfig at startup.
var defaultShutdownGrace = 10 * time.Second

// SetDefaultShutdownGrace changes the process-wide shutdown grace period
// used by future Managers. It has no effect on Managers already constructed.
func SetDefaultShutdownGrace(d time.Duration) {
	if d > 0 {
		defaultShutdownGrace = d
	}
}

// Phase is one of a WorkflowManager's lifecycle states.
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

// State is a WorkflowManager's current lifecycle state, with Reason set
// while Paused and Err set while Errored, matching spec.md §3's
// {Initialized, Running, Paused(reason), Stopped, Error(msg)}.
type State struct {
	Phase  Phase
	Reason string
	Err    string
}

// ConnectionSpec names a connection by actor/port identity rather than by
// a live object, per spec.md §3: "a mapping ConnectionSpec -> live
// PortConnection while running". Specs persist across Stop/Start cycles;
// the live connection they resolve to exists only while the workflow is
// Running and is rebuilt fresh on every Start.
type ConnectionSpec struct {
	SourceActorID string
	SourcePort    string
	TargetActorID string
	TargetPort    string
}

// Manager is a WorkflowManager: a named set of Actors, the ConnectionSpecs
// wiring their ports by name, and (while Running) the live PortConnections
// those specs currently resolve to.
type Manager struct {
	id   string
	name string

	mu            sync.RWMutex
	state         State
	actors        map[string]*actor.Actor
	connections   map[string]connection.AnyConnection // ad hoc connections added via Connect
	specs         []ConnectionSpec
	live          map[ConnectionSpec]connection.AnyConnection
	runCtx        context.Context
	runCancel     context.CancelFunc
	shutdownGrace time.Duration

	logger log.Logger
}

// New constructs an empty Manager.
func New(name string) *Manager {
	return &Manager{
		id:            ids.NewWorkflowID(),
		name:          name,
		state:         State{Phase: Initialized},
		actors:        make(map[string]*actor.Actor),
		connections:   make(map[string]connection.AnyConnection),
		live:          make(map[ConnectionSpec]connection.AnyConnection),
		shutdownGrace: defaultShutdownGrace,
		logger:        log.GetLogger().WithField("workflow", name),
	}
}

func (m *Manager) ID() string   { return m.id }
func (m *Manager) Name() string { return m.name }

// State returns a snapshot of the workflow's current lifecycle state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// isEditablePhaseLocked reports whether actors/connections may be added or
// removed in the manager's current phase, per spec.md §3's "actors/
// connections may be added only in Initialized or Stopped". Caller must
// hold m.mu.
func (m *Manager) isEditablePhaseLocked() bool {
	return m.state.Phase == Initialized || m.state.Phase == Stopped
}

// AddActor registers a by its id. Legal only in Initialized or Stopped; it
// fails with errs.DuplicateID if an actor with the same id has already been
// added.
func (m *Manager) AddActor(a *actor.Actor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isEditablePhaseLocked() {
		return errs.Newf(errs.InvalidState, "workflow %s: cannot add an actor from phase %s", m.name, m.state.Phase)
	}
	if _, exists := m.actors[a.ID()]; exists {
		return errs.Newf(errs.DuplicateID, "workflow %s: actor %s already added", m.name, a.ID())
	}
	m.actors[a.ID()] = a
	return nil
}

// GetActor looks up a registered actor by id.
func (m *Manager) GetActor(id string) (*actor.Actor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.actors[id]
	return a, ok
}

// Actors returns every registered actor, in no particular order.
func (m *Manager) Actors() []*actor.Actor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*actor.Actor, 0, len(m.actors))
	for _, a := range m.actors {
		out = append(out, a)
	}
	return out
}

// Connect registers a pre-built PortConnection, for callers that need a
// custom Adapter or Transform chain New[IN, OUT] doesn't cover through the
// name-based ConnectPorts. Legal only in Initialized or Stopped, matching
// ConnectPorts and spec.md §4.4.
func (m *Manager) Connect(c connection.AnyConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isEditablePhaseLocked() {
		return errs.Newf(errs.InvalidState, "workflow %s: cannot connect from phase %s", m.name, m.state.Phase)
	}
	if _, exists := m.connections[c.ID()]; exists {
		return errs.Newf(errs.DuplicateID, "workflow %s: connection %s already added", m.name, c.ID())
	}
	m.connections[c.ID()] = c
	return nil
}

// Disconnect stops and removes an ad hoc connection added via Connect, by
// id.
func (m *Manager) Disconnect(id string) error {
	m.mu.Lock()
	c, ok := m.connections[id]
	if !ok {
		m.mu.Unlock()
		return errs.Newf(errs.NotFound, "workflow %s: connection %s not found", m.name, id)
	}
	delete(m.connections, id)
	m.mu.Unlock()

	c.StopAndJoin()
	return nil
}

// ConnectPorts records a ConnectionSpec naming two ports by actor id and
// port name, the name-based connect() of spec.md §4.4/§6. It is legal only
// in Initialized or Stopped, persists across Stop/Start cycles, and is not
// itself resolved against live ports until the next Start: spec.md's
// WorkflowManager carries specs, not connections, outside of Running.
func (m *Manager) ConnectPorts(sourceActorID, sourcePort, targetActorID, targetPort string) error {
	spec := ConnectionSpec{
		SourceActorID: sourceActorID,
		SourcePort:    sourcePort,
		TargetActorID: targetActorID,
		TargetPort:    targetPort,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isEditablePhaseLocked() {
		return errs.Newf(errs.InvalidState, "workflow %s: cannot connect from phase %s", m.name, m.state.Phase)
	}
	if _, ok := m.actors[sourceActorID]; !ok {
		return errs.Newf(errs.NotFound, "workflow %s: source actor %s not found", m.name, sourceActorID)
	}
	if _, ok := m.actors[targetActorID]; !ok {
		return errs.Newf(errs.NotFound, "workflow %s: target actor %s not found", m.name, targetActorID)
	}
	for _, s := range m.specs {
		if s == spec {
			return errs.Newf(errs.DuplicateID, "workflow %s: connection spec already added", m.name)
		}
	}
	m.specs = append(m.specs, spec)
	return nil
}

// DisconnectPorts removes a ConnectionSpec added via ConnectPorts. If the
// workflow is Running, it stops and joins the spec's live PortConnection
// first — this is spec.md §4.4's Disconnect.
func (m *Manager) DisconnectPorts(sourceActorID, sourcePort, targetActorID, targetPort string) error {
	spec := ConnectionSpec{
		SourceActorID: sourceActorID,
		SourcePort:    sourcePort,
		TargetActorID: targetActorID,
		TargetPort:    targetPort,
	}
	m.mu.Lock()
	idx := -1
	for i, s := range m.specs {
		if s == spec {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return errs.Newf(errs.NotFound, "workflow %s: connection spec not found", m.name)
	}
	m.specs = append(m.specs[:idx], m.specs[idx+1:]...)
	live, ok := m.live[spec]
	delete(m.live, spec)
	m.mu.Unlock()

	if ok {
		live.StopAndJoin()
	}
	return nil
}

// resolveSpec looks up the named ports on each side of spec, per spec.md
// §4.4's port resolution policy: declared element types must match
// directly, or one side must be the fallback port.AnyType. Returns
// *errs.Error(NotFound) if either port is missing.
func (m *Manager) resolveSpec(spec ConnectionSpec) (connection.AnyConnection, error) {
	srcActor, ok := m.actors[spec.SourceActorID]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "workflow %s: source actor %s not found", m.name, spec.SourceActorID)
	}
	tgtActor, ok := m.actors[spec.TargetActorID]
	if !ok {
		return nil, errs.Newf(errs.NotFound, "workflow %s: target actor %s not found", m.name, spec.TargetActorID)
	}
	srcPort, ok := srcActor.Port(spec.SourcePort)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "workflow %s: port %q not found on actor %s", m.name, spec.SourcePort, spec.SourceActorID)
	}
	tgtPort, ok := tgtActor.Port(spec.TargetPort)
	if !ok {
		return nil, errs.Newf(errs.NotFound, "workflow %s: port %q not found on actor %s", m.name, spec.TargetPort, spec.TargetActorID)
	}
	return connection.NewDynamic(srcPort, tgtPort)
}

// Connections returns every connection currently wired — both ad hoc ones
// added via Connect and the live connections resolved from ConnectPorts
// specs while Running — in no particular order.
func (m *Manager) Connections() []connection.AnyConnection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]connection.AnyConnection, 0, len(m.connections)+len(m.live))
	for _, c := range m.connections {
		out = append(out, c)
	}
	for _, c := range m.live {
		out = append(out, c)
	}
	return out
}

// Specs returns every registered ConnectionSpec, in no particular order.
// Specs persist across Stop/Start cycles even though their live
// connections do not.
func (m *Manager) Specs() []ConnectionSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ConnectionSpec(nil), m.specs...)
}

// Start starts every registered actor, resolves every ConnectionSpec
// against the actors' current ports, then starts every connection's
// routing task — ad hoc ones added via Connect and the ones just resolved
// from specs alike. Actors come first so a connection never relays into a
// port whose owner has not begun consuming yet. On a resolution or
// validation failure, Start stops what it already started and returns the
// error without leaving the workflow half-started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if !m.isEditablePhaseLocked() {
		phase := m.state.Phase
		m.mu.Unlock()
		return errs.Newf(errs.InvalidState, "workflow %s: cannot start from phase %s", m.name, phase)
	}
	m.state = State{Phase: Running}
	m.runCtx, m.runCancel = context.WithCancel(ctx)
	specs := append([]ConnectionSpec(nil), m.specs...)
	m.mu.Unlock()

	for _, a := range m.Actors() {
		if err := a.Start(m.runCtx); err != nil {
			wrapped := errs.Wrap(errs.InvalidState, "workflow: failed to start actor "+a.Name(), err)
			m.failStart(wrapped)
			return wrapped
		}
	}

	resolved := make(map[ConnectionSpec]connection.AnyConnection, len(specs))
	for _, spec := range specs {
		conn, err := m.resolveSpec(spec)
		if err != nil {
			m.failStart(err)
			return err
		}
		resolved[spec] = conn
	}

	m.mu.Lock()
	m.live = resolved
	m.mu.Unlock()

	for _, c := range m.Connections() {
		c.Start(m.runCtx)
	}
	m.logger.Info("workflow started")
	return nil
}

// failStart unwinds a Start that failed partway through: it stops every
// actor that did get started and transitions the workflow to Errored(msg),
// per spec.md §4.4's "On any failure, transition to Error(msg) and
// propagate." A caller must explicitly Stop an Errored workflow (which
// resets it to Stopped) before Start can be tried again.
func (m *Manager) failStart(cause error) {
	m.mu.Lock()
	m.state = State{Phase: Errored, Err: cause.Error()}
	cancel := m.runCancel
	m.mu.Unlock()

	for _, a := range m.Actors() {
		_ = a.Stop()
	}
	if cancel != nil {
		cancel()
	}
	m.logger.WithError(cause).Error("workflow entered error state")
}

// Stop cancels and joins every connection's routing task, then stops every
// actor. This order is the workflow's central invariant: it guarantees no
// routing task is still relaying once an actor begins disposing its ports.
// Stop always waits for every join to finish; shutdownGrace only bounds how
// long it waits before logging that shutdown is running long, it never
// aborts the wait.
func (m *Manager) Stop() error {
	m.mu.Lock()
	phase := m.state.Phase
	if phase != Running && phase != Paused && phase != Errored {
		m.mu.Unlock()
		return errs.Newf(errs.InvalidState, "workflow %s: cannot stop from phase %s", m.name, phase)
	}
	m.state = State{Phase: Stopped}
	cancel := m.runCancel
	grace := m.shutdownGrace
	m.mu.Unlock()

	done := make(chan struct{})
	if grace > 0 {
		defer close(done)
		go func() {
			select {
			case <-done:
			case <-time.After(grace):
				m.logger.WithField("grace", grace).Warn("workflow shutdown is taking longer than expected")
			}
		}()
	}

	for _, c := range m.Connections() {
		c.StopAndJoin()
	}
	m.mu.Lock()
	m.live = make(map[ConnectionSpec]connection.AnyConnection)
	m.mu.Unlock()

	for _, a := range m.Actors() {
		if err := a.Stop(); err != nil {
			m.logger.WithError(err).Warn("actor failed to stop cleanly")
		}
	}
	if cancel != nil {
		cancel()
	}
	m.logger.Info("workflow stopped")
	return nil
}

// Pause transitions Running -> Paused(reason) and pauses every registered
// actor in turn, per spec.md §9's workflow-level pause granularity
// decision. Legal only from Running.
func (m *Manager) Pause(reason string) error {
	m.mu.Lock()
	if m.state.Phase != Running {
		phase := m.state.Phase
		m.mu.Unlock()
		return errs.Newf(errs.InvalidState, "workflow %s: cannot pause from phase %s", m.name, phase)
	}
	m.mu.Unlock()

	for _, a := range m.Actors() {
		if err := a.Pause(reason); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.state = State{Phase: Paused, Reason: reason}
	m.mu.Unlock()
	m.logger.WithField("reason", reason).Info("workflow paused")
	return nil
}

// Resume transitions Paused -> Running and resumes every registered actor
// in turn. Legal only from Paused.
func (m *Manager) Resume() error {
	m.mu.Lock()
	if m.state.Phase != Paused {
		phase := m.state.Phase
		m.mu.Unlock()
		return errs.Newf(errs.InvalidState, "workflow %s: cannot resume from phase %s", m.name, phase)
	}
	m.mu.Unlock()

	for _, a := range m.Actors() {
		if err := a.Resume(); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.state = State{Phase: Running}
	m.mu.Unlock()
	m.logger.Info("workflow resumed")
	return nil
}

// PauseActor pauses a single registered actor by id.
func (m *Manager) PauseActor(id, reason string) error {
	a, ok := m.GetActor(id)
	if !ok {
		return errs.Newf(errs.NotFound, "workflow %s: actor %s not found", m.name, id)
	}
	return a.Pause(reason)
}

// ResumeActor resumes a single registered actor by id.
func (m *Manager) ResumeActor(id string) error {
	a, ok := m.GetActor(id)
	if !ok {
		return errs.Newf(errs.NotFound, "workflow %s: actor %s not found", m.name, id)
	}
	return a.Resume()
}

// Dispose stops the workflow first if it is still Running — preserving the
// shutdown ordering invariant, every routing task joined before any port
// closes — then disposes every registered actor. It is idempotent: calling
// Dispose twice, or calling it after Stop was already called, never
// re-runs Stop's routing-task join against a workflow that is not running.
func (m *Manager) Dispose() error {
	m.mu.RLock()
	phase := m.state.Phase
	m.mu.RUnlock()
	if phase == Running || phase == Paused || phase == Errored {
		if err := m.Stop(); err != nil {
			m.logger.WithError(err).Warn("workflow failed to stop cleanly during dispose")
		}
	}

	for _, a := range m.Actors() {
		if err := a.Dispose(); err != nil {
			m.logger.WithError(err).Warn("actor failed to dispose cleanly")
		}
	}
	m.logger.Info("workflow disposed")
	return nil
}

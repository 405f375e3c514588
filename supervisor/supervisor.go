// Package supervisor implements SupervisorActor: a typed registry of
// Actors that supports hot-swapping a running actor for a replacement of
// the same kind without disturbing the rest of a workflow.
package supervisor

import (
	"context"
	"sync"

	"github.com/tevino/abool"

	"firestige.xyz/actorflow/actor"
	"firestige.xyz/actorflow/errs"
	"firestige.xyz/actorflow/internal/ids"
	"firestige.xyz/actorflow/internal/log"
)

type entry struct {
	a    *actor.Actor
	kind string
}

// Supervisor is a SupervisorActor. kind is a caller-chosen tag (e.g. a
// factory name) identifying what concrete role a registered actor plays;
// HotSwap requires the replacement to share its predecessor's kind.
//
// Registry identity is the id Register was called with, not
// Actor.ID(): a hot-swapped actor keeps answering to the original id even
// though its own ID() differs. Callers that need an actor's own identity
// should read Actor.ID() directly; callers that address actors through the
// supervisor should treat the registry id as the stable handle.
type Supervisor struct {
	id string

	running *abool.AtomicBool

	mu      sync.RWMutex
	entries map[string]*entry
	byKind  map[string]map[string]struct{}

	logger log.Logger
}

// New constructs a Supervisor. It is not Running until Start is called:
// every other operation fails with errs.InvalidState until then, per
// spec.md §4.5's "Supervisor must be Running for all operations".
func New() *Supervisor {
	return &Supervisor{
		id:      ids.NewActorID(),
		running: abool.New(),
		entries: make(map[string]*entry),
		byKind:  make(map[string]map[string]struct{}),
		logger:  log.GetLogger().WithField("component", "supervisor"),
	}
}

func (s *Supervisor) ID() string { return s.id }

// Start transitions the supervisor to Running, the precondition every
// other registry operation checks. It is idempotent.
func (s *Supervisor) Start() error {
	s.running.Set()
	s.logger.Info("supervisor started")
	return nil
}

// Stop transitions the supervisor out of Running. Registered actors are
// untouched; use StopAllActors first if they should stop too.
func (s *Supervisor) Stop() error {
	s.running.UnSet()
	s.logger.Info("supervisor stopped")
	return nil
}

func (s *Supervisor) requireRunning() error {
	if !s.running.IsSet() {
		return errs.Newf(errs.InvalidState, "supervisor %s: not running", s.id)
	}
	return nil
}

// Register adds a under id with the given kind tag. It fails with
// errs.DuplicateID if id is already registered.
func (s *Supervisor) Register(id, kind string, a *actor.Actor) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[id]; exists {
		return errs.Newf(errs.DuplicateID, "supervisor: %s already registered", id)
	}
	s.entries[id] = &entry{a: a, kind: kind}
	if s.byKind[kind] == nil {
		s.byKind[kind] = make(map[string]struct{})
	}
	s.byKind[kind][id] = struct{}{}
	s.logger.WithField("kind", kind).WithField("id", id).Info("actor registered")
	return nil
}

// Unregister removes id from the registry without touching the actor's
// lifecycle. Callers that also want it stopped/disposed must do so
// themselves, typically via the owning WorkflowManager.
func (s *Supervisor) Unregister(id string) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return errs.Newf(errs.NotFound, "supervisor: %s not found", id)
	}
	delete(s.entries, id)
	delete(s.byKind[e.kind], id)
	return nil
}

// Get resolves id to its currently registered actor.
func (s *Supervisor) Get(id string) (*actor.Actor, bool) {
	if s.requireRunning() != nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return e.a, true
}

// GetAll returns every actor currently registered, in no particular order.
func (s *Supervisor) GetAll() []*actor.Actor {
	if s.requireRunning() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*actor.Actor, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.a)
	}
	return out
}

// GetByKind returns every actor currently registered under kind.
func (s *Supervisor) GetByKind(kind string) []*actor.Actor {
	if s.requireRunning() != nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byKind[kind]
	out := make([]*actor.Actor, 0, len(ids))
	for id := range ids {
		out = append(out, s.entries[id].a)
	}
	return out
}

// StartAllActors starts every registered actor, returning the first error
// encountered (if any) after attempting every one.
func (s *Supervisor) StartAllActors(ctx context.Context) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	var firstErr error
	for _, a := range s.GetAll() {
		if err := a.Start(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StopAllActors stops every registered actor, returning the first error
// encountered (if any) after attempting every one.
func (s *Supervisor) StopAllActors() error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	var firstErr error
	for _, a := range s.GetAll() {
		if err := a.Stop(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// HotSwap replaces the actor registered under id with replacement,
// preserving id's place in the registry. If the outgoing actor was
// Running, replacement is started before the swap is published and the
// outgoing actor is stopped and disposed after, so there is no window
// where id resolves to a dead actor. kind must match the outgoing actor's
// registered kind.
func (s *Supervisor) HotSwap(ctx context.Context, id string, replacement *actor.Actor, kind string) error {
	if err := s.requireRunning(); err != nil {
		return err
	}
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return errs.Newf(errs.NotFound, "supervisor: %s not found", id)
	}
	if e.kind != kind {
		s.mu.Unlock()
		return errs.Newf(errs.Validation, "supervisor: hot swap of %s requires kind %q, got %q", id, e.kind, kind)
	}
	old := e.a
	wasRunning := old.State().Phase == actor.Running
	s.mu.Unlock()

	if wasRunning {
		if err := replacement.Start(ctx); err != nil {
			return errs.Wrap(errs.InvalidState, "supervisor: failed to start replacement actor", err)
		}
	}

	s.mu.Lock()
	s.entries[id] = &entry{a: replacement, kind: kind}
	s.mu.Unlock()

	if wasRunning {
		if err := old.Stop(); err != nil {
			s.logger.WithError(err).Warn("outgoing actor failed to stop cleanly during hot swap")
		}
	}
	if err := old.Dispose(); err != nil {
		s.logger.WithError(err).Warn("outgoing actor failed to dispose cleanly during hot swap")
	}
	s.logger.WithField("id", id).Info("actor hot-swapped")
	return nil
}

// Dispose unregisters and disposes every actor the supervisor holds.
func (s *Supervisor) Dispose() error {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.entries = make(map[string]*entry)
	s.byKind = make(map[string]map[string]struct{})
	s.mu.Unlock()

	for _, e := range entries {
		if err := e.a.Dispose(); err != nil {
			s.logger.WithError(err).Warn("actor failed to dispose cleanly")
		}
	}
	return nil
}

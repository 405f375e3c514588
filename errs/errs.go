// Package errs implements the error taxonomy shared by every actorflow
// component: a fixed set of Kinds (not concrete types) so callers can branch
// on errors.Is/errors.As regardless of which package raised the failure.
package errs

import "fmt"

// Kind identifies why an operation failed. It never changes across actorflow
// versions; new failure modes should be folded into the closest existing
// Kind rather than growing this list.
type Kind string

const (
	// Validation means a handler, adapter, or conversion rule rejected a
	// message on its way through a Port's or PortConnection's pipeline.
	Validation Kind = "validation"

	// PortConnectionFailed means a PortConnection could not be validated:
	// incompatible endpoint types with no adapter or rule chain to bridge
	// them.
	PortConnectionFailed Kind = "port_connection"

	// Send means a message could not be delivered for a transport reason
	// (closed queue, cancelled context).
	Send Kind = "send"

	// Closed means the operation targeted a disposed Port, Actor, or
	// WorkflowManager.
	Closed Kind = "closed"

	// InvalidState means an operation was attempted while its owner was
	// in a state that forbids it.
	InvalidState Kind = "invalid_state"

	// DuplicateID means a registry already held an entry under the given
	// identity.
	DuplicateID Kind = "duplicate_id"

	// NotFound means a registry lookup (port, actor, connection) found
	// nothing under the given identity.
	NotFound Kind = "not_found"
)

// Error is the concrete error type every actorflow package returns. Kind is
// the only thing callers should ever switch on; Message and the wrapped
// cause are for humans and logs.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, errs.New(kind, "")) match any *Error of that Kind,
// regardless of Message/Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error carrying cause as its Unwrap target.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// kinded is implemented by *Error and, through embedding, by every type built
// on top of it (e.g. *PortConnectionError), so Is recognizes a Kind match
// regardless of which concrete wrapper type carries it.
type kinded interface{ errKind() Kind }

func (e *Error) errKind() Kind { return e.Kind }

// Is reports whether err is (or wraps) an error of the given Kind, walking
// Unwrap() chains and matching by Kind value rather than by concrete type, so
// *PortConnectionError satisfies errs.Is(err, errs.PortConnectionFailed) just
// as a bare *Error does.
func Is(err error, kind Kind) bool {
	for err != nil {
		if k, ok := err.(kinded); ok && k.errKind() == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// PortConnectionError describes which endpoints of a PortConnection failed
// validation, per §4.2/§7 of the connection contract.
type PortConnectionError struct {
	*Error
	SourceID string
	TargetID string
}

// NewPortConnectionError builds a PortConnectionError naming both endpoints.
func NewPortConnectionError(sourceID, targetID, message string) *PortConnectionError {
	return &PortConnectionError{
		Error:    New(PortConnectionFailed, message),
		SourceID: sourceID,
		TargetID: targetID,
	}
}

// Package ids generates the stable identifiers actorflow assigns to actors,
// workflows, ports, and connections.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// NewActorID returns a fresh UUIDv4 string, used for actor and supervisor
// identity.
func NewActorID() string {
	return uuid.NewString()
}

// NewConnectionID returns a fresh UUIDv4 string, used for PortConnection
// identity.
func NewConnectionID() string {
	return uuid.NewString()
}

// NewWorkflowID returns a fresh UUIDv4 string, used for WorkflowManager
// identity.
func NewWorkflowID() string {
	return uuid.NewString()
}

// NewPortID returns an id of the form "port-<16 hex chars>", matching the
// pattern external tooling (storage snapshots, dashboards) expects to parse.
func NewPortID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing means the platform RNG is broken; there is
		// nothing a caller could do with a degraded id, so surface it
		// as loudly as uuid.NewString would.
		panic(fmt.Sprintf("ids: failed to read random bytes: %v", err))
	}
	return "port-" + hex.EncodeToString(buf[:])
}

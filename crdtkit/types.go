// Package crdtkit implements an offline-first replication engine for a
// shared document set. Independent nodes mutate documents without
// coordination; the engine tracks causality with vector clocks, exchanges
// operations through a pluggable peer transport, and reconciles concurrent
// edits through a pluggable conflict resolver.
package crdtkit

import (
	"context"
	"errors"
	"time"

	"github.com/c0deZ3R0/go-crdt-kit/clock"
)

// Payload is a document's structured data. Updates shallow-merge a partial
// payload into the existing one: top-level keys are replaced, nested values
// are not merged recursively.
type Payload map[string]any

// Clone returns a copy of the payload. Top-level entries are copied; values
// are shared, matching the shallow-merge update semantics.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// merge returns a copy of p with every entry of partial written over it.
func (p Payload) merge(partial Payload) Payload {
	out := p.Clone()
	if out == nil {
		out = Payload{}
	}
	for k, v := range partial {
		out[k] = v
	}
	return out
}

// OperationType identifies the kind of document mutation an operation
// carries.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// Document is one replicated document: its payload, the causal fingerprint
// of its last mutation, and a wall-clock modification time. LastModified is
// a tie-break heuristic for conflict resolution only; causal ordering always
// comes from Version.
type Document struct {
	ID           string            `json:"id"`
	Data         Payload           `json:"data"`
	Version      clock.VectorClock `json:"version"`
	LastModified time.Time         `json:"last_modified"`
}

// Clone returns an independent copy of the document.
func (d Document) Clone() Document {
	return Document{
		ID:           d.ID,
		Data:         d.Data.Clone(),
		Version:      d.Version.Clone(),
		LastModified: d.LastModified,
	}
}

// Operation is an immutable, replayable fact describing one document
// mutation. The append-only operation log is the source of truth for
// delta sync.
type Operation struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Type       OperationType     `json:"type"`
	Data       Payload           `json:"data,omitempty"`
	Version    clock.VectorClock `json:"version"`
	Timestamp  time.Time         `json:"timestamp"`
	NodeID     string            `json:"node_id"`
}

// Clone returns an independent copy of the operation.
func (op Operation) Clone() Operation {
	out := op
	out.Data = op.Data.Clone()
	out.Version = op.Version.Clone()
	return out
}

// State is the complete replicated state owned by one engine instance: the
// materialized document map, the append-only operation log, and the node's
// causal knowledge. A State belongs exclusively to one engine; it crosses
// engine boundaries only as the deep copy produced by ExportState.
type State struct {
	NodeID     string              `json:"node_id"`
	Documents  map[string]Document `json:"documents"`
	Operations []Operation         `json:"operations"`
	Clock      clock.VectorClock   `json:"clock"`
	LastSync   time.Time           `json:"last_sync"`
}

// Clone returns a deep-independent copy of the state: maps and slices are
// cloned, never referenced.
func (s State) Clone() State {
	out := State{
		NodeID:     s.NodeID,
		Documents:  make(map[string]Document, len(s.Documents)),
		Operations: make([]Operation, 0, len(s.Operations)),
		Clock:      s.Clock.Clone(),
		LastSync:   s.LastSync,
	}
	for id, doc := range s.Documents {
		out.Documents[id] = doc.Clone()
	}
	for _, op := range s.Operations {
		out.Operations = append(out.Operations, op.Clone())
	}
	return out
}

// Transport is the narrow contract the engine consumes for peer
// communication. Implementations deliver inbound traffic to the host, which
// wires it back through Engine.HandleMessage. Sends are fire-and-forget:
// the engine does not wait for delivery confirmation.
type Transport interface {
	// Send delivers a message to one specific peer.
	Send(peerID string, msg Message) error

	// Broadcast delivers a message to every connected peer.
	Broadcast(msg Message) error

	// Close releases transport resources.
	Close() error
}

// StateStore persists engine state snapshots for hydration across restarts.
// Implementations live in storage/sqlite and storage/boltdb.
type StateStore interface {
	// SaveState persists a snapshot, replacing any prior snapshot for the
	// same node.
	SaveState(ctx context.Context, state State) error

	// LoadState retrieves the snapshot for a node.
	// Returns ErrStateNotFound if the node has no persisted state.
	LoadState(ctx context.Context, nodeID string) (State, error)

	// Close closes the store and releases resources.
	Close() error
}

// ErrStateNotFound is returned by StateStore.LoadState when no snapshot
// exists for the requested node.
var ErrStateNotFound = errors.New("state not found")

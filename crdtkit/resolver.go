package crdtkit

import "github.com/c0deZ3R0/go-crdt-kit/clock"

// Conflict carries the two candidate documents of a concurrent edit. Local
// is the document currently materialized on this node; Remote is the
// candidate built from the incoming operation.
type Conflict struct {
	DocumentID string
	Local      Document
	Remote     Document
}

// ConflictResolver is the Strategy interface for reconciling concurrent
// edits. Resolve must return the document to install as authoritative.
// Returning an error aborts the remainder of the operation batch being
// processed; the engine does not retry or skip-and-continue.
type ConflictResolver interface {
	Resolve(c Conflict) (Document, error)
}

// ResolverFunc adapts a plain function to the ConflictResolver interface.
type ResolverFunc func(c Conflict) (Document, error)

func (f ResolverFunc) Resolve(c Conflict) (Document, error) { return f(c) }

// LWWResolver is the default resolver: last writer wins by LastModified.
// On an exact LastModified tie it keeps the remote candidate.
type LWWResolver struct{}

var _ ConflictResolver = (*LWWResolver)(nil)

func (LWWResolver) Resolve(c Conflict) (Document, error) {
	if c.Local.LastModified.After(c.Remote.LastModified) {
		return c.Local, nil
	}
	return c.Remote, nil
}

// ConflictInfo is handed to the OnConflict callback after every resolution,
// for observability.
type ConflictInfo struct {
	DocumentID    string
	LocalVersion  clock.VectorClock
	RemoteVersion clock.VectorClock
	Resolved      Document
}

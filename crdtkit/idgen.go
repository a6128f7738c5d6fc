package crdtkit

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// IDGenerator mints unique identifiers for operations and OR-Set tags.
// It is an injected capability so tests can supply deterministic sequences.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator is the production IDGenerator, backed by random UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// SequenceGenerator produces "prefix-1", "prefix-2", ... for deterministic
// tests. Safe for concurrent use.
type SequenceGenerator struct {
	Prefix string
	n      atomic.Uint64
}

func (g *SequenceGenerator) NewID() string {
	return fmt.Sprintf("%s-%d", g.Prefix, g.n.Add(1))
}

// TagGenerator mints globally unique OR-Set tags of the form
// nodeID:unixNanos:suffix. The node ID and timestamp make collisions across
// nodes implausible; the random suffix from the wrapped IDGenerator rules
// out collisions between rapid adds on one node.
type TagGenerator struct {
	nodeID string
	ids    IDGenerator
	now    func() time.Time
}

// NewTagGenerator builds a tag generator for the given node. A nil ids falls
// back to UUIDGenerator; a nil now falls back to time.Now.
func NewTagGenerator(nodeID string, ids IDGenerator, now func() time.Time) *TagGenerator {
	if ids == nil {
		ids = UUIDGenerator{}
	}
	if now == nil {
		now = time.Now
	}
	return &TagGenerator{nodeID: nodeID, ids: ids, now: now}
}

// NewTag returns a fresh unique tag.
func (g *TagGenerator) NewTag() string {
	return fmt.Sprintf("%s:%d:%s", g.nodeID, g.now().UnixNano(), g.ids.NewID())
}

// Package clock implements vector clocks for tracking causality between
// replicas in a distributed system. A vector clock can determine whether one
// state happened-before another, or whether the two are concurrent.
//
// All operations are pure: they never mutate their receiver and always return
// fresh values, so clocks can be shared freely across documents and
// operations without defensive copying at every call site.
package clock

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// VectorClock maps a node (replica) ID to its logical counter. Each node
// increments only its own entry; entries for other nodes advance only through
// Merge, which takes the pointwise maximum and therefore never decreases any
// counter.
type VectorClock struct {
	counters map[string]uint64
}

// New returns a clock that has observed the given node at counter zero.
func New(nodeID string) VectorClock {
	return VectorClock{counters: map[string]uint64{nodeID: 0}}
}

// Zero returns an empty clock that has observed no nodes.
func Zero() VectorClock {
	return VectorClock{counters: map[string]uint64{}}
}

// FromMap builds a clock from a map of node IDs to counters.
// The input map is copied to prevent external mutation.
func FromMap(counters map[string]uint64) VectorClock {
	vc := VectorClock{counters: make(map[string]uint64, len(counters))}
	for nodeID, n := range counters {
		vc.counters[nodeID] = n
	}
	return vc
}

// Increment returns a copy of the clock with nodeID's counter advanced by one.
func (vc VectorClock) Increment(nodeID string) VectorClock {
	next := vc.Clone()
	next.counters[nodeID]++
	return next
}

// Merge combines two clocks, taking the maximum counter for every node
// present in either. Merge is commutative, associative and idempotent, which
// makes it safe to apply in any order and any number of times.
func Merge(a, b VectorClock) VectorClock {
	merged := a.Clone()
	for nodeID, n := range b.counters {
		if n > merged.counters[nodeID] {
			merged.counters[nodeID] = n
		}
	}
	return merged
}

// Before reports whether vc strictly happened-before other: every counter in
// vc is <= the corresponding counter in other, and at least one is strictly
// smaller. Equal clocks are not before each other.
func (vc VectorClock) Before(other VectorClock) bool {
	strictlySmaller := false
	for nodeID := range union(vc.counters, other.counters) {
		a, b := vc.counters[nodeID], other.counters[nodeID]
		if a > b {
			return false
		}
		if a < b {
			strictlySmaller = true
		}
	}
	return strictlySmaller
}

// Concurrent reports whether neither clock happened-before the other.
// Two equal clocks are NOT concurrent: they describe the same version, and
// callers must treat that case as "already seen" rather than as a conflict.
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return !vc.Equal(other) && !vc.Before(other) && !other.Before(vc)
}

// Equal reports whether both clocks carry identical counters. Nodes absent
// from one side compare as zero, so {"a":1} equals {"a":1,"b":0}.
func (vc VectorClock) Equal(other VectorClock) bool {
	for nodeID := range union(vc.counters, other.counters) {
		if vc.counters[nodeID] != other.counters[nodeID] {
			return false
		}
	}
	return true
}

// Get returns the counter for nodeID, or zero if the node was never observed.
func (vc VectorClock) Get(nodeID string) uint64 {
	return vc.counters[nodeID]
}

// Counters returns a copy of the internal counter map.
func (vc VectorClock) Counters() map[string]uint64 {
	out := make(map[string]uint64, len(vc.counters))
	for nodeID, n := range vc.counters {
		out[nodeID] = n
	}
	return out
}

// Size returns the number of nodes this clock has observed.
func (vc VectorClock) Size() int {
	return len(vc.counters)
}

// IsZero reports whether the clock has observed no nodes.
func (vc VectorClock) IsZero() bool {
	return len(vc.counters) == 0
}

// Clone returns a deep copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	return FromMap(vc.counters)
}

// String renders the clock as canonical JSON with node IDs in sorted order,
// suitable for logging and for stable comparison in tests.
func (vc VectorClock) String() string {
	if vc.IsZero() {
		return "{}"
	}
	nodeIDs := make([]string, 0, len(vc.counters))
	for nodeID := range vc.counters {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Strings(nodeIDs)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, nodeID := range nodeIDs {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%q:%d", nodeID, vc.counters[nodeID])
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON encodes the clock as a plain JSON object of counters.
func (vc VectorClock) MarshalJSON() ([]byte, error) {
	if vc.counters == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(vc.counters)
}

// UnmarshalJSON decodes a JSON object of counters into the clock.
func (vc *VectorClock) UnmarshalJSON(data []byte) error {
	counters := make(map[string]uint64)
	if err := json.Unmarshal(data, &counters); err != nil {
		return fmt.Errorf("failed to unmarshal vector clock: %w", err)
	}
	for nodeID := range counters {
		if nodeID == "" {
			return fmt.Errorf("vector clock contains empty node ID")
		}
	}
	vc.counters = counters
	return nil
}

// union collects the key set of both counter maps.
func union(a, b map[string]uint64) map[string]struct{} {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	return keys
}

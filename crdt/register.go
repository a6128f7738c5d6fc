package crdt

import "time"

// LWWRegister is a last-writer-wins register: a single value stamped with the
// wall-clock time and node ID of its last write. Merge keeps the value with
// the higher timestamp; exact timestamp ties are broken by comparing node IDs
// as strings, lexicographically greater wins. The tie-break makes the merge
// total and deterministic, so replicas converge identically even when clock
// skew produces identical timestamps.
type LWWRegister[T any] struct {
	Value     T         `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	NodeID    string    `json:"node_id"`
}

// NewLWWRegister returns a register holding the given initial value.
func NewLWWRegister[T any](value T, ts time.Time, nodeID string) LWWRegister[T] {
	return LWWRegister[T]{Value: value, Timestamp: ts, NodeID: nodeID}
}

// Set returns a new register holding the given value and write stamp.
// The receiver is unchanged.
func (r LWWRegister[T]) Set(value T, ts time.Time, nodeID string) LWWRegister[T] {
	return LWWRegister[T]{Value: value, Timestamp: ts, NodeID: nodeID}
}

// Merge returns the winning register of the two replicas.
func (r LWWRegister[T]) Merge(other LWWRegister[T]) LWWRegister[T] {
	switch {
	case other.Timestamp.After(r.Timestamp):
		return other
	case r.Timestamp.After(other.Timestamp):
		return r
	case other.NodeID > r.NodeID:
		return other
	default:
		return r
	}
}

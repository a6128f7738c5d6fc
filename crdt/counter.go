package crdt

// GCounter is a grow-only counter: a map from node ID to that node's local
// contribution. A node only ever increments its own entry; Merge takes the
// pointwise maximum, so no contribution can ever decrease.
type GCounter map[string]uint64

// NewGCounter returns an empty grow-only counter.
func NewGCounter() GCounter {
	return GCounter{}
}

// Increment returns a copy of the counter with nodeID's contribution
// advanced by one.
func (c GCounter) Increment(nodeID string) GCounter {
	return c.IncrementBy(nodeID, 1)
}

// IncrementBy returns a copy of the counter with nodeID's contribution
// advanced by delta.
func (c GCounter) IncrementBy(nodeID string, delta uint64) GCounter {
	next := c.clone()
	next[nodeID] += delta
	return next
}

// Merge combines two replicas, keeping the maximum contribution per node.
func (c GCounter) Merge(other GCounter) GCounter {
	merged := c.clone()
	for nodeID, n := range other {
		if n > merged[nodeID] {
			merged[nodeID] = n
		}
	}
	return merged
}

// Value returns the counter total: the sum of all node contributions.
func (c GCounter) Value() uint64 {
	var sum uint64
	for _, n := range c {
		sum += n
	}
	return sum
}

// Equal reports whether both replicas carry identical contributions.
// Missing entries compare as zero.
func (c GCounter) Equal(other GCounter) bool {
	for nodeID, n := range c {
		if other[nodeID] != n {
			return false
		}
	}
	for nodeID, n := range other {
		if c[nodeID] != n {
			return false
		}
	}
	return true
}

func (c GCounter) clone() GCounter {
	next := make(GCounter, len(c))
	for nodeID, n := range c {
		next[nodeID] = n
	}
	return next
}

// PNCounter supports both increments and decrements by pairing two grow-only
// counters: one for additions and one for subtractions.
type PNCounter struct {
	Pos GCounter `json:"pos"`
	Neg GCounter `json:"neg"`
}

// NewPNCounter returns a zero-valued PN counter.
func NewPNCounter() PNCounter {
	return PNCounter{Pos: NewGCounter(), Neg: NewGCounter()}
}

// Increment returns a copy with nodeID's positive contribution advanced.
func (c PNCounter) Increment(nodeID string) PNCounter {
	return PNCounter{Pos: c.Pos.Increment(nodeID), Neg: c.Neg.clone()}
}

// Decrement returns a copy with nodeID's negative contribution advanced.
func (c PNCounter) Decrement(nodeID string) PNCounter {
	return PNCounter{Pos: c.Pos.clone(), Neg: c.Neg.Increment(nodeID)}
}

// Merge combines two replicas by merging each side independently.
func (c PNCounter) Merge(other PNCounter) PNCounter {
	return PNCounter{Pos: c.Pos.Merge(other.Pos), Neg: c.Neg.Merge(other.Neg)}
}

// Value returns the counter total: positive sum minus negative sum.
func (c PNCounter) Value() int64 {
	return int64(c.Pos.Value()) - int64(c.Neg.Value())
}

// Equal reports whether both replicas carry identical contributions.
func (c PNCounter) Equal(other PNCounter) bool {
	return c.Pos.Equal(other.Pos) && c.Neg.Equal(other.Neg)
}

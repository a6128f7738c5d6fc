package crdt

// TwoPhaseSet pairs a grow-only set of additions with a grow-only set of
// removals (tombstones). An element is visible iff it was added and never
// removed. Removal is PERMANENT: once tombstoned, an element can never be
// re-added, and Add for a tombstoned element is a no-op. Use ORSet when
// re-adding removed elements must work.
type TwoPhaseSet[T comparable] struct {
	Added   GSet[T] `json:"added"`
	Removed GSet[T] `json:"removed"`
}

// NewTwoPhaseSet returns an empty two-phase set.
func NewTwoPhaseSet[T comparable]() TwoPhaseSet[T] {
	return TwoPhaseSet[T]{Added: NewGSet[T](), Removed: NewGSet[T]()}
}

// Add returns a copy of the set containing element. Adding an element that
// has already been removed is a no-op: the tombstone wins forever.
func (s TwoPhaseSet[T]) Add(element T) TwoPhaseSet[T] {
	if s.Removed.Contains(element) {
		return s
	}
	return TwoPhaseSet[T]{Added: s.Added.Add(element), Removed: s.Removed}
}

// Remove returns a copy of the set with element tombstoned. Removing an
// element that was never added is a no-op, per the classic 2P-Set rule that
// only observed elements can be removed.
func (s TwoPhaseSet[T]) Remove(element T) TwoPhaseSet[T] {
	if !s.Added.Contains(element) {
		return s
	}
	return TwoPhaseSet[T]{Added: s.Added, Removed: s.Removed.Add(element)}
}

// Merge unions each side independently. A tombstone from either replica
// permanently hides the element on the merged result.
func (s TwoPhaseSet[T]) Merge(other TwoPhaseSet[T]) TwoPhaseSet[T] {
	return TwoPhaseSet[T]{
		Added:   s.Added.Merge(other.Added),
		Removed: s.Removed.Merge(other.Removed),
	}
}

// Contains reports whether element was added and not removed.
func (s TwoPhaseSet[T]) Contains(element T) bool {
	return s.Added.Contains(element) && !s.Removed.Contains(element)
}

// Elements returns the visible members in unspecified order.
func (s TwoPhaseSet[T]) Elements() []T {
	out := make([]T, 0, len(s.Added))
	for element := range s.Added {
		if !s.Removed.Contains(element) {
			out = append(out, element)
		}
	}
	return out
}

// Equal reports whether both replicas expose the same visible members and
// carry the same tombstones.
func (s TwoPhaseSet[T]) Equal(other TwoPhaseSet[T]) bool {
	return s.Added.Equal(other.Added) && s.Removed.Equal(other.Removed)
}

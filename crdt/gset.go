package crdt

// GSet is a grow-only set: elements can be added but never removed.
// Merge is plain set union.
type GSet[T comparable] map[T]struct{}

// NewGSet returns an empty grow-only set.
func NewGSet[T comparable]() GSet[T] {
	return GSet[T]{}
}

// Add returns a copy of the set containing element.
func (s GSet[T]) Add(element T) GSet[T] {
	next := s.clone()
	next[element] = struct{}{}
	return next
}

// Merge returns the union of both replicas.
func (s GSet[T]) Merge(other GSet[T]) GSet[T] {
	merged := s.clone()
	for element := range other {
		merged[element] = struct{}{}
	}
	return merged
}

// Contains reports whether element is in the set.
func (s GSet[T]) Contains(element T) bool {
	_, ok := s[element]
	return ok
}

// Elements returns the set members in unspecified order.
func (s GSet[T]) Elements() []T {
	out := make([]T, 0, len(s))
	for element := range s {
		out = append(out, element)
	}
	return out
}

// Equal reports whether both replicas hold the same members.
func (s GSet[T]) Equal(other GSet[T]) bool {
	if len(s) != len(other) {
		return false
	}
	for element := range s {
		if _, ok := other[element]; !ok {
			return false
		}
	}
	return true
}

func (s GSet[T]) clone() GSet[T] {
	next := make(GSet[T], len(s))
	for element := range s {
		next[element] = struct{}{}
	}
	return next
}

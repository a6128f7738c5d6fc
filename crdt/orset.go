package crdt

// TagSet is the set of unique tags attached to one element of an ORSet.
type TagSet map[string]struct{}

// ORSet is an observed-remove set. Every add mints a globally unique tag for
// the element; a remove tombstones only the tags the removing replica has
// observed. An element is visible iff it has at least one live (added,
// un-tombstoned) tag. Because a fresh add carries a fresh tag that no prior
// tombstone mentions, elements can be re-added after removal, which is the
// property TwoPhaseSet lacks.
//
// Tag uniqueness is the caller's responsibility; collisions across nodes
// would let one node's tombstone cancel another node's add. Engines mint tags
// from node ID, timestamp and a random suffix via their injected IDGenerator.
type ORSet[T comparable] struct {
	Adds       map[T]TagSet `json:"adds"`
	Tombstones map[T]TagSet `json:"tombstones"`
}

// NewORSet returns an empty observed-remove set.
func NewORSet[T comparable]() ORSet[T] {
	return ORSet[T]{Adds: map[T]TagSet{}, Tombstones: map[T]TagSet{}}
}

// Add returns a copy of the set with element carrying the given fresh tag.
func (s ORSet[T]) Add(element T, tag string) ORSet[T] {
	next := s.clone()
	if next.Adds[element] == nil {
		next.Adds[element] = TagSet{}
	}
	next.Adds[element][tag] = struct{}{}
	return next
}

// Remove returns a copy of the set with every currently observed tag of
// element tombstoned. Tags added elsewhere but not yet merged in are
// unaffected, which is exactly the observed-remove guarantee.
func (s ORSet[T]) Remove(element T) ORSet[T] {
	tags, ok := s.Adds[element]
	if !ok {
		return s
	}
	next := s.clone()
	if next.Tombstones[element] == nil {
		next.Tombstones[element] = TagSet{}
	}
	for tag := range tags {
		next.Tombstones[element][tag] = struct{}{}
	}
	return next
}

// Merge unions the add-tag maps and the tombstone maps of both replicas.
// Liveness is decided at read time, so the union form keeps Merge
// commutative, associative and idempotent.
func (s ORSet[T]) Merge(other ORSet[T]) ORSet[T] {
	merged := s.clone()
	for element, tags := range other.Adds {
		if merged.Adds[element] == nil {
			merged.Adds[element] = TagSet{}
		}
		for tag := range tags {
			merged.Adds[element][tag] = struct{}{}
		}
	}
	for element, tags := range other.Tombstones {
		if merged.Tombstones[element] == nil {
			merged.Tombstones[element] = TagSet{}
		}
		for tag := range tags {
			merged.Tombstones[element][tag] = struct{}{}
		}
	}
	return merged
}

// Contains reports whether element has at least one live tag.
func (s ORSet[T]) Contains(element T) bool {
	tombstoned := s.Tombstones[element]
	for tag := range s.Adds[element] {
		if _, dead := tombstoned[tag]; !dead {
			return true
		}
	}
	return false
}

// Elements returns the visible members in unspecified order.
func (s ORSet[T]) Elements() []T {
	out := make([]T, 0, len(s.Adds))
	for element := range s.Adds {
		if s.Contains(element) {
			out = append(out, element)
		}
	}
	return out
}

// Equal reports whether both replicas carry identical tag and tombstone maps.
func (s ORSet[T]) Equal(other ORSet[T]) bool {
	return tagMapsEqual(s.Adds, other.Adds) && tagMapsEqual(s.Tombstones, other.Tombstones)
}

func tagMapsEqual[T comparable](a, b map[T]TagSet) bool {
	if len(a) != len(b) {
		return false
	}
	for element, tags := range a {
		otherTags, ok := b[element]
		if !ok || len(otherTags) != len(tags) {
			return false
		}
		for tag := range tags {
			if _, ok := otherTags[tag]; !ok {
				return false
			}
		}
	}
	return true
}

func (s ORSet[T]) clone() ORSet[T] {
	next := ORSet[T]{
		Adds:       make(map[T]TagSet, len(s.Adds)),
		Tombstones: make(map[T]TagSet, len(s.Tombstones)),
	}
	for element, tags := range s.Adds {
		copied := make(TagSet, len(tags))
		for tag := range tags {
			copied[tag] = struct{}{}
		}
		next.Adds[element] = copied
	}
	for element, tags := range s.Tombstones {
		copied := make(TagSet, len(tags))
		for tag := range tags {
			copied[tag] = struct{}{}
		}
		next.Tombstones[element] = copied
	}
	return next
}

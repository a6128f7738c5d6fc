package crdt

import "time"

// LWWElementSet tracks, per element, the latest add timestamp and the latest
// remove timestamp. An element is visible iff its latest add is strictly
// after its latest remove, so a remove wins an exact timestamp tie. Unlike
// TwoPhaseSet, elements can be re-added: a later add simply outbids the
// standing remove.
type LWWElementSet[T comparable] struct {
	Adds    map[T]time.Time `json:"adds"`
	Removes map[T]time.Time `json:"removes"`
}

// NewLWWElementSet returns an empty LWW element set.
func NewLWWElementSet[T comparable]() LWWElementSet[T] {
	return LWWElementSet[T]{Adds: map[T]time.Time{}, Removes: map[T]time.Time{}}
}

// Add returns a copy of the set recording an add of element at ts.
// Earlier timestamps than the one already recorded are kept out, matching
// the pointwise-max merge rule.
func (s LWWElementSet[T]) Add(element T, ts time.Time) LWWElementSet[T] {
	next := s.clone()
	if existing, ok := next.Adds[element]; !ok || ts.After(existing) {
		next.Adds[element] = ts
	}
	return next
}

// Remove returns a copy of the set recording a remove of element at ts.
func (s LWWElementSet[T]) Remove(element T, ts time.Time) LWWElementSet[T] {
	next := s.clone()
	if existing, ok := next.Removes[element]; !ok || ts.After(existing) {
		next.Removes[element] = ts
	}
	return next
}

// Merge takes the pointwise maximum of both timestamp maps.
func (s LWWElementSet[T]) Merge(other LWWElementSet[T]) LWWElementSet[T] {
	merged := s.clone()
	for element, ts := range other.Adds {
		if existing, ok := merged.Adds[element]; !ok || ts.After(existing) {
			merged.Adds[element] = ts
		}
	}
	for element, ts := range other.Removes {
		if existing, ok := merged.Removes[element]; !ok || ts.After(existing) {
			merged.Removes[element] = ts
		}
	}
	return merged
}

// Contains reports whether element's latest add strictly beats its latest
// remove.
func (s LWWElementSet[T]) Contains(element T) bool {
	added, ok := s.Adds[element]
	if !ok {
		return false
	}
	removed, ok := s.Removes[element]
	if !ok {
		return true
	}
	return added.After(removed)
}

// Elements returns the visible members in unspecified order.
func (s LWWElementSet[T]) Elements() []T {
	out := make([]T, 0, len(s.Adds))
	for element := range s.Adds {
		if s.Contains(element) {
			out = append(out, element)
		}
	}
	return out
}

// Equal reports whether both replicas carry identical timestamp maps.
func (s LWWElementSet[T]) Equal(other LWWElementSet[T]) bool {
	if len(s.Adds) != len(other.Adds) || len(s.Removes) != len(other.Removes) {
		return false
	}
	for element, ts := range s.Adds {
		if !other.Adds[element].Equal(ts) {
			return false
		}
	}
	for element, ts := range s.Removes {
		if !other.Removes[element].Equal(ts) {
			return false
		}
	}
	return true
}

func (s LWWElementSet[T]) clone() LWWElementSet[T] {
	next := LWWElementSet[T]{
		Adds:    make(map[T]time.Time, len(s.Adds)),
		Removes: make(map[T]time.Time, len(s.Removes)),
	}
	for element, ts := range s.Adds {
		next.Adds[element] = ts
	}
	for element, ts := range s.Removes {
		next.Removes[element] = ts
	}
	return next
}

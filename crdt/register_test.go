package crdt

import (
	"testing"
	"time"
)

func TestLWWRegisterMergeKeepsLaterWrite(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	older := NewLWWRegister("milk", base, "node-a")
	newer := older.Set("bread", base.Add(time.Second), "node-b")

	if got := older.Merge(newer).Value; got != "bread" {
		t.Errorf("Expected later write to win, got %q", got)
	}
	if got := newer.Merge(older).Value; got != "bread" {
		t.Errorf("Merge not commutative, got %q", got)
	}
}

func TestLWWRegisterTieBreakByNodeID(t *testing.T) {
	// Exact timestamp ties must resolve identically on every replica:
	// the lexicographically greater node ID wins.
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NewLWWRegister("from-a", ts, "node-a")
	b := NewLWWRegister("from-b", ts, "node-b")

	if got := a.Merge(b).Value; got != "from-b" {
		t.Errorf("Expected node-b to win the tie, got %q", got)
	}
	if got := b.Merge(a).Value; got != "from-b" {
		t.Errorf("Tie-break not symmetric, got %q", got)
	}
}

func TestLWWRegisterIdempotent(t *testing.T) {
	r := NewLWWRegister(42, time.Now(), "node-a")

	merged := r.Merge(r)
	if merged.Value != 42 || merged.NodeID != "node-a" {
		t.Error("Merging a register with itself changed it")
	}
}

func TestLWWRegisterAssociative(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	a := NewLWWRegister("a", base, "node-a")
	b := NewLWWRegister("b", base.Add(time.Second), "node-b")
	c := NewLWWRegister("c", base.Add(2*time.Second), "node-c")

	left := a.Merge(b).Merge(c)
	right := a.Merge(b.Merge(c))
	if left.Value != right.Value || left.NodeID != right.NodeID {
		t.Errorf("Merge not associative: %v vs %v", left, right)
	}
}

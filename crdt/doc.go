// Package crdt provides a family of conflict-free replicated data types:
// grow-only and PN counters, last-writer-wins registers, and four set
// variants with different removal semantics.
//
// Every type follows the same pure-value convention: constructors return
// fresh values, mutators return a new value and never touch their receiver,
// and Merge combines two replicas. All Merge implementations are commutative,
// associative and idempotent, so replicas converge regardless of delivery
// order or duplication.
package crdt

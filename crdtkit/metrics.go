package crdtkit

import "time"

// MetricsCollector provides hooks for collecting replication metrics
type MetricsCollector interface {
	// RecordOperations records how many remote operations were applied and
	// how many were dropped as causally stale
	RecordOperations(applied, ignored int)

	// RecordConflicts records the number of conflicts resolved
	RecordConflicts(resolved int)

	// RecordSyncDuration records how long a sync phase took
	RecordSyncDuration(operation string, duration time.Duration)

	// RecordSyncErrors records errors by operation and type
	RecordSyncErrors(operation string, errorType string)
}

// NoopMetrics is a default implementation that does nothing
type NoopMetrics struct{}

func (NoopMetrics) RecordOperations(applied, ignored int)                       {}
func (NoopMetrics) RecordConflicts(resolved int)                                {}
func (NoopMetrics) RecordSyncDuration(operation string, duration time.Duration) {}
func (NoopMetrics) RecordSyncErrors(operation string, errorType string)         {}

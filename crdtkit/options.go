package crdtkit

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring an Engine via New.
type Option func(*Engine)

// WithTransport attaches a peer transport. Without one the engine still
// works fully locally: generated operations accumulate in the pending buffer
// until a transport is attached and the node goes online.
func WithTransport(t Transport) Option {
	return func(e *Engine) { e.transport = t }
}

// WithConflictResolver replaces the default last-writer-wins resolver.
func WithConflictResolver(r ConflictResolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithIDGenerator replaces the UUID-backed ID generator, letting tests
// supply deterministic operation IDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithWallClock replaces the wall-clock source used for LastModified and
// operation timestamps, letting tests control time.
func WithWallClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the structured logger. Defaults to the package-level
// logging default scoped to the engine component.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics sets the metrics collector. Defaults to NoopMetrics.
func WithMetrics(m MetricsCollector) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithOnSync registers a callback invoked with the full document list after
// every successfully processed batch of remote operations.
func WithOnSync(fn func(docs []Document)) Option {
	return func(e *Engine) { e.onSync = fn }
}

// WithOnConflict registers a callback invoked after every conflict
// resolution, for observability.
func WithOnConflict(fn func(info ConflictInfo)) Option {
	return func(e *Engine) { e.onConflict = fn }
}

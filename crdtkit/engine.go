package crdtkit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c0deZ3R0/go-crdt-kit/clock"
	syncErrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

// Engine owns one node's replicated document set: the materialized document
// map, the append-only operation log, and the node's vector clock. Local
// mutations are applied optimistically and handed to the transport; remote
// operations are merged by causal order, with concurrent edits routed
// through the conflict resolver.
//
// Engines are explicitly constructed and dependency-injected; hold the
// instance and pass it where it is needed. All public methods serialize on
// an internal mutex, so a threaded host may share one engine across
// goroutines without extra locking. Conflict resolvers and callbacks run
// outside or inside that lock as documented per method and must not call
// back into the engine.
type Engine struct {
	mu    sync.RWMutex
	state State

	resolver   ConflictResolver
	transport  Transport
	ids        IDGenerator
	now        func() time.Time
	onSync     func([]Document)
	onConflict func(ConflictInfo)

	online  bool
	pending []Operation

	logger  *slog.Logger
	metrics MetricsCollector
}

// New constructs an engine for the given node ID.
// The engine starts online with an empty document set.
func New(nodeID string, opts ...Option) (*Engine, error) {
	if nodeID == "" {
		return nil, syncErrors.NewValidationError(syncErrors.OpCreate,
			fmt.Errorf("node ID cannot be empty"))
	}

	e := &Engine{
		state: State{
			NodeID:    nodeID,
			Documents: make(map[string]Document),
			Clock:     clock.New(nodeID),
		},
		resolver: LWWResolver{},
		ids:      UUIDGenerator{},
		now:      time.Now,
		online:   true,
		metrics:  NoopMetrics{},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = logging.Default().WithComponent("engine").WithNode(nodeID).Logger
	}

	e.logger.Info("Replication engine created", "node_id", nodeID)
	return e, nil
}

// NodeID returns the engine's node identifier.
func (e *Engine) NodeID() string {
	return e.state.NodeID
}

// Clock returns a copy of the engine's current vector clock.
func (e *Engine) Clock() clock.VectorClock {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clock.Clone()
}

// Online reports whether operations are broadcast immediately or buffered.
func (e *Engine) Online() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

// Create builds a new document with the given ID and payload, applies it
// locally and hands the matching operation to the transport.
func (e *Engine) Create(id string, data Payload) (Document, error) {
	if id == "" {
		return Document{}, syncErrors.NewValidationError(syncErrors.OpCreate,
			fmt.Errorf("document ID cannot be empty"))
	}
	if data == nil {
		return Document{}, syncErrors.NewValidationError(syncErrors.OpCreate,
			fmt.Errorf("document payload cannot be nil"))
	}

	e.mu.Lock()
	now := e.now()
	e.state.Clock = e.state.Clock.Increment(e.state.NodeID)

	doc := Document{
		ID:           id,
		Data:         data.Clone(),
		Version:      e.state.Clock.Clone(),
		LastModified: now,
	}
	op := Operation{
		ID:         e.ids.NewID(),
		DocumentID: id,
		Type:       OpCreate,
		Data:       data.Clone(),
		Version:    e.state.Clock.Clone(),
		Timestamp:  now,
		NodeID:     e.state.NodeID,
	}

	e.state.Documents[id] = doc
	outbound := e.recordOperation(op)
	e.mu.Unlock()

	e.logger.Debug("Document created",
		"document_id", id,
		"version", doc.Version.String())

	e.dispatch(outbound)
	return doc.Clone(), nil
}

// Update shallow-merges partial into an existing document's payload, bumps
// the clock and version, and hands the matching operation to the transport.
// Returns false if the document is unknown locally.
func (e *Engine) Update(id string, partial Payload) (Document, bool) {
	e.mu.Lock()
	existing, ok := e.state.Documents[id]
	if !ok {
		e.mu.Unlock()
		e.logger.Debug("Update ignored for unknown document", "document_id", id)
		return Document{}, false
	}

	now := e.now()
	e.state.Clock = e.state.Clock.Increment(e.state.NodeID)

	doc := Document{
		ID:           id,
		Data:         existing.Data.merge(partial),
		Version:      e.state.Clock.Clone(),
		LastModified: now,
	}
	op := Operation{
		ID:         e.ids.NewID(),
		DocumentID: id,
		Type:       OpUpdate,
		Data:       partial.Clone(),
		Version:    e.state.Clock.Clone(),
		Timestamp:  now,
		NodeID:     e.state.NodeID,
	}

	e.state.Documents[id] = doc
	outbound := e.recordOperation(op)
	e.mu.Unlock()

	e.logger.Debug("Document updated",
		"document_id", id,
		"version", doc.Version.String())

	e.dispatch(outbound)
	return doc.Clone(), true
}

// Delete removes a document. The clock is still bumped and a delete
// operation appended, so remote replicas observe the deletion even though
// the local copy is gone. Returns false if the document is unknown.
func (e *Engine) Delete(id string) bool {
	e.mu.Lock()
	if _, ok := e.state.Documents[id]; !ok {
		e.mu.Unlock()
		e.logger.Debug("Delete ignored for unknown document", "document_id", id)
		return false
	}

	now := e.now()
	e.state.Clock = e.state.Clock.Increment(e.state.NodeID)

	op := Operation{
		ID:         e.ids.NewID(),
		DocumentID: id,
		Type:       OpDelete,
		Version:    e.state.Clock.Clone(),
		Timestamp:  now,
		NodeID:     e.state.NodeID,
	}

	delete(e.state.Documents, id)
	outbound := e.recordOperation(op)
	e.mu.Unlock()

	e.logger.Debug("Document deleted",
		"document_id", id,
		"version", op.Version.String())

	e.dispatch(outbound)
	return true
}

// Get returns a snapshot of one document.
func (e *Engine) Get(id string) (Document, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	doc, ok := e.state.Documents[id]
	if !ok {
		return Document{}, false
	}
	return doc.Clone(), true
}

// GetAll returns snapshots of every document, sorted by ID for
// deterministic iteration.
func (e *Engine) GetAll() []Document {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() []Document {
	docs := make([]Document, 0, len(e.state.Documents))
	for _, doc := range e.state.Documents {
		docs = append(docs, doc.Clone())
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs
}

// ReceiveOperations applies a batch of remote operations in the order given.
// Duplicate or causally stale operations are dropped silently after still
// advancing the engine's clock. A failing conflict resolver aborts the
// remainder of the batch and its error propagates to the caller;
// already-applied operations stay applied.
//
// On success the OnSync callback fires with the full document list.
func (e *Engine) ReceiveOperations(ops []Operation) error {
	start := time.Now()
	applied, ignored := 0, 0
	var conflicts []ConflictInfo

	e.mu.Lock()
	for i, op := range ops {
		didApply, info, err := e.applyRemoteLocked(op)
		if err != nil {
			e.mu.Unlock()
			e.metrics.RecordSyncErrors("receive", "resolver_failure")
			e.logger.Error("Batch aborted by conflict resolver",
				"document_id", op.DocumentID,
				"applied", i,
				"remaining", len(ops)-i,
				"error", err)
			return err
		}
		if didApply {
			applied++
		} else {
			ignored++
		}
		if info != nil {
			conflicts = append(conflicts, *info)
		}
	}
	if applied > 0 {
		e.state.LastSync = e.now()
	}
	docs := e.snapshotLocked()
	e.mu.Unlock()

	e.metrics.RecordOperations(applied, ignored)
	e.metrics.RecordConflicts(len(conflicts))
	e.metrics.RecordSyncDuration("receive", time.Since(start))
	e.logger.Debug("Remote operations processed",
		"received", len(ops),
		"applied", applied,
		"ignored", ignored,
		"conflicts", len(conflicts))

	if e.onConflict != nil {
		for _, info := range conflicts {
			e.onConflict(info)
		}
	}
	if e.onSync != nil {
		e.onSync(docs)
	}
	return nil
}

// applyRemoteLocked merges one remote operation into the document map.
// Regardless of the branch taken, the engine's clock is merged with the
// operation's version so causal knowledge advances monotonically even when
// the operation itself is dropped as stale.
func (e *Engine) applyRemoteLocked(op Operation) (applied bool, info *ConflictInfo, err error) {
	defer func() {
		e.state.Clock = clock.Merge(e.state.Clock, op.Version)
	}()

	existing, exists := e.state.Documents[op.DocumentID]

	switch op.Type {
	case OpCreate:
		remote := Document{
			ID:           op.DocumentID,
			Data:         op.Data.Clone(),
			Version:      op.Version.Clone(),
			LastModified: op.Timestamp,
		}
		if !exists || existing.Version.Before(op.Version) {
			e.state.Documents[op.DocumentID] = remote
			return true, nil, nil
		}
		if existing.Version.Concurrent(op.Version) {
			info, err = e.resolveLocked(existing, remote)
			return err == nil, info, err
		}
		// Stale or duplicate create; equal clocks mean "same version",
		// never a conflict.
		return false, nil, nil

	case OpUpdate:
		if !exists {
			return false, nil, nil
		}
		if existing.Version.Before(op.Version) {
			e.state.Documents[op.DocumentID] = Document{
				ID:           op.DocumentID,
				Data:         existing.Data.merge(op.Data),
				Version:      op.Version.Clone(),
				LastModified: op.Timestamp,
			}
			return true, nil, nil
		}
		if existing.Version.Concurrent(op.Version) {
			candidate := Document{
				ID:           op.DocumentID,
				Data:         existing.Data.merge(op.Data),
				Version:      op.Version.Clone(),
				LastModified: op.Timestamp,
			}
			info, err = e.resolveLocked(existing, candidate)
			return err == nil, info, err
		}
		return false, nil, nil

	case OpDelete:
		if !exists {
			return false, nil, nil
		}
		// A delete wins over anything it is not strictly older than.
		if op.Version.Before(existing.Version) {
			return false, nil, nil
		}
		delete(e.state.Documents, op.DocumentID)
		return true, nil, nil

	default:
		// Unsupported operation types fall through with no effect beyond
		// the clock merge.
		e.logger.Warn("Ignoring operation with unsupported type",
			"type", string(op.Type),
			"document_id", op.DocumentID)
		return false, nil, nil
	}
}

// resolveLocked routes a concurrent edit through the conflict resolver and
// installs its output as the authoritative document.
func (e *Engine) resolveLocked(local, remote Document) (*ConflictInfo, error) {
	resolved, err := e.resolver.Resolve(Conflict{
		DocumentID: local.ID,
		Local:      local,
		Remote:     remote,
	})
	if err != nil {
		return nil, syncErrors.NewResolverError(syncErrors.OpResolve, err)
	}

	e.state.Documents[local.ID] = resolved.Clone()

	e.logger.Debug("Conflict resolved",
		"document_id", local.ID,
		"local_version", local.Version.String(),
		"remote_version", remote.Version.String())

	return &ConflictInfo{
		DocumentID:    local.ID,
		LocalVersion:  local.Version.Clone(),
		RemoteVersion: remote.Version.Clone(),
		Resolved:      resolved.Clone(),
	}, nil
}

// recordOperation appends op to the log and returns the message to send, or
// nil when the engine is offline or has no transport and the operation was
// buffered instead. Callers must hold e.mu.
func (e *Engine) recordOperation(op Operation) *Message {
	e.state.Operations = append(e.state.Operations, op)

	if e.online && e.transport != nil {
		return &Message{Type: MessageSyncOperation, Operations: []Operation{op.Clone()}}
	}

	e.pending = append(e.pending, op)
	return nil
}

// dispatch broadcasts an outbound message fire-and-forget. Transport errors
// are logged, never returned: delivery retries are the transport's business.
func (e *Engine) dispatch(msg *Message) {
	if msg == nil {
		return
	}
	e.mu.RLock()
	t := e.transport
	e.mu.RUnlock()
	if t == nil {
		return
	}
	if err := t.Broadcast(*msg); err != nil {
		e.metrics.RecordSyncErrors("broadcast", "transport_failure")
		e.logger.Warn("Broadcast failed, peers will catch up via sync request",
			"type", string(msg.Type),
			"operations", len(msg.Operations),
			"error", err)
	}
}

// SetOffline buffers subsequently generated operations instead of
// broadcasting them.
func (e *Engine) SetOffline() {
	e.mu.Lock()
	e.online = false
	e.mu.Unlock()
	e.logger.Info("Engine went offline")
}

// SetOnline resumes broadcasting and flushes every operation buffered while
// offline as a single batch.
func (e *Engine) SetOnline() {
	e.mu.Lock()
	e.online = true
	var flush *Message
	if len(e.pending) > 0 && e.transport != nil {
		ops := make([]Operation, 0, len(e.pending))
		for _, op := range e.pending {
			ops = append(ops, op.Clone())
		}
		e.pending = nil
		flush = &Message{Type: MessageSyncOperations, Operations: ops}
	}
	e.mu.Unlock()

	if flush != nil {
		e.logger.Info("Engine back online, flushing buffered operations",
			"operations", len(flush.Operations))
	} else {
		e.logger.Info("Engine back online")
	}
	e.dispatch(flush)
}

// SetTransport attaches or replaces the engine's transport. Passing nil
// detaches it; subsequent local operations are buffered as if offline until
// a transport is attached again.
func (e *Engine) SetTransport(t Transport) {
	e.mu.Lock()
	e.transport = t
	e.mu.Unlock()
}

// RequestSync broadcasts a sync request carrying this node's vector clock,
// asking peers for operations it has missed.
func (e *Engine) RequestSync() error {
	e.mu.RLock()
	msg := Message{
		Type:     MessageSyncRequest,
		Clock:    e.state.Clock.Counters(),
		LastSync: e.state.LastSync.UnixMilli(),
	}
	t := e.transport
	e.mu.RUnlock()

	e.logger.Debug("Requesting sync from peers", "clock", clock.FromMap(msg.Clock).String())

	if t == nil {
		return syncErrors.New(syncErrors.OpSyncRequest,
			fmt.Errorf("no transport attached"))
	}
	if err := t.Broadcast(msg); err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpSyncRequest, err)
	}
	return nil
}

// HandleSyncRequest answers a peer's sync request: it scans the operation
// log and sends every operation the peer's clock does not already subsume.
// The filter is conservative and may resend operations the peer has in fact
// seen; reapplying them is a harmless no-op on the peer. A response is sent
// even when empty, so a fully caught-up peer learns it is caught up.
func (e *Engine) HandleSyncRequest(peerID string, remoteClock clock.VectorClock) error {
	e.mu.RLock()
	missing := make([]Operation, 0)
	for _, op := range e.state.Operations {
		if op.Version.Before(remoteClock) || op.Version.Equal(remoteClock) {
			continue
		}
		missing = append(missing, op.Clone())
	}
	t := e.transport
	e.mu.RUnlock()

	e.logger.Debug("Answering sync request",
		"peer_id", peerID,
		"operations", len(missing))

	if t == nil {
		return syncErrors.New(syncErrors.OpSyncRequest,
			fmt.Errorf("no transport attached"))
	}
	msg := Message{Type: MessageSyncResponse, Operations: missing}
	if err := t.Send(peerID, msg); err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpSyncRequest, err)
	}
	return nil
}

// HandleMessage is the inbound dispatch hosts wire to their transport's
// receive side. Operation-bearing messages feed ReceiveOperations; sync
// requests feed HandleSyncRequest.
func (e *Engine) HandleMessage(peerID string, msg Message) error {
	switch msg.Type {
	case MessageSyncOperation, MessageSyncOperations, MessageSyncResponse:
		return e.ReceiveOperations(msg.Operations)
	case MessageSyncRequest:
		return e.HandleSyncRequest(peerID, clock.FromMap(msg.Clock))
	default:
		e.logger.Warn("Ignoring message with unknown type",
			"peer_id", peerID,
			"type", string(msg.Type))
		return nil
	}
}

// ExportState returns a deep-independent copy of the engine's state,
// suitable for serialization to a StateStore.
func (e *Engine) ExportState() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state.Clone()
}

// ImportState replaces the engine's state wholesale with a cloned copy of
// the supplied state.
func (e *Engine) ImportState(state State) error {
	if state.NodeID == "" {
		return syncErrors.NewValidationError(syncErrors.OpLoad,
			fmt.Errorf("state has no node ID"))
	}

	e.mu.Lock()
	e.state = state.Clone()
	if e.state.Documents == nil {
		e.state.Documents = make(map[string]Document)
	}
	e.mu.Unlock()

	e.logger.Info("State imported",
		"node_id", state.NodeID,
		"documents", len(state.Documents),
		"operations", len(state.Operations))
	return nil
}

// Persist saves the engine's current state to a StateStore.
func (e *Engine) Persist(ctx context.Context, store StateStore) error {
	return store.SaveState(ctx, e.ExportState())
}

// Restore replaces the engine's state with the snapshot persisted for its
// node ID.
func (e *Engine) Restore(ctx context.Context, store StateStore) error {
	state, err := store.LoadState(ctx, e.NodeID())
	if err != nil {
		return err
	}
	return e.ImportState(state)
}

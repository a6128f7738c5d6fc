package crdtkit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c0deZ3R0/go-crdt-kit/clock"
)

// recordingTransport captures outbound traffic for assertions.
type recordingTransport struct {
	mu         sync.Mutex
	broadcasts []Message
	sends      map[string][]Message
	failSends  bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{sends: make(map[string][]Message)}
}

func (t *recordingTransport) Send(peerID string, msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSends {
		return fmt.Errorf("send failed")
	}
	t.sends[peerID] = append(t.sends[peerID], msg)
	return nil
}

func (t *recordingTransport) Broadcast(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failSends {
		return fmt.Errorf("broadcast failed")
	}
	t.broadcasts = append(t.broadcasts, msg)
	return nil
}

func (t *recordingTransport) Close() error { return nil }

func (t *recordingTransport) broadcastCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.broadcasts)
}

func (t *recordingTransport) lastBroadcast() Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.broadcasts[len(t.broadcasts)-1]
}

// fixedClock returns a wall clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

func newTestEngine(t *testing.T, nodeID string, opts ...Option) *Engine {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{
		WithIDGenerator(&SequenceGenerator{Prefix: nodeID}),
		WithWallClock(fixedClock(base)),
	}, opts...)
	e, err := New(nodeID, opts...)
	if err != nil {
		t.Fatalf("New(%q) failed: %v", nodeID, err)
	}
	return e
}

func TestNewRequiresNodeID(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("Expected error for empty node ID")
	}
}

func TestCreateIncrementsClockAndLogsOperation(t *testing.T) {
	e := newTestEngine(t, "node-a")

	doc, err := e.Create("doc1", Payload{"text": "milk"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if doc.Version.Get("node-a") != 1 {
		t.Errorf("Expected version counter 1, got %d", doc.Version.Get("node-a"))
	}

	state := e.ExportState()
	if len(state.Operations) != 1 {
		t.Fatalf("Expected 1 logged operation, got %d", len(state.Operations))
	}
	if state.Operations[0].Type != OpCreate {
		t.Errorf("Expected create operation, got %s", state.Operations[0].Type)
	}
}

func TestCreateValidatesInput(t *testing.T) {
	e := newTestEngine(t, "node-a")

	if _, err := e.Create("", Payload{"x": 1}); err == nil {
		t.Error("Expected error for empty document ID")
	}
	if _, err := e.Create("doc1", nil); err == nil {
		t.Error("Expected error for nil payload")
	}
}

func TestUpdateShallowMerges(t *testing.T) {
	e := newTestEngine(t, "node-a")
	e.Create("doc1", Payload{"text": "milk", "done": false})

	doc, ok := e.Update("doc1", Payload{"done": true})
	if !ok {
		t.Fatal("Update returned false for known document")
	}

	if doc.Data["text"] != "milk" {
		t.Error("Update dropped an untouched field")
	}
	if doc.Data["done"] != true {
		t.Error("Update did not apply the partial payload")
	}
	if doc.Version.Get("node-a") != 2 {
		t.Errorf("Expected version counter 2, got %d", doc.Version.Get("node-a"))
	}
}

func TestUpdateUnknownDocument(t *testing.T) {
	e := newTestEngine(t, "node-a")

	if _, ok := e.Update("ghost", Payload{"x": 1}); ok {
		t.Error("Update of unknown document should return false")
	}
	if len(e.ExportState().Operations) != 0 {
		t.Error("Failed update must not log an operation")
	}
}

func TestDeleteStillBumpsClockAndLogs(t *testing.T) {
	e := newTestEngine(t, "node-a")
	e.Create("doc1", Payload{"text": "milk"})

	if !e.Delete("doc1") {
		t.Fatal("Delete returned false for known document")
	}
	if _, ok := e.Get("doc1"); ok {
		t.Error("Document still present after delete")
	}

	state := e.ExportState()
	if state.Clock.Get("node-a") != 2 {
		t.Errorf("Delete must bump the clock, got %d", state.Clock.Get("node-a"))
	}
	if len(state.Operations) != 2 || state.Operations[1].Type != OpDelete {
		t.Error("Delete must append a delete operation to the log")
	}

	if e.Delete("ghost") {
		t.Error("Delete of unknown document should return false")
	}
}

func TestLocalOperationsBroadcastWhenOnline(t *testing.T) {
	transport := newRecordingTransport()
	e := newTestEngine(t, "node-a", WithTransport(transport))

	e.Create("doc1", Payload{"text": "milk"})

	if transport.broadcastCount() != 1 {
		t.Fatalf("Expected 1 broadcast, got %d", transport.broadcastCount())
	}
	msg := transport.lastBroadcast()
	if msg.Type != MessageSyncOperation {
		t.Errorf("Expected %s message, got %s", MessageSyncOperation, msg.Type)
	}
	if len(msg.Operations) != 1 {
		t.Errorf("Expected 1 operation in message, got %d", len(msg.Operations))
	}
}

func TestOfflineBufferFlushesAsBatch(t *testing.T) {
	transport := newRecordingTransport()
	e := newTestEngine(t, "node-a", WithTransport(transport))

	e.SetOffline()
	e.Create("doc1", Payload{"n": 1})
	e.Create("doc2", Payload{"n": 2})

	if transport.broadcastCount() != 0 {
		t.Fatal("Offline engine must not broadcast")
	}

	e.SetOnline()

	if transport.broadcastCount() != 1 {
		t.Fatalf("Expected a single flush broadcast, got %d", transport.broadcastCount())
	}
	msg := transport.lastBroadcast()
	if msg.Type != MessageSyncOperations {
		t.Errorf("Expected %s message, got %s", MessageSyncOperations, msg.Type)
	}
	if len(msg.Operations) != 2 {
		t.Errorf("Expected 2 buffered operations, got %d", len(msg.Operations))
	}
}

func TestBroadcastFailureDoesNotFailLocalMutation(t *testing.T) {
	transport := newRecordingTransport()
	transport.failSends = true
	e := newTestEngine(t, "node-a", WithTransport(transport))

	if _, err := e.Create("doc1", Payload{"x": 1}); err != nil {
		t.Fatalf("Create must succeed despite transport failure: %v", err)
	}
	if _, ok := e.Get("doc1"); !ok {
		t.Error("Document must be applied locally despite transport failure")
	}
}

func TestReceiveOperationsAppliesInOrder(t *testing.T) {
	a := newTestEngine(t, "node-a")
	b := newTestEngine(t, "node-b")

	a.Create("doc1", Payload{"text": "milk"})
	a.Update("doc1", Payload{"done": true})

	if err := b.ReceiveOperations(a.ExportState().Operations); err != nil {
		t.Fatalf("ReceiveOperations failed: %v", err)
	}

	doc, ok := b.Get("doc1")
	if !ok {
		t.Fatal("Document missing on receiving node")
	}
	if doc.Data["done"] != true {
		t.Error("Update operation not applied after create")
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	a := newTestEngine(t, "node-a")
	b := newTestEngine(t, "node-b")

	conflicts := 0
	bWithCallback := newTestEngine(t, "node-c", WithOnConflict(func(ConflictInfo) { conflicts++ }))

	a.Create("doc1", Payload{"text": "milk"})
	ops := a.ExportState().Operations

	for _, e := range []*Engine{b, bWithCallback} {
		if err := e.ReceiveOperations(ops); err != nil {
			t.Fatalf("First delivery failed: %v", err)
		}
		first := e.GetAll()

		if err := e.ReceiveOperations(ops); err != nil {
			t.Fatalf("Second delivery failed: %v", err)
		}
		second := e.GetAll()

		if len(first) != len(second) {
			t.Fatal("Duplicate delivery changed the document set")
		}
		for i := range first {
			if !first[i].Version.Equal(second[i].Version) {
				t.Error("Duplicate delivery changed a document version")
			}
		}
	}

	if conflicts != 0 {
		t.Errorf("Duplicate delivery must not invoke the resolver, got %d conflicts", conflicts)
	}
}

func TestStaleOperationStillMergesClock(t *testing.T) {
	b := newTestEngine(t, "node-b")

	// An update for a document B has never seen is a no-op, but B's causal
	// knowledge must still advance.
	op := Operation{
		ID:         "op-1",
		DocumentID: "ghost",
		Type:       OpUpdate,
		Data:       Payload{"x": 1},
		Version:    clock.FromMap(map[string]uint64{"node-a": 7}),
		Timestamp:  time.Now(),
		NodeID:     "node-a",
	}
	if err := b.ReceiveOperations([]Operation{op}); err != nil {
		t.Fatalf("ReceiveOperations failed: %v", err)
	}

	if b.Clock().Get("node-a") != 7 {
		t.Errorf("Clock not merged for ignored operation, got %d", b.Clock().Get("node-a"))
	}
}

func TestUnsupportedOperationTypeIsIgnored(t *testing.T) {
	b := newTestEngine(t, "node-b")

	op := Operation{
		ID:         "op-1",
		DocumentID: "doc1",
		Type:       OperationType("upsert"),
		Version:    clock.FromMap(map[string]uint64{"node-a": 3}),
		NodeID:     "node-a",
	}
	if err := b.ReceiveOperations([]Operation{op}); err != nil {
		t.Fatalf("Unsupported type must not error: %v", err)
	}
	if len(b.GetAll()) != 0 {
		t.Error("Unsupported operation must have no document effect")
	}
	if b.Clock().Get("node-a") != 3 {
		t.Error("Clock must still merge for unsupported operations")
	}
}

func TestConcurrentCreatesResolveIdentically(t *testing.T) {
	// Spec scenario: A and B independently create doc1; after exchanging
	// operations both converge on the same resolved document and both
	// observe a conflict.
	baseA := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	baseB := baseA.Add(time.Hour) // B writes later, so B's create wins LWW

	var conflictsA, conflictsB []ConflictInfo

	a, err := New("node-a",
		WithIDGenerator(&SequenceGenerator{Prefix: "a"}),
		WithWallClock(fixedClock(baseA)),
		WithOnConflict(func(info ConflictInfo) { conflictsA = append(conflictsA, info) }))
	if err != nil {
		t.Fatal(err)
	}
	b, err := New("node-b",
		WithIDGenerator(&SequenceGenerator{Prefix: "b"}),
		WithWallClock(fixedClock(baseB)),
		WithOnConflict(func(info ConflictInfo) { conflictsB = append(conflictsB, info) }))
	if err != nil {
		t.Fatal(err)
	}

	a.Create("doc1", Payload{"text": "milk"})
	b.Create("doc1", Payload{"text": "bread"})

	opsA := a.ExportState().Operations
	opsB := b.ExportState().Operations

	if err := a.ReceiveOperations(opsB); err != nil {
		t.Fatalf("A failed to receive B's operations: %v", err)
	}
	if err := b.ReceiveOperations(opsA); err != nil {
		t.Fatalf("B failed to receive A's operations: %v", err)
	}

	if len(conflictsA) != 1 || len(conflictsB) != 1 {
		t.Fatalf("Expected one conflict per side, got %d and %d", len(conflictsA), len(conflictsB))
	}

	docA, _ := a.Get("doc1")
	docB, _ := b.Get("doc1")
	if docA.Data["text"] != "bread" || docB.Data["text"] != "bread" {
		t.Errorf("Both sides should converge on the later write, got %v and %v",
			docA.Data["text"], docB.Data["text"])
	}
	if conflictsA[0].Resolved.Data["text"] != "bread" {
		t.Error("ConflictInfo should carry the resolved document")
	}
}

func TestCreateThenDeleteReplay(t *testing.T) {
	// Spec scenario: B never saw doc2's create; after replaying A's create
	// and delete in order, B must not materialize doc2.
	a := newTestEngine(t, "node-a")
	b := newTestEngine(t, "node-b")

	a.Create("doc2", Payload{"text": "temp"})
	a.Delete("doc2")

	if err := b.ReceiveOperations(a.ExportState().Operations); err != nil {
		t.Fatalf("ReceiveOperations failed: %v", err)
	}

	if _, ok := b.Get("doc2"); ok {
		t.Error("Deleted document must not survive replay")
	}
	for _, doc := range b.GetAll() {
		if doc.ID == "doc2" {
			t.Error("GetAll must not contain the deleted document")
		}
	}
}

func TestStaleDeleteIsIgnored(t *testing.T) {
	b := newTestEngine(t, "node-b")
	b.Create("doc1", Payload{"text": "keep"})
	b.Update("doc1", Payload{"text": "keep-updated"})

	// A delete strictly older than the current version must not remove
	// the document.
	stale := Operation{
		ID:         "op-stale",
		DocumentID: "doc1",
		Type:       OpDelete,
		Version:    clock.FromMap(map[string]uint64{"node-b": 1}),
		Timestamp:  time.Now(),
		NodeID:     "node-a",
	}
	if err := b.ReceiveOperations([]Operation{stale}); err != nil {
		t.Fatal(err)
	}

	if _, ok := b.Get("doc1"); !ok {
		t.Error("Stale delete must not remove the document")
	}
}

func TestConcurrentDeleteWins(t *testing.T) {
	b := newTestEngine(t, "node-b")
	b.Create("doc1", Payload{"text": "local"})

	// A concurrent delete (not strictly older) wins over the local edit.
	concurrent := Operation{
		ID:         "op-del",
		DocumentID: "doc1",
		Type:       OpDelete,
		Version:    clock.FromMap(map[string]uint64{"node-a": 1}),
		Timestamp:  time.Now(),
		NodeID:     "node-a",
	}
	if err := b.ReceiveOperations([]Operation{concurrent}); err != nil {
		t.Fatal(err)
	}

	if _, ok := b.Get("doc1"); ok {
		t.Error("Concurrent delete should win over the standing document")
	}
}

func TestResolverErrorAbortsBatch(t *testing.T) {
	failing := ResolverFunc(func(c Conflict) (Document, error) {
		return Document{}, fmt.Errorf("resolver exploded")
	})

	a := newTestEngine(t, "node-a")
	b := newTestEngine(t, "node-b", WithConflictResolver(failing))

	// Both sides create doc1 concurrently; the batch also carries a second
	// independent document that must never be applied after the abort.
	a.Create("doc1", Payload{"text": "milk"})
	a.Create("doc9", Payload{"text": "later"})
	b.Create("doc1", Payload{"text": "bread"})

	err := b.ReceiveOperations(a.ExportState().Operations)
	if err == nil {
		t.Fatal("Expected resolver error to propagate")
	}

	if _, ok := b.Get("doc9"); ok {
		t.Error("Operations after the failing one must not be applied")
	}
}

func TestOnSyncReceivesFullDocumentList(t *testing.T) {
	a := newTestEngine(t, "node-a")

	var synced [][]Document
	b := newTestEngine(t, "node-b", WithOnSync(func(docs []Document) {
		synced = append(synced, docs)
	}))

	a.Create("doc1", Payload{"n": 1})
	a.Create("doc2", Payload{"n": 2})

	if err := b.ReceiveOperations(a.ExportState().Operations); err != nil {
		t.Fatal(err)
	}

	if len(synced) != 1 {
		t.Fatalf("Expected one onSync invocation, got %d", len(synced))
	}
	if len(synced[0]) != 2 {
		t.Errorf("onSync should carry the full document list, got %d docs", len(synced[0]))
	}
}

func TestConvergenceBidirectional(t *testing.T) {
	// Disjoint local histories on two nodes; after exchanging full
	// operation logs both directions, document sets must be identical.
	a := newTestEngine(t, "node-a")
	b := newTestEngine(t, "node-b")

	a.Create("alpha", Payload{"owner": "a"})
	a.Create("shared-a", Payload{"n": 1})
	a.Update("alpha", Payload{"rev": 2})
	b.Create("beta", Payload{"owner": "b"})
	b.Delete("beta")
	b.Create("gamma", Payload{"owner": "b"})

	opsA := a.ExportState().Operations
	opsB := b.ExportState().Operations

	if err := a.ReceiveOperations(opsB); err != nil {
		t.Fatal(err)
	}
	if err := b.ReceiveOperations(opsA); err != nil {
		t.Fatal(err)
	}

	docsA := a.GetAll()
	docsB := b.GetAll()

	if len(docsA) != len(docsB) {
		t.Fatalf("Document counts differ: %d vs %d", len(docsA), len(docsB))
	}
	for i := range docsA {
		if docsA[i].ID != docsB[i].ID {
			t.Errorf("Document IDs differ at %d: %s vs %s", i, docsA[i].ID, docsB[i].ID)
		}
		if !docsA[i].Version.Equal(docsB[i].Version) {
			t.Errorf("Versions differ for %s: %s vs %s",
				docsA[i].ID, docsA[i].Version, docsB[i].Version)
		}
		if fmt.Sprint(docsA[i].Data) != fmt.Sprint(docsB[i].Data) {
			t.Errorf("Data differs for %s", docsA[i].ID)
		}
	}
}

func TestHandleSyncRequestSendsMissingOperations(t *testing.T) {
	transport := newRecordingTransport()
	a := newTestEngine(t, "node-a", WithTransport(transport))

	a.Create("doc1", Payload{"n": 1})
	a.Create("doc2", Payload{"n": 2})

	// A peer that has seen nothing gets everything.
	if err := a.HandleSyncRequest("peer-b", clock.Zero()); err != nil {
		t.Fatal(err)
	}

	msgs := transport.sends["peer-b"]
	if len(msgs) != 1 {
		t.Fatalf("Expected one response, got %d", len(msgs))
	}
	if msgs[0].Type != MessageSyncResponse {
		t.Errorf("Expected %s, got %s", MessageSyncResponse, msgs[0].Type)
	}
	if len(msgs[0].Operations) != 2 {
		t.Errorf("Expected 2 operations, got %d", len(msgs[0].Operations))
	}
}

func TestHandleSyncRequestCaughtUpPeer(t *testing.T) {
	// Spec scenario: a peer presenting a clock equal to our own gets an
	// empty operation list.
	transport := newRecordingTransport()
	a := newTestEngine(t, "node-a", WithTransport(transport))

	a.Create("doc1", Payload{"n": 1})
	a.Update("doc1", Payload{"n": 2})

	if err := a.HandleSyncRequest("peer-b", a.Clock()); err != nil {
		t.Fatal(err)
	}

	msgs := transport.sends["peer-b"]
	if len(msgs) != 1 {
		t.Fatalf("Expected one response, got %d", len(msgs))
	}
	if len(msgs[0].Operations) != 0 {
		t.Errorf("Caught-up peer should receive no operations, got %d", len(msgs[0].Operations))
	}
}

func TestHandleMessageDispatch(t *testing.T) {
	transportA := newRecordingTransport()
	a := newTestEngine(t, "node-a", WithTransport(transportA))
	b := newTestEngine(t, "node-b")

	b.Create("doc1", Payload{"text": "hi"})

	// Operation-bearing message applies documents.
	msg := Message{Type: MessageSyncOperations, Operations: b.ExportState().Operations}
	if err := a.HandleMessage("node-b", msg); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Get("doc1"); !ok {
		t.Error("HandleMessage should apply received operations")
	}

	// Sync request message triggers a targeted response.
	req := Message{Type: MessageSyncRequest, Clock: clock.Zero().Counters()}
	if err := a.HandleMessage("node-b", req); err != nil {
		t.Fatal(err)
	}
	if len(transportA.sends["node-b"]) != 1 {
		t.Error("HandleMessage should answer sync requests via Send")
	}

	// Unknown message types are ignored without error.
	if err := a.HandleMessage("node-b", Message{Type: "gossip"}); err != nil {
		t.Errorf("Unknown message type should be ignored, got %v", err)
	}
}

func TestExportStateIsDeepCopy(t *testing.T) {
	e := newTestEngine(t, "node-a")
	e.Create("doc1", Payload{"text": "original"})

	exported := e.ExportState()
	exported.Documents["doc1"].Data["text"] = "mutated"
	exported.Operations[0].Data["text"] = "mutated"

	doc, _ := e.Get("doc1")
	if doc.Data["text"] != "original" {
		t.Error("ExportState must return an independent copy")
	}
}

func TestImportStateReplacesWholesale(t *testing.T) {
	a := newTestEngine(t, "node-a")
	a.Create("doc1", Payload{"n": 1})
	a.Create("doc2", Payload{"n": 2})

	b := newTestEngine(t, "node-b")
	b.Create("other", Payload{"n": 9})

	if err := b.ImportState(a.ExportState()); err != nil {
		t.Fatal(err)
	}

	if _, ok := b.Get("other"); ok {
		t.Error("ImportState must replace prior state wholesale")
	}
	if len(b.GetAll()) != 2 {
		t.Errorf("Expected 2 imported documents, got %d", len(b.GetAll()))
	}

	if err := b.ImportState(State{}); err == nil {
		t.Error("ImportState should reject state without a node ID")
	}
}

func TestRequestSyncBroadcastsClock(t *testing.T) {
	transport := newRecordingTransport()
	e := newTestEngine(t, "node-a", WithTransport(transport))
	e.Create("doc1", Payload{"n": 1})

	if err := e.RequestSync(); err != nil {
		t.Fatal(err)
	}

	msg := transport.lastBroadcast()
	if msg.Type != MessageSyncRequest {
		t.Fatalf("Expected %s, got %s", MessageSyncRequest, msg.Type)
	}
	if msg.Clock["node-a"] != 1 {
		t.Errorf("Sync request should carry the current clock, got %v", msg.Clock)
	}
}

func TestRequestSyncWithoutTransport(t *testing.T) {
	e := newTestEngine(t, "node-a")
	if err := e.RequestSync(); err == nil {
		t.Error("RequestSync without transport should error")
	}
}

package crdtkit

// MessageType discriminates the wire messages exchanged between peers.
type MessageType string

const (
	// MessageSyncOperation carries a single operation broadcast as soon as
	// it is generated locally.
	MessageSyncOperation MessageType = "sync-operation"

	// MessageSyncOperations carries the batched flush of operations that
	// were buffered while the node was offline.
	MessageSyncOperations MessageType = "sync-operations"

	// MessageSyncRequest asks peers for operations the sender has missed,
	// summarized by the sender's vector clock.
	MessageSyncRequest MessageType = "sync-request"

	// MessageSyncResponse is the targeted reply to a sync request.
	MessageSyncResponse MessageType = "sync-response"
)

// Message is the JSON wire envelope for all peer traffic. Which fields are
// populated depends on Type: operation messages carry Operations, sync
// requests carry Clock and LastSync.
type Message struct {
	Type       MessageType       `json:"type"`
	Operations []Operation       `json:"operations,omitempty"`
	Clock      map[string]uint64 `json:"clock,omitempty"`
	LastSync   int64             `json:"last_sync,omitempty"` // unix milliseconds
}

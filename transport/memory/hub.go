// Package memory provides an in-process transport that wires engines
// directly to each other. It is the transport used by tests and the demo
// CLI; every peer on a hub receives broadcasts synchronously.
package memory

import (
	"fmt"
	"sync"

	"github.com/c0deZ3R0/go-crdt-kit/crdtkit"
	syncErrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

// Hub connects peers in one process. Messages are delivered inline on the
// sender's goroutine.
type Hub struct {
	mu          sync.RWMutex
	peers       map[string]*Peer
	partitioned map[string]bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		peers:       make(map[string]*Peer),
		partitioned: make(map[string]bool),
	}
}

// Join registers an engine with the hub and attaches the resulting peer as
// the engine's transport. The peer delivers inbound messages through
// Engine.HandleMessage.
func (h *Hub) Join(engine *crdtkit.Engine) *Peer {
	peer := &Peer{hub: h, engine: engine, id: engine.NodeID()}
	engine.SetTransport(peer)

	h.mu.Lock()
	h.peers[peer.id] = peer
	h.mu.Unlock()

	logging.WithComponent(logging.Component("memory-hub")).Debug(
		"Peer joined hub", "node_id", peer.id)
	return peer
}

// Leave removes a peer from the hub. Messages sent to it afterwards fail.
func (h *Hub) Leave(nodeID string) {
	h.mu.Lock()
	delete(h.peers, nodeID)
	delete(h.partitioned, nodeID)
	h.mu.Unlock()
}

// SetPartitioned cuts a peer off from the hub without removing it. While
// partitioned, the peer neither receives nor delivers messages. Healing the
// partition does not replay missed traffic; peers catch up via sync
// requests.
func (h *Hub) SetPartitioned(nodeID string, partitioned bool) {
	h.mu.Lock()
	if partitioned {
		h.partitioned[nodeID] = true
	} else {
		delete(h.partitioned, nodeID)
	}
	h.mu.Unlock()
}

// Peers returns the node IDs currently joined.
func (h *Hub) Peers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.peers))
	for id := range h.peers {
		ids = append(ids, id)
	}
	return ids
}

func (h *Hub) send(from, to string, msg crdtkit.Message) error {
	h.mu.RLock()
	blocked := h.partitioned[from] || h.partitioned[to]
	peer := h.peers[to]
	h.mu.RUnlock()

	if blocked {
		return syncErrors.NewNetworkError(syncErrors.OpTransport,
			fmt.Errorf("network partition between %s and %s", from, to))
	}
	if peer == nil {
		return syncErrors.NewNetworkError(syncErrors.OpTransport,
			fmt.Errorf("unknown peer %s", to))
	}
	return peer.deliver(from, msg)
}

func (h *Hub) broadcast(from string, msg crdtkit.Message) error {
	h.mu.RLock()
	blocked := h.partitioned[from]
	targets := make([]*Peer, 0, len(h.peers))
	for id, peer := range h.peers {
		if id == from || h.partitioned[id] {
			continue
		}
		targets = append(targets, peer)
	}
	h.mu.RUnlock()

	if blocked {
		return syncErrors.NewNetworkError(syncErrors.OpBroadcast,
			fmt.Errorf("peer %s is partitioned", from))
	}

	var firstErr error
	for _, peer := range targets {
		if err := peer.deliver(from, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Peer is a hub attachment implementing crdtkit.Transport.
type Peer struct {
	hub    *Hub
	engine *crdtkit.Engine
	id     string
}

// ID returns the node ID this peer was joined as.
func (p *Peer) ID() string { return p.id }

// Send delivers a message to one peer on the hub.
func (p *Peer) Send(peerID string, msg crdtkit.Message) error {
	return p.hub.send(p.id, peerID, msg)
}

// Broadcast delivers a message to every other connected peer.
func (p *Peer) Broadcast(msg crdtkit.Message) error {
	return p.hub.broadcast(p.id, msg)
}

// Close detaches the peer from the hub.
func (p *Peer) Close() error {
	p.hub.Leave(p.id)
	return nil
}

func (p *Peer) deliver(from string, msg crdtkit.Message) error {
	return p.engine.HandleMessage(from, msg)
}

// Package websocket provides a hub-and-spoke transport over WebSocket.
// Peers dial a central relay server; the server fans broadcasts out to
// every other connected peer and routes targeted sends by node ID.
package websocket

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/c0deZ3R0/go-crdt-kit/crdtkit"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

// Envelope frames a sync message on the wire with its routing metadata.
// An empty To means broadcast.
type Envelope struct {
	From    string          `json:"from"`
	To      string          `json:"to,omitempty"`
	Message crdtkit.Message `json:"message"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the relay hub. Mount its Handler on an HTTP mux and point
// clients at it.
type Server struct {
	mu    sync.RWMutex
	conns map[string]*serverConn
}

type serverConn struct {
	writeMu sync.Mutex
	ws      *websocket.Conn
}

func (c *serverConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// NewServer creates an empty relay server.
func NewServer() *Server {
	return &Server{conns: make(map[string]*serverConn)}
}

// Handler upgrades inbound connections. Clients identify themselves with a
// node_id query parameter; a second connection for the same node ID
// displaces the first.
func (s *Server) Handler() http.Handler {
	logger := logging.WithComponent(logging.Component("ws-server"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nodeID := r.URL.Query().Get("node_id")
		if nodeID == "" {
			http.Error(w, "node_id query parameter required", http.StatusBadRequest)
			return
		}

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("Failed to upgrade connection",
				"node_id", nodeID, "error", err)
			return
		}

		conn := &serverConn{ws: ws}
		s.mu.Lock()
		if old, ok := s.conns[nodeID]; ok {
			old.ws.Close()
		}
		s.conns[nodeID] = conn
		s.mu.Unlock()

		logger.Info("Peer connected", "node_id", nodeID)
		s.readLoop(nodeID, conn, logger)
	})
}

// Peers returns the node IDs currently connected to the relay.
func (s *Server) Peers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.conns))
	for id := range s.conns {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every peer.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.conns {
		conn.ws.Close()
		delete(s.conns, id)
	}
	return nil
}

func (s *Server) readLoop(nodeID string, conn *serverConn, logger *logging.Logger) {
	defer func() {
		s.mu.Lock()
		if s.conns[nodeID] == conn {
			delete(s.conns, nodeID)
		}
		s.mu.Unlock()
		conn.ws.Close()
		logger.Info("Peer disconnected", "node_id", nodeID)
	}()

	for {
		var env Envelope
		if err := conn.ws.ReadJSON(&env); err != nil {
			return
		}
		env.From = nodeID

		if env.To != "" {
			s.relay(env, logger)
			continue
		}
		s.fanOut(env, logger)
	}
}

func (s *Server) relay(env Envelope, logger *logging.Logger) {
	s.mu.RLock()
	target := s.conns[env.To]
	s.mu.RUnlock()

	if target == nil {
		logger.Warn("Dropping message for unknown peer",
			"from", env.From, "to", env.To)
		return
	}
	if err := target.writeJSON(env); err != nil {
		logger.Warn("Failed to relay message",
			"from", env.From, "to", env.To, "error", err)
	}
}

func (s *Server) fanOut(env Envelope, logger *logging.Logger) {
	s.mu.RLock()
	targets := make(map[string]*serverConn, len(s.conns))
	for id, conn := range s.conns {
		if id == env.From {
			continue
		}
		targets[id] = conn
	}
	s.mu.RUnlock()

	for id, conn := range targets {
		if err := conn.writeJSON(env); err != nil {
			logger.Warn("Failed to fan out message",
				"from", env.From, "to", id, "error", err)
		}
	}
}

// marshalEnvelope is used by tests to inspect wire frames.
func marshalEnvelope(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

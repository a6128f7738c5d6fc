package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c0deZ3R0/go-crdt-kit/crdtkit"
	syncErrors "github.com/c0deZ3R0/go-crdt-kit/errors"
	"github.com/c0deZ3R0/go-crdt-kit/logging"
)

// MessageHandler receives inbound sync messages. Hosts typically wire this
// straight to Engine.HandleMessage.
type MessageHandler func(peerID string, msg crdtkit.Message)

// Client connects one node to a relay server and implements
// crdtkit.Transport over that connection.
type Client struct {
	nodeID  string
	handler MessageHandler
	logger  *logging.Logger

	writeMu sync.Mutex
	ws      *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// Compile-time check
var _ crdtkit.Transport = (*Client)(nil)

// Dial connects to the relay at serverURL (ws:// or wss://) identifying as
// nodeID, and starts delivering inbound messages to handler on a background
// goroutine.
func Dial(ctx context.Context, serverURL, nodeID string, handler MessageHandler) (*Client, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node ID is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("message handler is required")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	q := u.Query()
	q.Set("node_id", nodeID)
	u.RawQuery = q.Encode()

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, syncErrors.NewNetworkError(syncErrors.OpTransport,
			fmt.Errorf("failed to dial %s: %w", serverURL, err))
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		nodeID:  nodeID,
		handler: handler,
		logger:  logging.WithComponent(logging.Component("ws-client")).WithNode(nodeID),
		ws:      ws,
		done:    make(chan struct{}),
	}
	go c.readLoop()

	c.logger.Info("Connected to relay", "url", serverURL)
	return c, nil
}

// NodeID returns the node ID this client dialed as.
func (c *Client) NodeID() string { return c.nodeID }

// Send routes a message to one peer through the relay.
func (c *Client) Send(peerID string, msg crdtkit.Message) error {
	return c.write(Envelope{From: c.nodeID, To: peerID, Message: msg})
}

// Broadcast sends a message to every other peer on the relay.
func (c *Client) Broadcast(msg crdtkit.Message) error {
	return c.write(Envelope{From: c.nodeID, Message: msg})
}

// Close shuts the connection down. It attempts a clean close handshake
// before tearing the socket down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()

		err = c.ws.Close()
	})
	return err
}

func (c *Client) write(env Envelope) error {
	select {
	case <-c.done:
		return syncErrors.NewNetworkError(syncErrors.OpTransport,
			fmt.Errorf("client is closed"))
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteJSON(env); err != nil {
		return syncErrors.NewNetworkError(syncErrors.OpTransport, err)
	}
	return nil
}

func (c *Client) readLoop() {
	for {
		var env Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("Connection lost", "error", err)
			}
			return
		}
		c.handler(env.From, env.Message)
	}
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/conneroisu/playground/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4 << 20

	// Outgoing messages buffered per client.
	sendBuffer = 256
)

// Envelope is the JSON frame exchanged on the sockets.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outgoing struct {
	typ  websocket.MessageType
	data []byte
}

// client is one socket connection. Messages are queued on send and written
// by a single pump; a client whose queue overflows is dropped.
type client struct {
	conn    *websocket.Conn
	channel string
	send    chan outgoing
	logger  logging.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// enqueue queues a frame without blocking. It reports false when the client
// was dropped.
func (c *client) enqueue(typ websocket.MessageType, data []byte) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- outgoing{typ: typ, data: data}:
		return true
	default:
		c.logger.Warn(c.ctx, nil, "Send buffer full, dropping client")
		c.drop(websocket.StatusPolicyViolation, "client too slow")
		return false
	}
}

func (c *client) sendJSON(typ string, payload any) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn(c.ctx, err, "Failed to marshal message", "type", typ)
		return false
	}
	data, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	if err != nil {
		return false
	}
	return c.enqueue(websocket.MessageText, data)
}

// close runs the close handshake and then cancels the client. It blocks
// until the peer answers or the handshake times out.
func (c *client) close(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		_ = c.conn.Close(code, reason)
		c.cancel()
	})
}

// drop cancels the client at once and finishes the close handshake in the
// background. It never blocks.
func (c *client) drop(code websocket.StatusCode, reason string) {
	c.cancel()
	go c.close(code, reason)
}

// writePump is the only writer of conn.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, msg.typ, msg.data)
			cancel()
			if err != nil {
				c.logger.Debug(c.ctx, "Socket write failed", "error", err)
				c.close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

// socketHub tracks open sockets so that they can be closed on shutdown.
type socketHub struct {
	originPatterns []string
	logger         logging.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	shutdown bool
}

func newSocketHub(allowedOrigins []string, logger logging.Logger) *socketHub {
	return &socketHub{
		originPatterns: allowedOrigins,
		logger:         logger,
		clients:        make(map[*client]struct{}),
	}
}

// accept upgrades the request. Cross-origin requests are only accepted from
// the configured origin patterns; same-host requests are always accepted.
func (h *socketHub) accept(w http.ResponseWriter, r *http.Request, channel string) (*client, bool) {
	h.mu.Lock()
	shutdown := h.shutdown
	h.mu.Unlock()
	if shutdown {
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return nil, false
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  h.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		h.logger.Warn(r.Context(), err, "WebSocket upgrade failed", "channel", channel, "remote", r.RemoteAddr)
		return nil, false
	}
	conn.SetReadLimit(maxMessageSize)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:    conn,
		channel: channel,
		send:    make(chan outgoing, sendBuffer),
		logger:  h.logger.With("channel", channel, "remote", r.RemoteAddr),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	if h.shutdown {
		h.mu.Unlock()
		c.close(websocket.StatusServiceRestart, "server shutting down")
		return nil, false
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.WebSocketConnected(channel)
	c.logger.Debug(ctx, "Socket connected")
	go c.writePump()
	return c, true
}

func (h *socketHub) release(c *client) {
	c.close(websocket.StatusNormalClosure, "")
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		metrics.WebSocketDisconnected(c.channel)
		c.logger.Debug(context.Background(), "Socket disconnected")
	}
}

// Len returns the number of open sockets.
func (h *socketHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every socket and rejects new ones.
func (h *socketHub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.shutdown = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.close(websocket.StatusGoingAway, "server shutdown")
	}
	return nil
}

// readLoop reads frames until the client goes away, passing each to fn.
func readLoop(c *client, fn func(typ websocket.MessageType, data []byte)) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && c.ctx.Err() == nil {
				c.logger.Debug(c.ctx, "Socket read ended", "error", err)
			}
			return
		}
		fn(typ, data)
	}
}

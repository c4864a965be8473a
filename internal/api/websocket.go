package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/blesim-core/internal/device"
	"github.com/nerrad567/blesim-core/internal/infrastructure/config"
	"github.com/nerrad567/blesim-core/internal/infrastructure/logging"
)

// defaultSendBuffer is the per-client outbound buffer when none is configured.
const defaultSendBuffer = 256

var (
	// ErrSendBufferFull is returned by Send when a slow client has not
	// drained its queue.
	ErrSendBufferFull = errors.New("api: websocket send buffer full")

	// ErrClientClosed is returned by Send after the client has been closed.
	ErrClientClosed = errors.New("api: websocket client closed")
)

// Subscriber is a live consumer of pushed events.
type Subscriber interface {
	// Send queues one encoded message. An error marks the subscriber dead.
	Send(data []byte) error
	// Close releases the subscriber. Safe to call more than once.
	Close()
}

// Hub fans every broadcast out to all connected subscribers.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Delivery happens outside the hub lock.
type Hub struct {
	logger *logging.Logger
	subs   map[Subscriber]struct{}
	closed bool
	mu     sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger: logger,
		subs:   make(map[Subscriber]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Connect adds a subscriber. After Run has returned, the subscriber is
// closed immediately instead.
func (h *Hub) Connect(sub Subscriber) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.Close()
		return
	}
	h.subs[sub] = struct{}{}
	count := len(h.subs)
	h.mu.Unlock()

	h.logger.Debug("websocket client connected", "clients", count)
}

// Disconnect removes and closes a subscriber. Unknown subscribers are ignored.
func (h *Hub) Disconnect(sub Subscriber) {
	h.mu.Lock()
	_, existed := h.subs[sub]
	delete(h.subs, sub)
	count := len(h.subs)
	h.mu.Unlock()

	if existed {
		sub.Close()
		h.logger.Debug("websocket client disconnected", "clients", count)
	}
}

// Broadcast encodes msg once and delivers it to every subscriber.
// Subscribers whose delivery fails are disconnected after the round.
func (h *Hub) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "error", err)
		return
	}

	// Snapshot subscriber list under hub lock, then release before sending
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	for _, sub := range subs {
		if err := sub.Send(data); err != nil {
			failed = append(failed, sub)
		}
	}

	for _, sub := range failed {
		h.Disconnect(sub)
	}
	if len(failed) > 0 {
		h.logger.Debug("dropped websocket clients after failed delivery",
			"dropped", len(failed),
			"recipients", len(subs)-len(failed),
		)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// closeAll closes every subscriber and refuses new ones.
func (h *Hub) closeAll() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.subs = make(map[Subscriber]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.Close()
	}
}

// WSClient is a Subscriber backed by a WebSocket connection.
type WSClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// NewWSClient wraps conn with a send queue of the given size.
func NewWSClient(conn *websocket.Conn, buffer int) *WSClient {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &WSClient{
		conn: conn,
		send: make(chan []byte, buffer),
	}
}

// Send queues data without blocking.
func (c *WSClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which then closes the connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// handleWebSocket upgrades the connection, sends the current registry
// snapshot, then registers the client for deltas.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewWSClient(conn, s.wsCfg.SendBuffer)

	initial, err := json.Marshal(device.NewInitialState(s.registry.GetAll()))
	if err != nil {
		s.logger.Error("failed to marshal initial state", "error", err)
		conn.Close()
		return
	}
	//nolint:errcheck // fresh buffer cannot be full
	client.Send(initial)

	go client.writePump(s.wsCfg)
	s.hub.Connect(client)
	go client.readPump(s.hub, s.wsCfg, s.logger)
}

// readPump drains the connection so control frames are processed. Client
// payloads are ignored.
func (c *WSClient) readPump(hub *Hub, cfg config.WebSocketConfig, logger *logging.Logger) {
	defer func() {
		hub.Disconnect(c)
		c.Close()
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	readWait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func() error {
		if readWait <= 0 {
			return nil
		}
		return c.conn.SetReadDeadline(time.Now().Add(readWait))
	}
	//nolint:errcheck // Best-effort deadline on connection setup
	extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", "error", err)
			} else {
				logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		extend()
	}
}

// writePump writes queued messages and periodic pings.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Client closed
				//nolint:errcheck // Best-effort close message
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

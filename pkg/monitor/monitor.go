// Package monitor implements the optional WebSocket status feed
// (spec.md §6.7): a broadcast-only hub that pushes a publishing
// session's lifecycle and accounting state to any number of read-only
// viewers, for a local dashboard or operator tool.
//
// Adapted from the teacher's pkg/api/websocket.go hub/client/broadcast
// shape, trimmed from a multi-room signaling server (join/leave,
// publish/subscribe track, per-room fan-out) down to a single session,
// broadcast-only feed with no inbound application messages.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castflow/rtmpub/pkg/logger"
)

// Event names carried in Status.Event (spec.md §6.7).
const (
	EventState = "state"
	EventAck   = "ack"
	EventError = "error"
)

// Status is one broadcast frame.
type Status struct {
	Timestamp         time.Time `json:"ts"`
	Event             string    `json:"event"`
	State             string    `json:"state,omitempty"`
	BytesSentTotal    uint64    `json:"bytes_sent_total"`
	BytesSentSinceAck uint64    `json:"bytes_sent_since_ack"`
	AckWindowOut      uint32    `json:"ack_window_out"`
	Error             string    `json:"error,omitempty"`
}

// client is one connected WebSocket viewer.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub broadcasts Status frames to every connected viewer. It does not
// implement publisher.Listener itself; StatusListener wraps a Listener and
// feeds lifecycle callbacks into a Hub.
type Hub struct {
	upgrader websocket.Upgrader
	log      logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub builds a Hub. log may be nil (a default text logger is used).
func NewHub(log logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefaultLogger(logger.InfoLevel, "text")
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log:     log,
		clients: make(map[*client]struct{}),
	}
}

// HandleWebSocket upgrades the request and registers the viewer.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("monitor upgrade failed", logger.Err(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only honors pong/close frames; the feed accepts no inbound
// application messages (spec.md §6.7).
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends status to every connected viewer. A viewer whose send
// queue is full is dropped rather than allowed to stall the feed.
func (h *Hub) Broadcast(status Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		h.log.Warn("failed to marshal monitor status", logger.Err(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			h.log.Warn("monitor client send queue full, dropping update")
		}
	}
}

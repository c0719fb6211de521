package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bigtube/internal/download"
	"bigtube/internal/logging"
	"bigtube/internal/store"
)

// Message types pushed to websocket clients.
const (
	MsgSnapshot = "snapshot"
	MsgItem     = "item"
	MsgProgress = "progress"
	MsgDeleted  = "deleted"
	MsgResync   = "resync"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	sendBuffer   = 64
)

// Message is one websocket frame.
type Message struct {
	Type     string           `json:"type"`
	ID       string           `json:"id,omitempty"`
	Item     *download.Item   `json:"item,omitempty"`
	Items    []*download.Item `json:"items,omitempty"`
	Progress *float64         `json:"progress,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans task events out to connected websocket clients.
// It implements download.Hooks so the manager can feed it directly.
// Clients that fall behind are disconnected rather than blocking the feed.
type Hub struct {
	mu       sync.Mutex
	clients  map[*client]struct{}
	closed   bool
	upgrader websocket.Upgrader
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

func (h *Hub) OnProgress(id string, progress float64) {
	h.Broadcast(Message{Type: MsgProgress, ID: id, Progress: &progress})
}

func (h *Hub) OnStateChange(item download.Item) {
	h.Broadcast(Message{Type: MsgItem, ID: item.ID, Item: &item})
}

// FollowStore relays ledger deletions and resync hints until ctx ends or events closes.
// Upserts with an id are already delivered through the manager hooks.
func (h *Hub) FollowStore(ctx context.Context, events <-chan store.ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch {
			case evt.Type == store.ChangeDelete:
				h.Broadcast(Message{Type: MsgDeleted, ID: evt.ID})
			case evt.ID == "":
				h.Broadcast(Message{Type: MsgResync})
			}
		}
	}
}

// Broadcast queues msg for every client.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.With(context.Background()).Error("ws marshal failed", "event", "ws_error", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.dropLocked(c)
		}
	}
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// serve upgrades the request and sends snapshot() as the first frame.
// The snapshot is taken while the client is registered under h.mu, so any
// event missing from it is broadcast to the client afterwards.
func (h *Hub) serve(w http.ResponseWriter, r *http.Request, snapshot func() []*download.Item) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	first, _ := json.Marshal(Message{Type: MsgSnapshot, Items: snapshot()})
	c.send <- first
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	h.dropLocked(c)
	h.mu.Unlock()
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

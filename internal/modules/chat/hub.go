package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds every write so a stalled peer cannot hold up its senders.
const writeWait = 10 * time.Second

// Hub tracks one live connection per user. A second connection from the
// same user replaces the first.
type Hub struct {
	connections map[string]*client
	mutex       sync.RWMutex
	writeWait   time.Duration
}

type client struct {
	conn      *websocket.Conn
	writeWait time.Duration
	// gorilla allows one concurrent writer per connection.
	writeMu sync.Mutex
}

func (c *client) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}

func NewHub() *Hub {
	return &Hub{connections: make(map[string]*client), writeWait: writeWait}
}

func (h *Hub) Register(userID string, conn *websocket.Conn) *client {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if old, exists := h.connections[userID]; exists {
		_ = old.conn.Close()
	}
	c := &client{conn: conn, writeWait: h.writeWait}
	h.connections[userID] = c
	return c
}

// Unregister drops c if it is still the user's current connection.
func (h *Hub) Unregister(userID string, c *client) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if cur, exists := h.connections[userID]; exists && cur == c {
		delete(h.connections, userID)
	}
	_ = c.conn.Close()
}

func (h *Hub) SendToUser(userID string, message interface{}) bool {
	h.mutex.RLock()
	c, exists := h.connections[userID]
	h.mutex.RUnlock()

	if !exists {
		return false
	}
	if err := c.writeJSON(message); err != nil {
		h.Unregister(userID, c)
		return false
	}
	return true
}

func (h *Hub) IsOnline(userID string) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.connections[userID]
	return exists
}

func (h *Hub) OnlineCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	return len(h.connections)
}

func (h *Hub) Close() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for userID, c := range h.connections {
		_ = c.conn.Close()
		delete(h.connections, userID)
	}
}

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/handlift/internal/app"
)

const (
	// sendBuffer is the number of messages queued per client before new
	// ones are dropped.
	sendBuffer = 16
	writeWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// StreamHandler broadcasts every new reconstruction to its WebSocket
// clients.
type StreamHandler struct {
	clients map[*client]bool
	mu      sync.RWMutex
}

// NewStreamHandler creates a StreamHandler subscribed to the reconstructions
// of a.
func NewStreamHandler(a *app.App) *StreamHandler {
	h := &StreamHandler{
		clients: make(map[*client]bool),
	}
	a.RegisterCallback(h.Publish)
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writePump()

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		close(c.send)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *StreamHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish queues res for every connected client. Clients that fall behind
// miss messages rather than stall the solver.
func (h *StreamHandler) Publish(res *app.Result) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.clients) == 0 {
		return
	}

	msg, err := json.Marshal(map[string]any{
		"reconstruction": res,
		"timestamp":      time.Now().UnixMilli(),
	})
	if err != nil {
		log.Printf("failed to encode reconstruction %s: %v", res.ID, err)
		return
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Printf("dropping reconstruction %s for slow client %s", res.ID, c.conn.RemoteAddr())
		}
	}
}

// writePump is the only writer of c.conn. A failed write closes the
// connection, which ends the read loop and unregisters the client.
func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			log.Printf("websocket deadline error for %s: %v", c.conn.RemoteAddr(), err)
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("websocket write error for %s: %v", c.conn.RemoteAddr(), err)
			return
		}
	}
}

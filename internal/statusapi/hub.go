package statusapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bigdot123456/p2pnode/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType identifies a kind of WebSocket broadcast.
type EventType string

// EventNodeStatus is pushed on every poll tick and whenever the caller
// explicitly broadcasts a status change (e.g. a newly mined block).
const EventNodeStatus EventType = "node_status"

// Event is one WebSocket message.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// client is one connected WebSocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans status events out to every connected WebSocket client.
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*client]bool

	broadcast  chan *Event
	register   chan *client
	unregister chan *client
}

// NewHub returns a Hub; call Run to start its event loop.
func NewHub(log *logging.Logger) *Hub {
	return &Hub{
		log:        log,
		clients:    make(map[*client]bool),
		broadcast:  make(chan *Event, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run processes register/unregister/broadcast events until the process
// exits. It is meant to run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Error("failed to marshal status event", "error", err)
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					h.log.Debug("dropping slow status subscriber")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast enqueues an event for delivery to every connected client.
func (h *Hub) Broadcast(eventType EventType, data interface{}) {
	select {
	case h.broadcast <- &Event{Type: eventType, Data: data, Timestamp: time.Now().Unix()}:
	default:
		h.log.Warn("status broadcast channel full, dropping event", "type", eventType)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an HTTP request to a WebSocket connection and
// registers the resulting client with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 16)}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) readPump(c *client) {
	defer func() {
		h.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"sentinel/internal/models"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

// Message types pushed to websocket clients
const (
	MessageHealth = "health"
	MessageAlert  = "alert"
	MessagePong   = "pong"
	MessageError  = "error"
)

// WebSocketMessage represents a message sent over WebSocket
type WebSocketMessage struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ClientConnection represents a connected WebSocket client. Send is closed
// exactly once, by the hub; writers go through Enqueue.
type ClientConnection struct {
	ID   string
	Conn *websocket.Conn
	Send chan WebSocketMessage

	mu     sync.Mutex
	closed bool
}

// Enqueue queues msg without blocking. It reports false when the queue is
// full or the hub has already closed it.
func (c *ClientConnection) Enqueue(msg WebSocketMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- msg:
		return true
	default:
		return false
	}
}

func (c *ClientConnection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// HealthSource is polled by the hub for periodic health pushes
type HealthSource interface {
	Health() models.HealthStatus
}

// WebSocketHub fans alerts and periodic health out to connected clients.
// Client bookkeeping is owned by the run goroutine.
type WebSocketHub struct {
	clients    map[string]*ClientConnection
	broadcast  chan WebSocketMessage
	register   chan *ClientConnection
	unregister chan string
	count      chan chan int
	done       chan struct{}

	health   HealthSource
	interval time.Duration
	logger   logr.Logger
}

// NewWebSocketHub creates a hub pushing health every interval
func NewWebSocketHub(health HealthSource, interval time.Duration, logger logr.Logger) *WebSocketHub {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &WebSocketHub{
		clients:    make(map[string]*ClientConnection),
		broadcast:  make(chan WebSocketMessage, 256),
		register:   make(chan *ClientConnection),
		unregister: make(chan string),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		health:     health,
		interval:   interval,
		logger:     logger.WithName("ws"),
	}
}

// Run manages the hub until ctx is cancelled, then closes every client
func (h *WebSocketHub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			return nil

		case client := <-h.register:
			if old, exists := h.clients[client.ID]; exists {
				old.closeSend()
			}
			h.clients[client.ID] = client
			h.logger.Info("client connected", "client", client.ID, "total", len(h.clients))

		case clientID := <-h.unregister:
			if client, exists := h.clients[clientID]; exists {
				delete(h.clients, clientID)
				client.closeSend()
				h.logger.Info("client disconnected", "client", clientID, "total", len(h.clients))
			}

		case reply := <-h.count:
			reply <- len(h.clients)

		case msg := <-h.broadcast:
			for _, client := range h.clients {
				// slow clients drop the message
				client.Enqueue(msg)
			}

		case <-ticker.C:
			if len(h.clients) == 0 || h.health == nil {
				continue
			}
			msg, err := NewMessage(MessageHealth, h.health.Health())
			if err != nil {
				h.logger.Error(err, "could not encode health")
				continue
			}
			for _, client := range h.clients {
				client.Enqueue(msg)
			}
		}
	}
}

// NewMessage encodes payload into a typed message
func NewMessage(kind string, payload any) (WebSocketMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return WebSocketMessage{}, err
	}
	return WebSocketMessage{Type: kind, Timestamp: time.Now(), Data: data}, nil
}

// Register adds a new client to the hub. It reports false once the hub has stopped.
func (h *WebSocketHub) Register(client *ClientConnection) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client from the hub
func (h *WebSocketHub) Unregister(clientID string) {
	select {
	case h.unregister <- clientID:
	case <-h.done:
	}
}

// Clients returns the number of connected clients
func (h *WebSocketHub) Clients() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}

// OnAlert is an AlertCallback that forwards alerts to every client. It only
// enqueues, so it returns well within any callback timeout.
func (h *WebSocketHub) OnAlert(ctx context.Context, alert models.Alert) error {
	msg, err := NewMessage(MessageAlert, alert)
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- msg:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

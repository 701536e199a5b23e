package controllers

import (
	"net/http"
	"time"

	"sentinel/internal/middleware"
	"sentinel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the token checked by AuthMiddleware is the access control here
	CheckOrigin: func(r *http.Request) bool { return true },
}

type clientMessage struct {
	Type string `json:"type"`
}

// HandleWebSocket upgrades an authenticated request and streams alerts and
// health to it
func (h *Handler) HandleWebSocket(c *gin.Context) {
	if h.Hub == nil {
		h.fail(c, errUnavailable)
		return
	}
	serverName := ""
	if claims, ok := c.Get(middleware.ClaimsKey); ok {
		serverName = claims.(*services.CustomClaims).ServerName
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error(err, "websocket upgrade failed", "ip", c.ClientIP())
		return
	}
	if h.Audit != nil {
		h.Audit.WebSocketConnected(c.ClientIP(), serverName)
	}

	client := &services.ClientConnection{
		ID:   serverName + "-" + uuid.NewString()[:8],
		Conn: ws,
		Send: make(chan services.WebSocketMessage, 64),
	}
	if msg, err := services.NewMessage(services.MessageHealth, h.Sentinel.Health()); err == nil {
		client.Enqueue(msg)
	}
	if !h.Hub.Register(client) {
		ws.Close()
		return
	}

	go h.readPump(client)
	go h.writePump(client)
}

// readPump handles pings from the client and detects disconnects
func (h *Handler) readPump(client *services.ClientConnection) {
	defer func() {
		h.Hub.Unregister(client.ID)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.Logger.V(1).Info("websocket read error", "client", client.ID, "error", err.Error())
			}
			return
		}

		switch msg.Type {
		case "ping":
			// the hub may already have closed Send during shutdown
			client.Enqueue(services.WebSocketMessage{Type: services.MessagePong, Timestamp: time.Now()})
		case "unsubscribe":
			return
		default:
			h.Logger.V(1).Info("unknown websocket message", "client", client.ID, "type", msg.Type)
		}
	}
}

// writePump writes queued messages and keeps the connection alive
func (h *Handler) writePump(client *services.ClientConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

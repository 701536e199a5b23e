package routes

import (
	"sentinel/internal/controllers"

	"github.com/gin-gonic/gin"
)

// RegisterAuthRoutes registers the token-guarded websocket stream.
// Tokens are issued by the CLI only; there is no HTTP token endpoint.
func RegisterAuthRoutes(r *gin.Engine, h *controllers.Handler, guard gin.HandlerFunc) {
	r.GET("/ws", guard, h.HandleWebSocket)
}

package routes

import (
	"sentinel/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterMonitorRoutes(r *gin.Engine, h *controllers.Handler) {
	r.GET("/health", h.GetHealth)
	r.GET("/status", h.GetStatus)
	r.GET("/sample", h.GetSample)
	r.GET("/history", h.GetHistory)
	r.GET("/summary", h.GetSummary)
	r.GET("/alerts", h.GetAlerts)
}

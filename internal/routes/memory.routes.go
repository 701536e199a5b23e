package routes

import (
	"sentinel/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterMemoryRoutes(r *gin.Engine, h *controllers.Handler, guard, writes gin.HandlerFunc) {
	memory := r.Group("/memory", guard)
	{
		memory.GET("", h.GetMemory)
		memory.POST("", writes, h.PostMemory)
	}
}

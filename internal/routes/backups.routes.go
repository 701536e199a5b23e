package routes

import (
	"sentinel/internal/controllers"

	"github.com/gin-gonic/gin"
)

func RegisterBackupRoutes(r *gin.Engine, h *controllers.Handler, guard, writes gin.HandlerFunc) {
	backups := r.Group("/backups", guard)
	{
		backups.GET("", h.GetBackups)
		backups.POST("", writes, h.PostSnapshot)
		backups.GET("/:id/restore", h.GetRestore)
	}
}

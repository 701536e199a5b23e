package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GetAlerts returns the active alerts and the most recent logged ones
// Query params: limit=N (default: 50)
func (h *Handler) GetAlerts(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	resp := gin.H{"active": h.Sentinel.ActiveAlerts()}
	if h.Alerts != nil {
		recent, err := h.Alerts.Recent(limit)
		if err != nil {
			h.fail(c, err)
			return
		}
		resp["recent"] = recent
	}
	c.JSON(http.StatusOK, resp)
}

package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GetHistory returns samples within a window
// Query params: duration=5m|10m|1h (default: 10m)
func (h *Handler) GetHistory(c *gin.Context) {
	durationStr := c.DefaultQuery("duration", "10m")
	duration, err := time.ParseDuration(durationStr)
	if err != nil || duration <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid duration format"})
		return
	}

	samples := h.Sentinel.History().Since(time.Now(), duration)
	c.JSON(http.StatusOK, gin.H{
		"duration": durationStr,
		"count":    len(samples),
		"data":     samples,
	})
}

// GetSummary aggregates the most recent samples
// Query params: readings=N (default: 10)
func (h *Handler) GetSummary(c *gin.Context) {
	n, err := strconv.Atoi(c.DefaultQuery("readings", "10"))
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "readings must be a positive integer"})
		return
	}
	c.JSON(http.StatusOK, h.Sentinel.History().Summary(n))
}

package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetHealth returns the derived health status
func (h *Handler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.Sentinel.Health())
}

// GetSample returns a live reading, cached briefly across pollers
func (h *Handler) GetSample(c *gin.Context) {
	sample, err := h.Live.Sample(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sample)
}

// GetStatus reports the loop state and the configuration in force
func (h *Handler) GetStatus(c *gin.Context) {
	cfg := h.Sentinel.Config()
	c.JSON(http.StatusOK, gin.H{
		"state":          h.Sentinel.State().String(),
		"history_size":   h.Sentinel.History().Len(),
		"check_interval": cfg.CheckInterval.String(),
		"thresholds": gin.H{
			"cpu":    cfg.CPUThreshold,
			"memory": cfg.MemoryThreshold,
			"disk":   cfg.DiskThreshold,
		},
	})
}

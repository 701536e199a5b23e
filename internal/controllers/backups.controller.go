package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type snapshotRequest struct {
	BufferID string            `json:"buffer_id" binding:"required"`
	Payload  []byte            `json:"payload"` // base64 in JSON
	Metadata map[string]string `json:"metadata"`
}

// GetBackups lists archives, newest first, with usage totals
func (h *Handler) GetBackups(c *gin.Context) {
	if h.Backups == nil {
		h.fail(c, errUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"backups": h.Backups.List(),
		"usage":   h.Backups.Usage(),
	})
}

// PostSnapshot archives a buffer before its owner mutates it
func (h *Handler) PostSnapshot(c *gin.Context) {
	if h.Backups == nil {
		h.fail(c, errUnavailable)
		return
	}
	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	archive, err := h.Backups.Snapshot(req.BufferID, req.Payload, req.Metadata)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, archive)
}

// GetRestore returns an archive's verified payload as raw bytes
func (h *Handler) GetRestore(c *gin.Context) {
	if h.Backups == nil {
		h.fail(c, errUnavailable)
		return
	}
	payload, err := h.Backups.Restore(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", payload)
}

package controllers

import (
	"net/http"
	"strconv"
	"time"

	"sentinel/internal/models"

	"github.com/gin-gonic/gin"
)

type storeRequest struct {
	Content    string   `json:"content" binding:"required"`
	SourceTag  string   `json:"source_tag"`
	Importance *float64 `json:"importance" binding:"required"`
}

type recordView struct {
	ID         string               `json:"id"`
	Timestamp  time.Time            `json:"timestamp"`
	SourceTag  string               `json:"source_tag"`
	Importance float64              `json:"importance"`
	Content    string               `json:"content"`
	Status     models.DecryptStatus `json:"status"`
}

// GetMemory returns records, most important first, with decrypted content
// Query params: limit=N (default: 20)
func (h *Handler) GetMemory(c *gin.Context) {
	if h.Store == nil {
		h.fail(c, errUnavailable)
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	records := h.Store.Retrieve(limit)
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		res := h.Store.Decrypt(rec)
		views = append(views, recordView{
			ID:         rec.ID,
			Timestamp:  rec.Timestamp,
			SourceTag:  rec.SourceTag,
			Importance: rec.Importance,
			Content:    res.Content,
			Status:     res.Status,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"records": views,
		"total":   h.Store.Count(),
	})
}

// PostMemory stores one encrypted record
func (h *Handler) PostMemory(c *gin.Context) {
	if h.Store == nil {
		h.fail(c, errUnavailable)
		return
	}
	var req storeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.Store.Store(req.Content, req.SourceTag, *req.Importance)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

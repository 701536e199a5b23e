package controllers

import (
	"errors"
	"net/http"

	"sentinel/internal/middleware"
	"sentinel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
)

// Handler serves the HTTP API. Store, Backups, Alerts and Hub are optional;
// their endpoints answer 503 when unset.
type Handler struct {
	Sentinel *services.Sentinel
	Live     services.Sampler
	Store    *services.EncryptedStore
	Backups  *services.BackupManager
	Alerts   *services.AlertLog
	Hub      *services.WebSocketHub
	Audit    *middleware.SecurityLogger
	Logger   logr.Logger
}

var errUnavailable = errors.New("component not configured")

// errorStatus maps service errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrRateLimitExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrArchiveNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrIntegrity):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidImportance):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrSampleUnavailable), errors.Is(err, errUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.Logger.Error(err, "request failed", "path", c.FullPath())
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

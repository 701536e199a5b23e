package routes

import (
	"sentinel/internal/controllers"
	"sentinel/internal/middleware"
	"sentinel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Security carries the access-control settings for the router
type Security struct {
	Auth           *services.AuthService
	Audit          *middleware.SecurityLogger
	AllowedOrigins []string
	AllowedIPs     []string
}

// NewRouter builds the gin engine with every endpoint registered. Read
// endpoints are open to whitelisted IPs; writes and the websocket need a token.
func NewRouter(h *controllers.Handler, sec Security) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.SecurityHeadersMiddleware())
	r.Use(middleware.CORSMiddleware(sec.AllowedOrigins))
	r.Use(middleware.IPWhitelistMiddleware(middleware.NewIPWhitelist(sec.AllowedIPs), sec.Audit))
	r.Use(middleware.RateLimitMiddleware(middleware.NewReadRateLimiter(), sec.Audit))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	guard := middleware.AuthMiddleware(sec.Auth, sec.Audit)
	writes := middleware.RateLimitMiddleware(middleware.NewWriteRateLimiter(), sec.Audit)

	RegisterMonitorRoutes(r, h)
	RegisterMemoryRoutes(r, h, guard, writes)
	RegisterBackupRoutes(r, h, guard, writes)
	RegisterAuthRoutes(r, h, guard)
	return r
}

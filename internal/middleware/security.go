package middleware

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"sentinel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
)

// ClaimsKey is the gin context key holding validated token claims
const ClaimsKey = "claims"

// IPRateLimiter implements token bucket rate limiting per IP
type IPRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
}

// NewIPRateLimiter creates a limiter granting limit events per second with burst
func NewIPRateLimiter(limit rate.Limit, burst int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// NewReadRateLimiter allows 100 requests per second per IP, burst of 200
func NewReadRateLimiter() *IPRateLimiter {
	return NewIPRateLimiter(rate.Limit(100), 200)
}

// NewWriteRateLimiter allows one mutating request every 2 seconds per IP, burst of 10
func NewWriteRateLimiter() *IPRateLimiter {
	return NewIPRateLimiter(rate.Every(2*time.Second), 10)
}

// GetLimiter gets or creates a limiter for an IP address
func (rl *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if limiter, exists := rl.limiters[ip]; exists {
		return limiter
	}
	limiter := rate.NewLimiter(rl.limit, rl.burst)
	rl.limiters[ip] = limiter
	return limiter
}

// RateLimitMiddleware enforces rate limiting per IP
func RateLimitMiddleware(limiter *IPRateLimiter, audit *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.GetLimiter(ip).Allow() {
			audit.RateLimited(ip, c.FullPath())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", "default-src 'none'")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// CORSMiddleware echoes allowed origins. An empty list allows none.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := strings.TrimRight(c.GetHeader("Origin"), "/")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			c.Header("Vary", "Origin")
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, o := range allowed {
		trimmed := strings.TrimRight(strings.TrimSpace(o), "/")
		if trimmed == "" {
			continue
		}
		if trimmed == "*" || origin == trimmed {
			return true
		}
		// bare host entries match any scheme
		if !strings.Contains(trimmed, "://") {
			if parsed, err := url.Parse(origin); err == nil && parsed.Host == trimmed {
				return true
			}
		}
	}
	return false
}

// IPWhitelist restricts access to listed IPs. Loopback is always allowed.
type IPWhitelist struct {
	ips map[string]bool
}

// NewIPWhitelist creates a new IP whitelist
func NewIPWhitelist(ips []string) *IPWhitelist {
	wl := &IPWhitelist{ips: make(map[string]bool)}
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			wl.ips[ip] = true
		}
	}
	return wl
}

// IsAllowed checks if an IP is whitelisted
func (wl *IPWhitelist) IsAllowed(ip string) bool {
	host, _, err := net.SplitHostPort(ip)
	if err != nil {
		host = ip
	}
	if parsed := net.ParseIP(host); parsed != nil && parsed.IsLoopback() {
		return true
	}
	if len(wl.ips) == 0 {
		return true
	}
	return wl.ips[host]
}

// IPWhitelistMiddleware enforces IP whitelisting
func IPWhitelistMiddleware(whitelist *IPWhitelist, audit *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !whitelist.IsAllowed(ip) {
			audit.AccessDenied(ip)
			c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// AuthMiddleware requires a valid bearer token (or ?token= for websocket
// upgrades) and stores its claims under ClaimsKey
func AuthMiddleware(auth *services.AuthService, audit *SecurityLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			audit.FailedAuth(c.ClientIP(), "missing token")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}
		claims, err := auth.ValidateToken(token)
		if err != nil {
			audit.FailedAuth(c.ClientIP(), err.Error())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// BearerToken extracts a token from the Authorization header, falling back to
// the token query parameter
func BearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return c.Query("token")
}

// SecurityLogger records security events
type SecurityLogger struct {
	logger logr.Logger
}

// NewSecurityLogger creates a security event logger
func NewSecurityLogger(logger logr.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger.WithName("security")}
}

// FailedAuth logs failed authentication attempts
func (sl *SecurityLogger) FailedAuth(ip, reason string) {
	sl.logger.Info("failed authentication", "ip", ip, "reason", reason)
}

// AccessDenied logs requests from non-whitelisted IPs
func (sl *SecurityLogger) AccessDenied(ip string) {
	sl.logger.Info("access denied for non-whitelisted IP", "ip", ip)
}

// RateLimited logs rejected requests
func (sl *SecurityLogger) RateLimited(ip, path string) {
	sl.logger.Info("rate limit exceeded", "ip", ip, "path", path)
}

// WebSocketConnected logs successful WebSocket connections
func (sl *SecurityLogger) WebSocketConnected(ip, serverName string) {
	sl.logger.Info("websocket connected", "ip", ip, "server", serverName)
}

// ValidServerName checks a token subject is alphanumeric with - _ .
func ValidServerName(name string) bool {
	if len(name) < 1 || len(name) > 255 {
		return false
	}
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') ||
			(c >= 'A' && c <= 'Z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.') {
			return false
		}
	}
	return true
}

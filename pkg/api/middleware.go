package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CORSMiddleware handles CORS headers
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter tracks request rates per IP over a fixed one-minute window
type RateLimiter struct {
	requests map[string]*requestCounter
	limit    int
	window   time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

type requestCounter struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*requestCounter),
		limit:    requestsPerMinute,
		window:   time.Minute,
		now:      time.Now,
	}
}

// Allow checks if a request should be allowed
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	counter, exists := rl.requests[ip]
	if !exists || now.After(counter.resetTime) {
		rl.requests[ip] = &requestCounter{count: 1, resetTime: now.Add(rl.window)}
		return true
	}

	if counter.count >= rl.limit {
		return false
	}

	counter.count++
	return true
}

// cleanup removes expired entries until ctx ends
func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, counter := range rl.requests {
		if now.After(counter.resetTime) {
			delete(rl.requests, ip)
		}
	}
}

// RateLimitMiddleware applies rate limiting
func RateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error:   "rate limit exceeded",
				Message: fmt.Sprintf("maximum %d requests per minute", limiter.limit),
			})
			return
		}

		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("client", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			logger.Warn("request failed", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

// ErrorResponse is a standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

// SuccessResponse is a standard success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

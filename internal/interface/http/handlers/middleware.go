package handlers

import (
	"crypto/subtle"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/alem-hub/alem-gamification/pkg/logger"
)

// Context keys set by the middleware below.
const (
	ContextKeyRequestID = "request_id"
	ContextKeyAdmin     = "is_admin"

	HeaderRequestID = "X-Request-ID"
	HeaderAdminKey  = "X-Admin-Token"
)

// ErrorBody is the JSON error envelope written by middleware and handlers.
type ErrorBody struct {
	Error APIError `json:"error"`
}

// APIError describes a failed request.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Abort stops the chain with an error envelope.
func Abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Error: APIError{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(ContextKeyRequestID),
	}})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST ID
// ══════════════════════════════════════════════════════════════════════════════

// RequestID propagates X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ContextKeyRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(
			logger.WithContext(c.Request.Context(), logger.FromContext(c.Request.Context()).WithRequestID(id)),
		)
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// LOGGING & RECOVERY
// ══════════════════════════════════════════════════════════════════════════════

// AccessLog logs every request after it completes.
func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []logger.Field{
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()),
			logger.Latency(time.Since(start)),
			logger.String("ip", c.ClientIP()),
			logger.String("request_id", c.GetString(ContextKeyRequestID)),
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("http request", append(fields, logger.String("errors", c.Errors.String()))...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}

// Recovery turns a panic into a 500 and logs the stack.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					logger.Any("error", r),
					logger.String("stack", string(debug.Stack())),
					logger.String("path", c.Request.URL.Path),
					logger.String("request_id", c.GetString(ContextKeyRequestID)),
				)
				Abort(c, http.StatusInternalServerError, "internal_error", "an unexpected error occurred")
			}
		}()
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTH
// ══════════════════════════════════════════════════════════════════════════════

// AdminToken marks requests carrying the admin token. With required set,
// requests without it are rejected; an empty token disables the route.
func AdminToken(token string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderAdminKey)
		if key == "" {
			if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		ok := token != "" && key != "" && subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1
		c.Set(ContextKeyAdmin, ok)

		if required && !ok {
			if token == "" {
				Abort(c, http.StatusNotFound, "not_found", "admin endpoints are disabled")
				return
			}
			Abort(c, http.StatusUnauthorized, "unauthorized", "a valid admin token is required")
			return
		}
		c.Next()
	}
}

// IsAdmin reports whether AdminToken accepted the request.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMIT
// ══════════════════════════════════════════════════════════════════════════════

// NewRateLimiter allows limit requests per window for each client key,
// with bursts up to limit.
func NewRateLimiter(limit int, window time.Duration) ratelimit.RateLimiter {
	return ratelimit.New(&ratelimit.Config{
		Rate:     limit,
		Burst:    limit,
		Interval: window,
	})
}

// RateLimit rejects requests from a client IP once its bucket is empty.
func RateLimit(limiter ratelimit.RateLimiter, window time.Duration) gin.HandlerFunc {
	retryAfter := formatSeconds(window)
	return func(c *gin.Context) {
		if !limiter.Allow(c.Request.Context(), c.ClientIP()) {
			c.Header("Retry-After", retryAfter)
			Abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			return
		}
		c.Next()
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// HEADERS
// ══════════════════════════════════════════════════════════════════════════════

// SecurityHeaders adds security-related headers.
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}

// NoCache prevents caching of responses.
func NoCache() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

func formatSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

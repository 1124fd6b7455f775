package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"checkout-backend/internal/ratelimit"
	"checkout-backend/internal/usecase"
)

const (
	ctxRequestID = "requestId"
	ctxCaller    = "caller"
)

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = c.GetHeader("Idempotency-Key")
		}
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", c.GetString(ctxRequestID),
		)
	}
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Request-Id")
		c.Header("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// identity resolves the optional bearer token. Requests without a valid
// token continue as anonymous callers.
func (s *Server) identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		var caller usecase.Caller
		if s.deps.Identity != nil {
			h := c.GetHeader("Authorization")
			if strings.HasPrefix(strings.ToLower(h), "bearer ") {
				caller = s.deps.Identity.Resolve(strings.TrimSpace(h[7:]))
			}
		}
		c.Set(ctxCaller, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) usecase.Caller {
	if v, ok := c.Get(ctxCaller); ok {
		if caller, ok := v.(usecase.Caller); ok {
			return caller
		}
	}
	return usecase.Caller{}
}

func (s *Server) rateLimit(bucket string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Limiter == nil {
			c.Next()
			return
		}
		d := s.deps.Limiter.Check(c.Request.Context(), bucket, ratelimit.ClientKey(c.Request))
		if d.Limit > 0 {
			remaining := int64(d.Limit) - d.Count
			if remaining < 0 {
				remaining = 0
			}
			c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		}
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(d.RetryAfterSeconds()))
			s.abort(c, http.StatusTooManyRequests, "TooManyRequests", "rate limit exceeded")
			return
		}
		c.Next()
	}
}

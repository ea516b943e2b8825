package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Anthony-Michael/replyrocket-auth/internal/logging"
	"github.com/Anthony-Michael/replyrocket-auth/internal/server/metrics"
)

const requestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or makes one, echoes it, and
// stores it in the request context for the logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// AccessLog logs every request and feeds the HTTP metrics.
func AccessLog(logger logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		logger.Info(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"user_agent", c.Request.UserAgent(),
		)
		if m != nil {
			m.ObserveRequest(c.Request.Method, path, status, latency)
		}
	}
}

func Recovery(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(c.Request.Context(), "panic", "error", rec, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
					Detail:    "An unexpected error occurred",
					ErrorCode: "InternalServerError",
				})
			}
		}()
		c.Next()
	}
}

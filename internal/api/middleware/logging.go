// Package middleware provides HTTP middleware for the admin API:
// request logging and a shared-secret API key check.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// SlogRequestLogger logs one structured line per admin request. Health
// probes log at Debug so a poller doesn't drown the daemon's own
// socket-lifecycle logging.
func SlogRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		if logger == nil {
			return
		}
		level := slog.LevelInfo
		if path == "/health" {
			level = slog.LevelDebug
		}
		logger.Log(c.Request.Context(), level, "admin request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

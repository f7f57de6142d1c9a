package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAPIKey enforces a simple shared-secret API key on admin
// routes. An empty expected key disables the check (loopback-only
// default deployment).
func RequireAPIKey(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-API-Key")
		if expected == "" || got == expected {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

// OriginFilter rejects browser requests from origins that are not listed and
// answers CORS preflights. "*" allows any origin. Requests without an Origin
// header (native clients, the WebSocket transport) pass through.
func OriginFilter(allowedOrigins []string) gin.HandlerFunc {
	allowAll := slices.Contains(allowedOrigins, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" {
			origin = c.GetHeader("Sec-WebSocket-Origin")
		}
		if origin == "" {
			c.Next()
			return
		}

		if !allowAll && !slices.Contains(allowedOrigins, origin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Origin not allowed",
			})
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Add("Vary", "Origin")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"
)

// CORSMiddleware sets the CORS headers so the admin dashboard, served from a
// different port, can call this service directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Accept, X-Request-ID, X-Actor")
		c.Header("Access-Control-Max-Age", "3600")

		// Handle preflight requests (OPTIONS)
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

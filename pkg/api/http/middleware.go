package http

import (
	"github.com/gin-gonic/gin"
)

const (
	actorHeader  = "X-Actor"
	actorKey     = "actor"
	defaultActor = "anonymous"
)

// corsMiddleware allows browser clients from any origin
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Actor")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// actorMiddleware records the caller identity from the X-Actor header.
// Callers are trusted; authentication happens in front of this service.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader(actorHeader)
		if actor == "" {
			actor = defaultActor
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) string {
	if actor := c.GetString(actorKey); actor != "" {
		return actor
	}
	return defaultActor
}

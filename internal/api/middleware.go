package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"proximity-service/internal/logging"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

const userIDKey = "userID"

func RequestLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method
		c.Next()
		latency := time.Since(start)
		status := c.Writer.Status()
		entry := logger.WithField("status", status)
		if user, ok := c.Get(userIDKey); ok {
			entry = entry.WithField("user_id", user)
		}
		entry.Infof("Request: %s %s, Status: %d, Latency: %v", method, path, status, latency)
	}
}

// UserIDMiddleware reads the caller from X-User-ID. A missing header is
// allowed here; handlers that need a caller check for it.
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(UserIDHeader)
		if raw == "" {
			c.Next()
			return
		}
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid " + UserIDHeader + " header"})
			return
		}
		c.Set(userIDKey, id)
		c.Next()
	}
}

// callerID returns the authenticated user, writing a 401 when there is none.
func callerID(c *gin.Context) (int, bool) {
	if v, ok := c.Get(userIDKey); ok {
		return v.(int), true
	}
	c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing " + UserIDHeader + " header"})
	return 0, false
}

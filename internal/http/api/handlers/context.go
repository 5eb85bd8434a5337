// Package handlers implements the HTTP endpoints of the metering service.
package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// timeNow is swapped in tests exercising month boundaries.
var timeNow = time.Now

// ContextUserIDKey is where the auth middleware stores the caller's user ID.
const ContextUserIDKey = "auth.user_id"

func getUserID(c *gin.Context) uint64 {
	value, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0
	}
	userID, ok := value.(uint64)
	if !ok {
		return 0
	}
	return userID
}

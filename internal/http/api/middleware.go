// Package api wires the HTTP surface: routes, auth middleware, and the
// handler set.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/IshanKhanpara/tokenguard1/internal/http/api/handlers"
	"github.com/IshanKhanpara/tokenguard1/internal/models"
	"github.com/IshanKhanpara/tokenguard1/internal/security"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// internalTokenHeader carries the shared secret for service-to-service
// endpoints.
const internalTokenHeader = "X-Internal-Token"

// UserAuth validates the bearer token and loads the caller. Inactive and
// unknown users are rejected the same way as bad tokens.
func UserAuth(db *gorm.DB, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := security.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, errParse := security.ParseUserToken(jwtSecret, token)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).
			Where("id = ? AND active = ?", claims.UserID, true).
			Take(&user).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(handlers.ContextUserIDKey, user.ID)
		c.Next()
	}
}

// InternalAuth guards service-to-service endpoints with a shared secret.
func InternalAuth(internalToken string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(internalToken))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "internal endpoints disabled"})
			return
		}
		provided := []byte(strings.TrimSpace(c.GetHeader(internalTokenHeader)))
		if subtle.ConstantTimeCompare(expected, provided) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

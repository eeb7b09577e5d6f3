package middleware

import (
	"net/http"
	"strings"

	"github.com/CUknot/project_chat/utils"
	"github.com/gin-gonic/gin"
)

// Context keys set by Identity.
const (
	UserIDKey   = "userID"
	UserNameKey = "userName"
)

// Identity reads an optional bearer token. Requests without one pass through
// anonymously; a token that does not verify is rejected with 401.
func Identity(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || secret == "" {
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Bearer token required"})
			return
		}

		identity, err := utils.ParseToken(secret, tokenString)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(UserIDKey, identity.UserID)
		c.Set(UserNameKey, identity.UserName)
		c.Next()
	}
}

// CurrentUser returns the identity set by Identity, if any.
func CurrentUser(c *gin.Context) (utils.Identity, bool) {
	userID := c.GetString(UserIDKey)
	if userID == "" {
		return utils.Identity{}, false
	}
	return utils.Identity{UserID: userID, UserName: c.GetString(UserNameKey)}, true
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"channel-watch-server/internal/auth"
)

const sessionKeyContextKey = "sessionKey"

// AuthorizedSessions reports whether a session completed sign-in and is
// still live.
type AuthorizedSessions interface {
	IsAuthorized(key string) bool
}

func SessionKeyFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(sessionKeyContextKey)
	if !ok {
		return "", false
	}
	key, ok := v.(string)
	return key, ok && key != ""
}

// RequireSession accepts a Bearer access token and checks that the session
// it names is still authorized. Tokens outlive logouts, so the registry is
// consulted on every request.
func RequireSession(cfg auth.TokenConfig, sessions AuthorizedSessions) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}

		claims, err := auth.VerifyToken(parts[1], cfg)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			return
		}
		if !sessions.IsAuthorized(claims.SessionKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Session is not authorized"})
			return
		}

		c.Set(sessionKeyContextKey, claims.SessionKey)
		c.Next()
	}
}

// Package middleware holds the relay's gin middleware: bearer-token
// authentication and per-client rate limiting.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"relay/internal/auth"
)

const accountIDContextKey = "accountID"

// AccountIDFromContext returns the account id a prior RequireAuth call
// bound to this request, if any.
func AccountIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(accountIDContextKey)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// RequireAuth verifies the Bearer token on every request, consulting cache
// before falling back to full JWT verification.
func RequireAuth(cfg auth.TokenConfig, cache *auth.VerificationCache) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		claims, err := auth.VerifyCached(cache, parts[1], cfg)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authentication token"})
			c.Abort()
			return
		}

		c.Set(accountIDContextKey, claims.AccountID)
		c.Next()
	}
}

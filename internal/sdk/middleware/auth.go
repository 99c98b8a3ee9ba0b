package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/services/session"
)

// Authenticate validates the Authorization header and attaches the
// authenticated principal to the request context. Error responses stay
// low-information: expired, stale and malformed tokens all read as token
// problems, never as account details.
func Authenticate(sessions *session.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing_authorization_header"})
			c.Abort()
			return
		}

		// Expect "Bearer <token>" format.
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_authorization_header"})
			c.Abort()
			return
		}

		principal, err := sessions.AuthenticateBearer(c.Request.Context(), parts[1])
		if err != nil {
			switch {
			case errors.Is(err, session.ErrExpired):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "expired_token"})
			case errors.Is(err, session.ErrStale):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			case errors.Is(err, session.ErrInvalidToken):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
			default:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			}
			c.Abort()
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

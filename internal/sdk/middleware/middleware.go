// Package middleware provides HTTP middleware for authentication and
// authorization.
package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/services/session"
)

const principalKey = "principal"

// GetPrincipal fetches the authenticated principal from the request context.
func GetPrincipal(c *gin.Context) (session.Principal, error) {
	value, ok := c.Get(principalKey)
	if !ok {
		return session.Principal{}, errors.New("principal not found in context")
	}

	principal, ok := value.(session.Principal)
	if !ok || principal.UserID == "" {
		return session.Principal{}, errors.New("invalid principal in context")
	}

	return principal, nil
}

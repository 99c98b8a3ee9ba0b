package app

import (
	"errors"
	"net/mail"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/services/sentry"
)

const minPasswordLength = 6

func writeError(c *gin.Context, status int, errCode string, details map[string]string) {
	response := gin.H{
		"error": errCode,
	}

	if len(details) > 0 {
		response["details"] = details
	}

	c.JSON(status, response)
}

func validEmail(email string) bool {
	_, err := mail.ParseAddress(email)
	return err == nil
}

// validatePassword checks minimum password requirements.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return errors.New("password_too_short")
	}
	return nil
}

// =============================================================================

func (a *App) toSentry(c *gin.Context, handler, errType string, level sentry.Level, err error) {
	a.sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("handler", handler)
		scope.SetExtra("error_type", errType)
		scope.SetLevel(level)
		if reqID := c.GetHeader("X-Request-ID"); reqID != "" {
			scope.SetTag("request_id", reqID)
		}
		a.sentry.CaptureException(err)
	})
}

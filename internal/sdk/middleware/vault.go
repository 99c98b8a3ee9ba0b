package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"golang.org/x/crypto/bcrypt"
)

// VaultPinStore is the persistence slice the vault gate needs.
type VaultPinStore interface {
	GetVaultPin(ctx context.Context, userID string) (models.VaultPin, error)
}

// RequireVaultPin gates vault-scoped routes behind a second factor: the
// x-vault-pin header must match the caller's stored PIN hash. Runs after
// Authenticate.
func RequireVaultPin(store VaultPinStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := GetPrincipal(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		pin := c.GetHeader("x-vault-pin")
		if pin == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "vault_pin_required"})
			c.Abort()
			return
		}

		record, err := store.GetVaultPin(c.Request.Context(), principal.UserID)
		if err != nil {
			if sqldb.IsNotFound(err) {
				c.JSON(http.StatusForbidden, gin.H{"error": "vault_pin_not_set"})
			} else {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_vault_error"})
			}
			c.Abort()
			return
		}

		if err := bcrypt.CompareHashAndPassword(record.PinHash, []byte(pin)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_vault_pin"})
			c.Abort()
			return
		}

		c.Next()
	}
}

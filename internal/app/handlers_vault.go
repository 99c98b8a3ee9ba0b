package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/sdk/middleware"
	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/services/sentry"
)

const vaultPinLength = 4

type SetVaultPinRequest struct {
	Pin string `json:"pin"`
}

// HandleSetVaultPin stores or replaces the caller's vault PIN. The hash is
// built by an explicit factory before anything is persisted.
func (a *App) HandleSetVaultPin(c *gin.Context) {
	principal, err := middleware.GetPrincipal(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req SetVaultPinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Pin = strings.TrimSpace(req.Pin)
	if len(req.Pin) < vaultPinLength {
		writeError(c, http.StatusBadRequest, "pin_too_short", map[string]string{"field": "pin"})
		return
	}

	pinHash, err := models.NewVaultPinHash(req.Pin)
	if err != nil {
		a.toSentry(c, "set_vault_pin", "bcrypt", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_hash_error", nil)
		return
	}

	if err := a.db.UpsertVaultPin(c.Request.Context(), principal.UserID, pinHash); err != nil {
		a.toSentry(c, "set_vault_pin", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_vault_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Vault PIN set"})
}

// HandleVerifyVaultPin reports success when the x-vault-pin header checked
// by the RequireVaultPin middleware matched. File handlers sit behind the
// same gate.
func (a *App) HandleVerifyVaultPin(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Vault PIN verified"})
}

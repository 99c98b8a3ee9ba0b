package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/sdk/middleware"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
)

type EditProfileRequest struct {
	Username string `json:"username"`
}

type PasswordChangeRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (a *App) HandleMe(c *gin.Context) {
	principal, err := middleware.GetPrincipal(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	user, err := a.db.GetUserByID(c.Request.Context(), principal.UserID)
	if err != nil {
		if sqldb.IsNotFound(err) {
			writeError(c, http.StatusNotFound, "user_not_found", nil)
			return
		}
		a.toSentry(c, "me", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_verify_user_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (a *App) HandleEditProfile(c *gin.Context) {
	principal, err := middleware.GetPrincipal(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req EditProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	user, err := a.db.UpdateUsername(c.Request.Context(), principal.UserID, strings.TrimSpace(req.Username))
	if err != nil {
		if sqldb.IsNotFound(err) {
			writeError(c, http.StatusNotFound, "user_not_found", nil)
			return
		}
		a.toSentry(c, "edit_profile", "db", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_update_profile_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (a *App) HandlePasswordChange(c *gin.Context) {
	principal, err := middleware.GetPrincipal(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req PasswordChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	if err := validatePassword(req.NewPassword); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), map[string]string{"field": "newPassword"})
		return
	}

	if err := a.sessions.ChangePassword(c.Request.Context(), principal.UserID, req.OldPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, session.ErrPasswordNotSet):
			writeError(c, http.StatusBadRequest, "password_change_not_available", nil)
		case errors.Is(err, session.ErrInvalidCredentials):
			writeError(c, http.StatusUnauthorized, "current_password_incorrect", nil)
		case sqldb.IsNotFound(err):
			writeError(c, http.StatusNotFound, "user_not_found", nil)
		default:
			a.toSentry(c, "password_change", "session", sentry.LevelError, err)
			writeError(c, http.StatusInternalServerError, "internal_password_change_error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

// HandleStorageUsage reports the caller's quota consumption.
func (a *App) HandleStorageUsage(c *gin.Context) {
	principal, err := middleware.GetPrincipal(c)
	if err != nil {
		writeError(c, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	usage, err := a.quota.UsageFor(c.Request.Context(), principal.UserID)
	if err != nil {
		if sqldb.IsNotFound(err) {
			writeError(c, http.StatusNotFound, "user_not_found", nil)
			return
		}
		a.toSentry(c, "storage_usage", "quota", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_storage_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"storage": usage})
}

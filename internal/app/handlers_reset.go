package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
)

// ---------------------------------------------
// Password Reset Flow
// ---------------------------------------------

const resetRequestedMessage = "If the email exists, a password reset OTP has been sent"

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type VerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

// HandleForgotPassword starts the reset flow. The response is identical for
// known and unknown addresses; even storage failures on the lookup are
// reported to Sentry but answered with the same body, so the endpoint leaks
// nothing about which accounts exist.
func (a *App) HandleForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if !validEmail(req.Email) {
		writeError(c, http.StatusBadRequest, "invalid_email", nil)
		return
	}

	if err := a.sessions.RequestReset(c.Request.Context(), req.Email); err != nil {
		a.toSentry(c, "forgot_password", "session", sentry.LevelError, err)
	}

	c.JSON(http.StatusOK, gin.H{"message": resetRequestedMessage})
}

// HandleVerifyOTP exchanges a valid OTP for the reset token used by the
// final step. Mismatch and expiry share one error code.
func (a *App) HandleVerifyOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.OTP = strings.TrimSpace(req.OTP)
	if req.Email == "" || req.OTP == "" {
		writeError(c, http.StatusBadRequest, "missing_required_fields", nil)
		return
	}

	resetToken, err := a.sessions.VerifyOTP(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		if errors.Is(err, session.ErrInvalidOTP) {
			writeError(c, http.StatusUnauthorized, "invalid_otp", nil)
			return
		}
		a.toSentry(c, "verify_otp", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_verify_otp_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"resetToken": resetToken})
}

// HandleResetPassword completes the flow with the exchange token.
func (a *App) HandleResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(c, http.StatusBadRequest, "token_required", nil)
		return
	}
	if err := validatePassword(req.NewPassword); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), map[string]string{"field": "newPassword"})
		return
	}

	if err := a.sessions.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		if errors.Is(err, session.ErrInvalidOrExpiredToken) {
			writeError(c, http.StatusUnauthorized, "invalid_or_expired_reset_token", nil)
			return
		}
		a.toSentry(c, "reset_password", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_reset_password_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Password has been reset successfully"})
}

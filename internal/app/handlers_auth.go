package app

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
)

type SignupRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ConfirmPassword   string `json:"confirmPassword"`
	AgreementAccepted bool   `json:"agreementAccepted"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type RevokeRequest struct {
	Token string `json:"token"`
}

type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (a *App) HandleSignup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)

	if !req.AgreementAccepted {
		writeError(c, http.StatusBadRequest, "agreement_not_accepted", map[string]string{"field": "agreementAccepted"})
		return
	}
	if req.Password != req.ConfirmPassword {
		writeError(c, http.StatusBadRequest, "password_mismatch", map[string]string{"field": "confirmPassword"})
		return
	}
	if !validEmail(req.Email) {
		writeError(c, http.StatusBadRequest, "invalid_email", map[string]string{"field": "email"})
		return
	}
	if err := validatePassword(req.Password); err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), map[string]string{"field": "password"})
		return
	}

	user, pair, err := a.sessions.Signup(c.Request.Context(), req.Email, req.Password, req.AgreementAccepted, c.ClientIP())
	if err != nil {
		if errors.Is(err, sqldb.ErrDBDuplicatedEntry) {
			writeError(c, http.StatusConflict, "user_already_exists", map[string]string{"field": "email"})
			return
		}
		a.toSentry(c, "signup", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_signup_error", nil)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (a *App) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "missing_required_fields", nil)
		return
	}

	user, pair, err := a.sessions.LoginPassword(c.Request.Context(), req.Email, req.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			// Uniform wording: never reveal whether the account exists.
			writeError(c, http.StatusUnauthorized, "invalid_email_or_password", nil)
			return
		}
		a.toSentry(c, "login", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_login_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func (a *App) HandleRefresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.RefreshToken = strings.TrimSpace(req.RefreshToken)
	if req.RefreshToken == "" {
		writeError(c, http.StatusBadRequest, "refresh_token_required", nil)
		return
	}

	pair, err := a.sessions.Redeem(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidToken):
			writeError(c, http.StatusUnauthorized, "invalid_token", nil)
		case errors.Is(err, session.ErrExpired):
			writeError(c, http.StatusUnauthorized, "expired_token", nil)
		case errors.Is(err, session.ErrReuseDetected):
			writeError(c, http.StatusUnauthorized, "token_reuse_detected", nil)
		default:
			a.toSentry(c, "refresh", "session", sentry.LevelError, err)
			writeError(c, http.StatusInternalServerError, "internal_refresh_error", nil)
		}
		return
	}

	c.JSON(http.StatusOK, TokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
}

// HandleLogout revokes the presented refresh token and sets the logout
// watermark. The route is public: a client with only an expired access token
// can still log out by presenting its refresh token, and when a valid bearer
// token is attached the watermark is set even without one.
func (a *App) HandleLogout(c *gin.Context) {
	// Body is optional: a bearer-only logout carries no refresh token.
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req.RefreshToken = ""
	}

	userID := a.bearerUserID(c)
	if req.RefreshToken == "" && userID == "" {
		writeError(c, http.StatusBadRequest, "refresh_token_required", nil)
		return
	}

	if err := a.sessions.Logout(c.Request.Context(), strings.TrimSpace(req.RefreshToken), userID, c.ClientIP()); err != nil {
		a.toSentry(c, "logout", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_logout_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
}

// HandleRevokeToken marks a single refresh token revoked ("log out this
// device") without rotating or touching the watermark.
func (a *App) HandleRevokeToken(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid_request_body", nil)
		return
	}

	req.Token = strings.TrimSpace(req.Token)
	if req.Token == "" {
		writeError(c, http.StatusBadRequest, "token_required", nil)
		return
	}

	if err := a.sessions.Revoke(c.Request.Context(), req.Token, c.ClientIP()); err != nil {
		a.toSentry(c, "revoke", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_revoke_error", nil)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Token revoked"})
}

// bearerUserID extracts the user id from an optional bearer token on routes
// that do not require one. Invalid tokens are simply ignored.
func (a *App) bearerUserID(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}

	principal, err := a.sessions.AuthenticateBearer(c.Request.Context(), parts[1])
	if err != nil {
		return ""
	}
	return principal.UserID
}

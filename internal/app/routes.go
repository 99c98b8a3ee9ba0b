// Package app provides HTTP handlers for the drive API.
package app

import (
	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/sdk/middleware"
)

// ----------------------------------------------------------------------------
// Route Registration
// ----------------------------------------------------------------------------

func (a *App) RegisterRoutes() *gin.Engine {
	router := gin.New()

	// Global middleware chain
	router.Use(gin.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(a.cfg.CORSAllowOrigins, a.cfg.CORSAllowCredentials))

	// API v1 route group
	v1 := router.Group("/api/v1")
	{
		// Health check routes (public)
		health := v1.Group("/health")
		{
			health.GET("/readiness", a.HandleReadiness)
			health.GET("/liveness", a.HandleLiveness)
		}

		// Auth routes (public)
		auth := v1.Group("/auth")
		{
			auth.POST("/signup", a.HandleSignup)
			auth.POST("/login", a.HandleLogin)
			auth.POST("/refresh", a.HandleRefresh)
			auth.POST("/logout", a.HandleLogout)
			auth.POST("/revoke", a.HandleRevokeToken)
			auth.GET("/google", a.HandleGoogleAuth)
			auth.GET("/google/callback", a.HandleGoogleCallback)
			auth.POST("/password/forgot", a.HandleForgotPassword)    // Request a reset OTP by email (public).
			auth.POST("/password/verify-otp", a.HandleVerifyOTP)     // Exchange the OTP for a reset token (public).
			auth.POST("/password/reset", a.HandleResetPassword)      // Complete the reset with the exchange token (public).
		}

		// User routes (protected - requires authentication)
		user := v1.Group("/user")
		user.Use(middleware.Authenticate(a.sessions))
		{
			user.GET("/me", a.HandleMe)
			user.PATCH("/me/profile", a.HandleEditProfile)
			user.POST("/me/password/change", a.HandlePasswordChange)
			user.GET("/me/storage", a.HandleStorageUsage)
		}

		// Vault routes (protected - PIN management needs only the bearer
		// token; vault content routes additionally go through RequireVaultPin)
		vault := v1.Group("/vault")
		vault.Use(middleware.Authenticate(a.sessions))
		{
			vault.POST("/pin", a.HandleSetVaultPin)
			vault.POST("/pin/verify", middleware.RequireVaultPin(a.db), a.HandleVerifyVaultPin)
		}
	}

	return router
}

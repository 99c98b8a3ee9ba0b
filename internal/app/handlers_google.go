package app

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	oauthStateCookie = "oauth_state"
	googleUserInfo   = "https://www.googleapis.com/oauth2/v2/userinfo"
)

func (a *App) googleOAuthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     a.cfg.GoogleClientID,
		ClientSecret: a.cfg.GoogleClientSecret,
		RedirectURL:  a.cfg.GoogleCallbackURL,
		Scopes:       []string{"profile", "email"},
		Endpoint:     google.Endpoint,
	}
}

// HandleGoogleAuth redirects the client to Google's consent screen with a
// random state value pinned in a short-lived cookie.
func (a *App) HandleGoogleAuth(c *gin.Context) {
	if !a.cfg.GoogleEnabled() {
		writeError(c, http.StatusNotFound, "google_auth_not_configured", nil)
		return
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		a.toSentry(c, "google_auth", "state", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_oauth_error", nil)
		return
	}
	state := hex.EncodeToString(buf)

	c.SetCookie(oauthStateCookie, state, 300, "/", "", a.cfg.IsProduction(), true)
	c.Redirect(http.StatusTemporaryRedirect, a.googleOAuthConfig().AuthCodeURL(state))
}

// HandleGoogleCallback exchanges the authorization code, resolves the Google
// profile to a local account and issues a token pair. With FRONTEND_URL set
// the tokens travel by redirect; otherwise they come back as JSON.
func (a *App) HandleGoogleCallback(c *gin.Context) {
	if !a.cfg.GoogleEnabled() {
		writeError(c, http.StatusNotFound, "google_auth_not_configured", nil)
		return
	}

	state, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || c.Query("state") != state {
		writeError(c, http.StatusUnauthorized, "invalid_oauth_state", nil)
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", a.cfg.IsProduction(), true)

	code := c.Query("code")
	if code == "" {
		writeError(c, http.StatusUnauthorized, "google_auth_failed", nil)
		return
	}

	oauthCfg := a.googleOAuthConfig()
	oauthToken, err := oauthCfg.Exchange(c.Request.Context(), code)
	if err != nil {
		a.toSentry(c, "google_callback", "exchange", sentry.LevelError, err)
		writeError(c, http.StatusUnauthorized, "google_auth_failed", nil)
		return
	}

	profile, err := fetchGoogleProfile(c, oauthCfg, oauthToken)
	if err != nil {
		a.toSentry(c, "google_callback", "userinfo", sentry.LevelError, err)
		writeError(c, http.StatusUnauthorized, "google_auth_failed", nil)
		return
	}

	user, pair, err := a.sessions.ResolveGoogle(c.Request.Context(), profile, c.ClientIP())
	if err != nil {
		if errors.Is(err, session.ErrNoEmailInProfile) {
			writeError(c, http.StatusUnauthorized, "no_email_in_google_profile", nil)
			return
		}
		a.toSentry(c, "google_callback", "session", sentry.LevelError, err)
		writeError(c, http.StatusInternalServerError, "internal_oauth_error", nil)
		return
	}

	if a.cfg.FrontendURL != "" {
		c.Redirect(http.StatusTemporaryRedirect,
			fmt.Sprintf("%s/auth/callback?token=%s&refreshToken=%s", a.cfg.FrontendURL, pair.AccessToken, pair.RefreshToken))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":         user,
		"accessToken":  pair.AccessToken,
		"refreshToken": pair.RefreshToken,
	})
}

func fetchGoogleProfile(c *gin.Context, cfg *oauth2.Config, tok *oauth2.Token) (session.GoogleProfile, error) {
	client := cfg.Client(c.Request.Context(), tok)
	resp, err := client.Get(googleUserInfo)
	if err != nil {
		return session.GoogleProfile{}, fmt.Errorf("fetching google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session.GoogleProfile{}, fmt.Errorf("google userinfo returned status %d", resp.StatusCode)
	}

	var payload struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return session.GoogleProfile{}, fmt.Errorf("decoding google userinfo: %w", err)
	}

	return session.GoogleProfile{ID: payload.ID, Email: payload.Email, Name: payload.Name}, nil
}

package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/skystash/drive-api/internal/config"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/quota"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
	"github.com/skystash/drive-api/internal/services/token"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type captureMailer struct {
	mu   sync.Mutex
	otps map[string]string
}

func (m *captureMailer) SendPasswordResetOTP(to, otp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.otps[to] = otp
	return nil
}

func (m *captureMailer) otpFor(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.otps[to]
}

type testServer struct {
	router *gin.Engine
	store  *sqldb.MemoryService
	mailer *captureMailer
	clock  *fakeClock
}

func newTestServer() *testServer {
	clock := newFakeClock()
	store := sqldb.NewMemory()
	mailer := &captureMailer{otps: map[string]string{}}

	cfg := config.Config{
		Port:        "0",
		Environment: "test",
		JWTSecret:   "test-secret",
		JWTIssuer:   "drive-api",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  7 * 24 * time.Hour,
		OTPTTL:      10 * time.Minute,
	}

	tokens := token.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL).WithClock(clock.Now)
	sessions := session.NewService(store, tokens, mailer, cfg.OTPTTL).WithClock(clock.Now)

	application := NewApp(cfg, store, sentry.NewService("", cfg.Environment), sessions, quota.NewService(store))

	return &testServer{
		router: application.RegisterRoutes(),
		store:  store,
		mailer: mailer,
		clock:  clock,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (s *testServer) signup(t *testing.T, email, password string) (access, refresh string) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/signup", gin.H{
		"email":             email,
		"password":          password,
		"confirmPassword":   password,
		"agreementAccepted": true,
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	return body["accessToken"].(string), body["refreshToken"].(string)
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// ---------------------------------------------
// Signup and Login
// ---------------------------------------------

func TestSignupAndLogin(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, refresh := s.signup(t, "e2e@example.com", "secret1")
	require.NotEmpty(t, access)
	require.NotEmpty(t, refresh)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "e2e@example.com",
		"password": "secret1",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	user := body["user"].(map[string]any)
	require.Equal(t, "e2e@example.com", user["email"])
	_, leaked := user["password"]
	require.False(t, leaked)
}

func TestSignupValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	cases := []struct {
		name    string
		payload gin.H
		errCode string
	}{
		{
			"agreement not accepted",
			gin.H{"email": "v@example.com", "password": "secret1", "confirmPassword": "secret1", "agreementAccepted": false},
			"agreement_not_accepted",
		},
		{
			"password mismatch",
			gin.H{"email": "v@example.com", "password": "secret1", "confirmPassword": "secret2", "agreementAccepted": true},
			"password_mismatch",
		},
		{
			"invalid email",
			gin.H{"email": "not-an-email", "password": "secret1", "confirmPassword": "secret1", "agreementAccepted": true},
			"invalid_email",
		},
		{
			"password too short",
			gin.H{"email": "v@example.com", "password": "short", "confirmPassword": "short", "agreementAccepted": true},
			"password_too_short",
		},
	}

	for _, tc := range cases {
		rec := s.do(t, http.MethodPost, "/api/v1/auth/signup", tc.payload, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		require.Equal(t, tc.errCode, decode(t, rec)["error"], tc.name)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	s.signup(t, "dup@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/signup", gin.H{
		"email":             "dup@example.com",
		"password":          "secret1",
		"confirmPassword":   "secret1",
		"agreementAccepted": true,
	}, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "user_already_exists", decode(t, rec)["error"])
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	s.signup(t, "anti@example.com", "secret1")

	wrongPassword := s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "anti@example.com",
		"password": "wrong-password",
	}, nil)
	unknownEmail := s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "ghost@example.com",
		"password": "wrong-password",
	}, nil)

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, wrongPassword.Code, unknownEmail.Code)
	require.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

// ---------------------------------------------
// Refresh Rotation
// ---------------------------------------------

func TestRefreshRotationAndReuse(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	_, refresh := s.signup(t, "rotate@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	next := body["refreshToken"].(string)
	require.NotEqual(t, refresh, next)

	// Replaying the consumed token trips reuse detection.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token_reuse_detected", decode(t, rec)["error"])

	// The legitimate successor died with the family.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": next}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token_reuse_detected", decode(t, rec)["error"])
}

func TestAccessTokensSurviveReuseUntilLogout(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	firstAccess, refresh := s.signup(t, "chain-e2e@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	secondAccess := decode(t, rec)["accessToken"].(string)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token_reuse_detected", decode(t, rec)["error"])

	// Family revocation kills refresh tokens only; issued access tokens
	// stay valid until the logout watermark moves.
	for _, access := range []string{firstAccess, secondAccess} {
		rec = s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer(access))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	s.clock.Advance(2 * time.Second)
	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(firstAccess))
	require.Equal(t, http.StatusOK, rec.Code)

	for _, access := range []string{firstAccess, secondAccess} {
		rec = s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer(access))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestRefreshRejectsUnknownAndMissingToken(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": "never-issued"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": ""}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	_, refresh := s.signup(t, "revoke-e2e@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/revoke", gin.H{"token": refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "token_reuse_detected", decode(t, rec)["error"])
}

// ---------------------------------------------
// Logout Watermark
// ---------------------------------------------

func TestLogoutInvalidatesBearer(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, refresh := s.signup(t, "bye@example.com", "secret1")

	rec := s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	// The watermark carries second precision; move past the issue second.
	s.clock.Advance(2 * time.Second)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The stateless access token no longer clears the watermark.
	rec = s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer(access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", decode(t, rec)["error"])

	// The refresh token is revoked too.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutWithBearerOnly(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, _ := s.signup(t, "bearer-bye@example.com", "secret1")

	s.clock.Advance(2 * time.Second)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer(access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRequiresSomeCredential(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := s.do(t, http.MethodPost, "/api/v1/auth/logout", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// ---------------------------------------------
// Password Reset Flow
// ---------------------------------------------

func TestPasswordResetFullFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	_, refresh := s.signup(t, "flow@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/password/forgot", gin.H{"email": "flow@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	otp := s.mailer.otpFor("flow@example.com")
	require.Len(t, otp, 6)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/password/verify-otp", gin.H{
		"email": "flow@example.com",
		"otp":   otp,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resetToken := decode(t, rec)["resetToken"].(string)
	require.Len(t, resetToken, 64)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/password/reset", gin.H{
		"token":       resetToken,
		"newPassword": "secret2",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Old password dead, new one works.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "flow@example.com", "password": "secret1"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "flow@example.com", "password": "secret2"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Sessions from before the reset are revoked.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/refresh", gin.H{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestForgotPasswordIsUniform(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	s.signup(t, "known@example.com", "secret1")

	known := s.do(t, http.MethodPost, "/api/v1/auth/password/forgot", gin.H{"email": "known@example.com"}, nil)
	unknown := s.do(t, http.MethodPost, "/api/v1/auth/password/forgot", gin.H{"email": "unknown@example.com"}, nil)

	require.Equal(t, http.StatusOK, known.Code)
	require.Equal(t, known.Code, unknown.Code)
	require.Equal(t, known.Body.String(), unknown.Body.String())
}

func TestVerifyOTPRejectsWrongCode(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	s.signup(t, "wrongotp@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/password/forgot", gin.H{"email": "wrongotp@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	otp := s.mailer.otpFor("wrongotp@example.com")
	wrong := []byte(otp)
	wrong[0] = '0' + ('9'-wrong[0])%10

	rec = s.do(t, http.MethodPost, "/api/v1/auth/password/verify-otp", gin.H{
		"email": "wrongotp@example.com",
		"otp":   string(wrong),
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_otp", decode(t, rec)["error"])
}

func TestResetPasswordRejectsOTP(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	s.signup(t, "otp-shortcut@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/auth/password/forgot", gin.H{"email": "otp-shortcut@example.com"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// The OTP itself never works as the final reset credential.
	rec = s.do(t, http.MethodPost, "/api/v1/auth/password/reset", gin.H{
		"token":       s.mailer.otpFor("otp-shortcut@example.com"),
		"newPassword": "secret2",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_or_expired_reset_token", decode(t, rec)["error"])
}

// ---------------------------------------------
// Protected Routes
// ---------------------------------------------

func TestProtectedRoutesRequireBearer(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := s.do(t, http.MethodGet, "/api/v1/user/me", nil, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "missing_authorization_header", decode(t, rec)["error"])

	rec = s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer("garbage"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_token", decode(t, rec)["error"])
}

func TestExpiredBearerIsReported(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, _ := s.signup(t, "expired-e2e@example.com", "secret1")

	s.clock.Advance(16 * time.Minute)

	rec := s.do(t, http.MethodGet, "/api/v1/user/me", nil, bearer(access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "expired_token", decode(t, rec)["error"])
}

func TestEditProfile(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, _ := s.signup(t, "profile@example.com", "secret1")

	rec := s.do(t, http.MethodPatch, "/api/v1/user/me/profile", gin.H{"username": "newname"}, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	user := decode(t, rec)["user"].(map[string]any)
	require.Equal(t, "newname", user["username"])
}

func TestPasswordChangeEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, _ := s.signup(t, "pwchange@example.com", "secret1")

	rec := s.do(t, http.MethodPost, "/api/v1/user/me/password/change", gin.H{
		"oldPassword": "wrong",
		"newPassword": "secret2",
	}, bearer(access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "current_password_incorrect", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/user/me/password/change", gin.H{
		"oldPassword": "secret1",
		"newPassword": "secret2",
	}, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", gin.H{"email": "pwchange@example.com", "password": "secret2"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStorageUsage(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, _ := s.signup(t, "storage@example.com", "secret1")

	rec := s.do(t, http.MethodGet, "/api/v1/user/me/storage", nil, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	storage := decode(t, rec)["storage"].(map[string]any)
	require.Equal(t, float64(0), storage["used"])
	require.Greater(t, storage["limit"].(float64), float64(0))
}

// ---------------------------------------------
// Vault PIN
// ---------------------------------------------

func TestVaultPinFlow(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	access, _ := s.signup(t, "vault@example.com", "secret1")

	// Verification before any PIN is set is refused.
	headers := bearer(access)
	headers["x-vault-pin"] = "1234"
	rec := s.do(t, http.MethodPost, "/api/v1/vault/pin/verify", nil, headers)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "vault_pin_not_set", decode(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/v1/vault/pin", gin.H{"pin": "1234"}, bearer(access))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/vault/pin/verify", nil, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	// Wrong PIN in the header is rejected.
	headers["x-vault-pin"] = "9999"
	rec = s.do(t, http.MethodPost, "/api/v1/vault/pin/verify", nil, headers)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid_vault_pin", decode(t, rec)["error"])

	// Missing header short-circuits before the store lookup.
	rec = s.do(t, http.MethodPost, "/api/v1/vault/pin/verify", nil, bearer(access))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "vault_pin_required", decode(t, rec)["error"])
}

// ---------------------------------------------
// Health
// ---------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer()

	rec := s.do(t, http.MethodGet, "/api/v1/health/liveness", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/health/readiness", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

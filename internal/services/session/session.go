// Package session implements the authentication core: credential and token
// strategies, the refresh-token rotation ledger, and the password reset
// flow. Protected handlers consume it through AuthenticateBearer, which is
// the only integration point they need.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/services/token"
)

var (
	ErrInvalidCredentials    = errors.New("invalid_credentials")
	ErrInvalidToken          = errors.New("invalid_token")
	ErrExpired               = errors.New("expired_token")
	ErrStale                 = errors.New("stale_token")
	ErrReuseDetected         = errors.New("token_reuse_detected")
	ErrNoEmailInProfile      = errors.New("no_email_in_profile")
	ErrInvalidOTP            = errors.New("invalid_otp")
	ErrInvalidOrExpiredToken = errors.New("invalid_or_expired_reset_token")
	ErrPasswordNotSet        = errors.New("password_not_set")
)

// Principal identifies an authenticated user. Everything outside the auth
// core keys on this and nothing else.
type Principal struct {
	UserID string
	Email  string
}

// TokenPair is an access/refresh pair handed to clients.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Store is the persistence the session core needs. sqldb.Service satisfies
// it; tests use the in-memory variant.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (models.User, error)
	GetUserByResetToken(ctx context.Context, resetToken string) (models.User, error)
	CreateUser(ctx context.Context, user models.NewUser) (models.User, error)
	LinkGoogleID(ctx context.Context, userID, googleID string) error
	UpdateUserPassword(ctx context.Context, userID string, newPassword []byte) error
	SetLastLogoutAt(ctx context.Context, userID string, at time.Time) error
	SetResetToken(ctx context.Context, userID, resetToken string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, userID string) error

	CreateRefreshToken(ctx context.Context, rt models.NewRefreshToken) (models.RefreshToken, error)
	GetRefreshTokenByToken(ctx context.Context, rt string) (models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, rt, revokedByIP, replacedByToken string, at time.Time) (bool, error)
	RevokeRefreshToken(ctx context.Context, rt, revokedByIP string, at time.Time) error
	RevokeRefreshTokensByUserID(ctx context.Context, userID, revokedByIP string, at time.Time) error
}

// Mailer dispatches password-reset mail. Failures are logged and swallowed
// so the outward response stays uniform.
type Mailer interface {
	SendPasswordResetOTP(to, otp string) error
}

type Service struct {
	store  Store
	tokens *token.Service
	mailer Mailer
	otpTTL time.Duration
	now    func() time.Time
}

func NewService(store Store, tokens *token.Service, mailer Mailer, otpTTL time.Duration) *Service {
	return &Service{
		store:  store,
		tokens: tokens,
		mailer: mailer,
		otpTTL: otpTTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// issuePair mints an access token and a ledger-recorded refresh token for
// the user. Shared by signup, login, OAuth callback and redemption.
func (s *Service) issuePair(ctx context.Context, user models.User, sourceIP string) (TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, err
	}

	refresh, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}

	if _, err := s.store.CreateRefreshToken(ctx, models.NewRefreshToken{
		UserID:      user.ID,
		Token:       refresh.Token,
		ExpiresAt:   refresh.ExpiresAt,
		CreatedByIP: sourceIP,
	}); err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

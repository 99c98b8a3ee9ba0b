package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"golang.org/x/crypto/bcrypt"
)

const (
	otpDigits = 6
	// Exchange tokens are 32 random bytes hex-encoded. The length gate in
	// ResetPassword keeps a guessed 6-digit OTP from ever being accepted as
	// the final reset credential.
	exchangeTokenBytes = 32
	exchangeTokenLen   = exchangeTokenBytes * 2
)

// RequestReset starts a password reset. The response is success-shaped
// whether or not the email exists, and a fresh request overwrites any reset
// already in flight. Mail dispatch failure is logged and swallowed so the
// outward behavior stays uniform.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return nil
		}
		return err
	}

	otp, err := generateOTP()
	if err != nil {
		return err
	}

	if err := s.store.SetResetToken(ctx, user.ID, otp, s.now().Add(s.otpTTL)); err != nil {
		return err
	}

	if err := s.mailer.SendPasswordResetOTP(user.Email, otp); err != nil {
		slog.Warn("reset email dispatch failed", "error", err)
	}

	return nil
}

// VerifyOTP exchanges a valid OTP for a high-entropy exchange token with a
// fresh expiry window. The slot is overwritten on success, so a given OTP
// verifies at most once. Mismatch and expiry are indistinguishable to the
// caller.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return "", ErrInvalidOTP
		}
		return "", err
	}

	if len(otp) != otpDigits || user.ResetToken == nil || user.ResetTokenExpiresAt == nil {
		return "", ErrInvalidOTP
	}
	if subtle.ConstantTimeCompare([]byte(*user.ResetToken), []byte(otp)) != 1 {
		return "", ErrInvalidOTP
	}
	if !s.now().Before(*user.ResetTokenExpiresAt) {
		return "", ErrInvalidOTP
	}

	buf := make([]byte, exchangeTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating exchange token: %w", err)
	}
	exchange := hex.EncodeToString(buf)

	if err := s.store.SetResetToken(ctx, user.ID, exchange, s.now().Add(s.otpTTL)); err != nil {
		return "", err
	}

	return exchange, nil
}

// ResetPassword consumes an exchange token and sets a new password. The
// account ends with a password either way, so the at-least-one-auth-method
// invariant holds even for previously OAuth-only accounts. All active
// refresh tokens are revoked afterwards.
func (s *Service) ResetPassword(ctx context.Context, exchangeToken, newPassword string) error {
	if len(exchangeToken) != exchangeTokenLen {
		return ErrInvalidOrExpiredToken
	}

	user, err := s.store.GetUserByResetToken(ctx, exchangeToken)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	if user.ResetTokenExpiresAt == nil || !s.now().Before(*user.ResetTokenExpiresAt) {
		return ErrInvalidOrExpiredToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := s.store.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return err
	}

	if err := s.store.ClearResetToken(ctx, user.ID); err != nil {
		return err
	}

	// A reset usually means the old credentials are suspect.
	return s.store.RevokeRefreshTokensByUserID(ctx, user.ID, "", s.now())
}

func generateOTP() (string, error) {
	max := big.NewInt(1000000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generating otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

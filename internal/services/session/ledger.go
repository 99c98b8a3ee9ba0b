package session

import (
	"context"

	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
)

// Redeem exchanges a refresh token for a fresh access/refresh pair, rotating
// the presented token. Presenting an already-revoked token is treated as
// credential theft: every token for that user is revoked before the failure
// is returned, so a later redemption by the legitimate client is guaranteed
// to observe the revoked family.
func (s *Service) Redeem(ctx context.Context, presented, sourceIP string) (TokenPair, error) {
	record, err := s.store.GetRefreshTokenByToken(ctx, presented)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}

	now := s.now()

	if record.RevokedAt != nil {
		if err := s.store.RevokeRefreshTokensByUserID(ctx, record.UserID, sourceIP, now); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrReuseDetected
	}

	// Natural expiry is not suspicious; no family revocation.
	if !now.Before(record.ExpiresAt) {
		return TokenPair{}, ErrExpired
	}

	user, err := s.store.GetUserByID(ctx, record.UserID)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}

	next, err := s.tokens.IssueRefreshToken()
	if err != nil {
		return TokenPair{}, err
	}

	// Conditional revoke is the only write that may race: of N concurrent
	// redemptions of the same token, exactly one sees rows-affected 1. The
	// losers fall into the reuse path.
	rotated, err := s.store.RotateRefreshToken(ctx, presented, sourceIP, next.Token, now)
	if err != nil {
		return TokenPair{}, err
	}
	if !rotated {
		if err := s.store.RevokeRefreshTokensByUserID(ctx, record.UserID, sourceIP, now); err != nil {
			return TokenPair{}, err
		}
		return TokenPair{}, ErrReuseDetected
	}

	if _, err := s.store.CreateRefreshToken(ctx, models.NewRefreshToken{
		UserID:      user.ID,
		Token:       next.Token,
		ExpiresAt:   next.ExpiresAt,
		CreatedByIP: sourceIP,
	}); err != nil {
		return TokenPair{}, err
	}

	access, err := s.tokens.IssueAccessToken(user.ID, user.Email)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:      access,
		RefreshToken:     next.Token,
		RefreshExpiresAt: next.ExpiresAt,
	}, nil
}

// Revoke marks a single refresh token revoked ("log out this device").
// Idempotent; unknown tokens are ignored.
func (s *Service) Revoke(ctx context.Context, presented, sourceIP string) error {
	return s.store.RevokeRefreshToken(ctx, presented, sourceIP, s.now())
}

// RevokeAllForUser bulk-revokes every active refresh token for a user.
func (s *Service) RevokeAllForUser(ctx context.Context, userID, sourceIP string) error {
	return s.store.RevokeRefreshTokensByUserID(ctx, userID, sourceIP, s.now())
}

// Logout revokes the presented refresh token and moves the user's logout
// watermark, which invalidates every access token issued before this moment
// even though those tokens are otherwise stateless. When no refresh token is
// presented the watermark is still set for the authenticated user.
func (s *Service) Logout(ctx context.Context, presented, userID, sourceIP string) error {
	now := s.now()

	if presented != "" {
		record, err := s.store.GetRefreshTokenByToken(ctx, presented)
		if err != nil {
			if sqldb.IsNotFound(err) {
				return nil
			}
			return err
		}

		if err := s.store.RevokeRefreshToken(ctx, presented, sourceIP, now); err != nil {
			return err
		}
		return s.store.SetLastLogoutAt(ctx, record.UserID, now)
	}

	if userID != "" {
		return s.store.SetLastLogoutAt(ctx, userID, now)
	}

	return nil
}

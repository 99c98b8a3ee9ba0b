package session

import (
	"context"
	"errors"
	"strings"

	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/token"
	"golang.org/x/crypto/bcrypt"
)

// GoogleProfile is the subset of an upstream OAuth profile the resolver
// needs. The access token that produced it has already been verified by the
// provider exchange.
type GoogleProfile struct {
	ID    string
	Email string
	Name  string
}

// Signup registers a password account and hands back its first token pair.
// The caller has already validated password shape and agreement acceptance.
func (s *Service) Signup(ctx context.Context, email, password string, agreementAccepted bool, sourceIP string) (models.User, TokenPair, error) {
	record, err := models.NewUserRecord(email, password, "", nil, agreementAccepted)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}

	user, err := s.store.CreateUser(ctx, record)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, user, sourceIP)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}

	return user, pair, nil
}

// LoginPassword authenticates with email and password. Unknown email, a
// passwordless (OAuth-only) account and a wrong password all surface the
// same ErrInvalidCredentials; bcrypt's comparison is constant-time, and no
// path reveals which check failed.
func (s *Service) LoginPassword(ctx context.Context, email, password, sourceIP string) (models.User, TokenPair, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if sqldb.IsNotFound(err) {
			return models.User{}, TokenPair{}, ErrInvalidCredentials
		}
		return models.User{}, TokenPair{}, err
	}

	if !user.HasPassword() {
		return models.User{}, TokenPair{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(password)); err != nil {
		return models.User{}, TokenPair{}, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user, sourceIP)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}

	return user, pair, nil
}

// AuthenticateBearer validates an access token and produces the principal
// protected handlers consume. Signature and expiry are checked before any
// storage read; the logout watermark is checked last, which is what makes
// logout effective against already-issued stateless tokens.
func (s *Service) AuthenticateBearer(ctx context.Context, raw string) (Principal, error) {
	claims, err := s.tokens.ParseAccessToken(raw)
	if err != nil {
		if errors.Is(err, token.ErrExpiredToken) {
			return Principal{}, ErrExpired
		}
		return Principal{}, ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}

	// iat carries second precision, so the watermark is compared in epoch
	// seconds to avoid rejecting tokens issued within the logout second.
	if user.LastLogoutAt != nil && claims.IssuedAt != nil {
		if claims.IssuedAt.Unix() < user.LastLogoutAt.Unix() {
			return Principal{}, ErrStale
		}
	}

	return Principal{UserID: user.ID, Email: user.Email}, nil
}

// ResolveGoogle maps a verified Google profile to a user: by linked Google
// id first, then by email (linking the id to the existing account), and
// finally by creating a fresh account with implicit agreement acceptance.
func (s *Service) ResolveGoogle(ctx context.Context, profile GoogleProfile, sourceIP string) (models.User, TokenPair, error) {
	if profile.Email == "" {
		return models.User{}, TokenPair{}, ErrNoEmailInProfile
	}

	user, err := s.store.GetUserByGoogleID(ctx, profile.ID)
	switch {
	case err == nil:
		// Already linked.
	case sqldb.IsNotFound(err):
		user, err = s.store.GetUserByEmail(ctx, profile.Email)
		switch {
		case err == nil:
			if err := s.store.LinkGoogleID(ctx, user.ID, profile.ID); err != nil {
				return models.User{}, TokenPair{}, err
			}
			user.GoogleID = &profile.ID
		case sqldb.IsNotFound(err):
			record, recErr := models.NewUserRecord(profile.Email, "", profile.Name, &profile.ID, true)
			if recErr != nil {
				return models.User{}, TokenPair{}, recErr
			}
			user, err = s.store.CreateUser(ctx, record)
			if err != nil {
				return models.User{}, TokenPair{}, err
			}
		default:
			return models.User{}, TokenPair{}, err
		}
	default:
		return models.User{}, TokenPair{}, err
	}

	pair, err := s.issuePair(ctx, user, sourceIP)
	if err != nil {
		return models.User{}, TokenPair{}, err
	}

	return user, pair, nil
}

// ChangePassword replaces the password after verifying the current one.
// OAuth-only accounts have nothing to verify against and are rejected; they
// gain a password through the reset flow instead.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if !user.HasPassword() {
		return ErrPasswordNotSet
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(oldPassword)); err != nil {
		return ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.store.UpdateUserPassword(ctx, userID, hash)
}

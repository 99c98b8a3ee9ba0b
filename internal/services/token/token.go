// Package token mints and validates the two token kinds the API hands out:
// short-lived signed access tokens and opaque random refresh tokens.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid_token")
	ErrExpiredToken  = errors.New("expired_token")
	ErrTokenNotFound = errors.New("token_not_found")
	ErrInvalidClaims = errors.New("invalid_claims")
)

// refreshTokenBytes is the entropy of an opaque refresh token (hex-encoded
// to twice that many characters).
const refreshTokenBytes = 40

// Claims are the access token claims. The subject is the user id; IssuedAt
// is compared against the user's logout watermark at validation time.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

type Service struct {
	secretKey  []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(secret, issuer string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		secretKey:  []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// IssueAccessToken mints a signed HS256 access token for the user. The token
// is self-contained and stateless; nothing is persisted.
func (s *Service) IssueAccessToken(userID, email string) (string, error) {
	now := s.now()
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}

	return signed, nil
}

// RefreshToken is a freshly generated opaque token and its expiry. The
// caller persists it through the session ledger.
type RefreshToken struct {
	Token     string
	ExpiresAt time.Time
}

// IssueRefreshToken generates a cryptographically random opaque token. Pure
// generation; it carries no structure the server does not hold elsewhere.
func (s *Service) IssueRefreshToken() (RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return RefreshToken{}, fmt.Errorf("generating refresh token: %w", err)
	}

	return RefreshToken{
		Token:     hex.EncodeToString(buf),
		ExpiresAt: s.now().Add(s.refreshTTL),
	}, nil
}

// ParseAccessToken verifies the signature and registered claims of an access
// token. It does no storage I/O; the logout-watermark check happens in the
// session authenticator.
func (s *Service) ParseAccessToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrTokenNotFound
	}

	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secretKey, nil
	})

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidToken
		case errors.Is(err, jwt.ErrTokenInvalidClaims):
			return nil, ErrInvalidClaims
		default:
			return nil, ErrInvalidToken
		}
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

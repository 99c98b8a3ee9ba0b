// Package models defines data models for the drive API.
package models

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultStorageLimit is the per-user quota for new accounts (15 GiB).
const DefaultStorageLimit int64 = 15 * 1024 * 1024 * 1024

// ErrNoAuthMethod is returned when a user record would end up with neither a
// password hash nor an external identity.
var ErrNoAuthMethod = errors.New("user must have a password or a linked google account")

// User represents an account in the system.
type User struct {
	ID                  string     `json:"id"`
	Email               string     `json:"email"`
	Password            []byte     `json:"-"`
	Username            string     `json:"username"`
	GoogleID            *string    `json:"-"`
	AgreementAccepted   bool       `json:"agreement_accepted"`
	LastLogoutAt        *time.Time `json:"-"`
	ResetToken          *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	StorageUsed         int64      `json:"storage_used"`
	StorageLimit        int64      `json:"storage_limit"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// HasPassword reports whether the account can authenticate with a password.
// OAuth-only accounts have no hash.
func (u User) HasPassword() bool {
	return len(u.Password) > 0
}

// NewUser carries the fields needed to insert a user row. The password is
// already hashed; use NewUserRecord to construct one.
type NewUser struct {
	Email             string
	Password          []byte
	Username          string
	GoogleID          *string
	AgreementAccepted bool
	StorageLimit      int64
}

// NewUserRecord builds a NewUser with the password hashed up front, so that
// hashing is an explicit construction step rather than storage-layer magic.
// Either a password or a google id must be supplied.
func NewUserRecord(email, password, username string, googleID *string, agreementAccepted bool) (NewUser, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var hash []byte
	if password != "" {
		var err error
		hash, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return NewUser{}, err
		}
	}

	if len(hash) == 0 && (googleID == nil || *googleID == "") {
		return NewUser{}, ErrNoAuthMethod
	}

	return NewUser{
		Email:             email,
		Password:          hash,
		Username:          username,
		GoogleID:          googleID,
		AgreementAccepted: agreementAccepted,
		StorageLimit:      DefaultStorageLimit,
	}, nil
}

// RefreshToken represents one link in a rotation chain. Rows are never
// deleted here; reuse detection depends on revoked entries staying around.
type RefreshToken struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Token           string     `json:"-"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CreatedByIP     string     `json:"-"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	RevokedByIP     *string    `json:"-"`
	ReplacedByToken *string    `json:"-"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Active reports whether the token can still be redeemed.
func (t RefreshToken) Active(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}

// NewRefreshToken carries the fields needed to insert a refresh token row.
type NewRefreshToken struct {
	UserID      string
	Token       string
	ExpiresAt   time.Time
	CreatedByIP string
}

// VaultPin holds the bcrypt hash of a user's vault PIN. One row per user.
type VaultPin struct {
	UserID    string    `json:"user_id"`
	PinHash   []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewVaultPinHash hashes a raw PIN for storage.
func NewVaultPinHash(pin string) ([]byte, error) {
	return bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
}

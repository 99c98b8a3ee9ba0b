package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestNewUserRecordHashesPassword(t *testing.T) {
	t.Parallel()

	record, err := NewUserRecord("  User@Example.COM ", "secret1", "user", nil, true)
	require.NoError(t, err)

	require.Equal(t, "user@example.com", record.Email)
	require.NotEqual(t, []byte("secret1"), record.Password)
	require.NoError(t, bcrypt.CompareHashAndPassword(record.Password, []byte("secret1")))
	require.Equal(t, DefaultStorageLimit, record.StorageLimit)
}

func TestNewUserRecordRequiresAuthMethod(t *testing.T) {
	t.Parallel()

	_, err := NewUserRecord("user@example.com", "", "", nil, true)
	require.ErrorIs(t, err, ErrNoAuthMethod)

	empty := ""
	_, err = NewUserRecord("user@example.com", "", "", &empty, true)
	require.ErrorIs(t, err, ErrNoAuthMethod)

	googleID := "sub-1"
	record, err := NewUserRecord("user@example.com", "", "", &googleID, true)
	require.NoError(t, err)
	require.Empty(t, record.Password)
}

func TestHasPassword(t *testing.T) {
	t.Parallel()

	require.False(t, User{}.HasPassword())
	require.True(t, User{Password: []byte("hash")}.HasPassword())
}

func TestRefreshTokenActive(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	revoked := now.Add(-time.Minute)

	cases := []struct {
		name  string
		token RefreshToken
		want  bool
	}{
		{"live", RefreshToken{ExpiresAt: now.Add(time.Hour)}, true},
		{"expired", RefreshToken{ExpiresAt: now.Add(-time.Hour)}, false},
		{"revoked", RefreshToken{ExpiresAt: now.Add(time.Hour), RevokedAt: &revoked}, false},
		{"expiry boundary", RefreshToken{ExpiresAt: now}, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.token.Active(now), tc.name)
	}
}

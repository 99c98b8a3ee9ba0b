package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService("test-secret", "drive-api", 15*time.Minute, 7*24*time.Hour)
}

func TestIssueAndParseAccessToken(t *testing.T) {
	t.Parallel()

	svc := newTestService()

	signed, err := svc.IssueAccessToken("user-1", "a@x.com")
	require.NoError(t, err)

	claims, err := svc.ParseAccessToken(signed)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "a@x.com", claims.Email)
	require.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.IssuedAt)
}

func TestParseAccessToken_Expired(t *testing.T) {
	t.Parallel()

	issued := time.Now().UTC().Add(-time.Hour)
	svc := newTestService()
	svc.WithClock(func() time.Time { return issued })

	signed, err := svc.IssueAccessToken("user-1", "a@x.com")
	require.NoError(t, err)

	svc.WithClock(func() time.Time { return time.Now().UTC() })

	_, err = svc.ParseAccessToken(signed)
	require.ErrorIs(t, err, ErrExpiredToken)
}

func TestParseAccessToken_WrongSecret(t *testing.T) {
	t.Parallel()

	svc := newTestService()
	signed, err := svc.IssueAccessToken("user-1", "a@x.com")
	require.NoError(t, err)

	other := NewService("other-secret", "drive-api", 15*time.Minute, 7*24*time.Hour)
	_, err = other.ParseAccessToken(signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseAccessToken_WrongIssuer(t *testing.T) {
	t.Parallel()

	other := NewService("test-secret", "someone-else", 15*time.Minute, 7*24*time.Hour)
	signed, err := other.IssueAccessToken("user-1", "a@x.com")
	require.NoError(t, err)

	_, err = newTestService().ParseAccessToken(signed)
	require.Error(t, err)
}

func TestParseAccessToken_Malformed(t *testing.T) {
	t.Parallel()

	svc := newTestService()

	_, err := svc.ParseAccessToken("not.a.jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ParseAccessToken("")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestIssueRefreshToken(t *testing.T) {
	t.Parallel()

	svc := newTestService()

	first, err := svc.IssueRefreshToken()
	require.NoError(t, err)
	second, err := svc.IssueRefreshToken()
	require.NoError(t, err)

	// 40 bytes of entropy, hex encoded.
	require.Len(t, first.Token, 80)
	require.NotEqual(t, first.Token, second.Token)
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), first.ExpiresAt, time.Minute)
}

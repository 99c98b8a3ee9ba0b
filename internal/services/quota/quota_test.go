package quota

import (
	"context"
	"testing"

	"github.com/skystash/drive-api/internal/sdk/models"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/stretchr/testify/require"
)

func newTestUser(t *testing.T, store *sqldb.MemoryService) models.User {
	t.Helper()
	record, err := models.NewUserRecord("quota@example.com", "secret1", "", nil, true)
	require.NoError(t, err)
	user, err := store.CreateUser(context.Background(), record)
	require.NoError(t, err)
	return user
}

func TestCheckWithinLimit(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)
	user := newTestUser(t, store)

	require.NoError(t, svc.Check(context.Background(), user.ID, 1024))
	require.NoError(t, svc.Check(context.Background(), user.ID, user.StorageLimit))
}

func TestCheckExceedsLimit(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)
	user := newTestUser(t, store)

	err := svc.Check(context.Background(), user.ID, user.StorageLimit+1)
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestCheckCountsExistingUsage(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)
	user := newTestUser(t, store)
	ctx := context.Background()

	_, err := svc.Add(ctx, user.ID, user.StorageLimit-100)
	require.NoError(t, err)

	require.NoError(t, svc.Check(ctx, user.ID, 100))
	require.ErrorIs(t, svc.Check(ctx, user.ID, 101), ErrQuotaExceeded)
}

func TestAddAndRelease(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)
	user := newTestUser(t, store)
	ctx := context.Background()

	usage, err := svc.Add(ctx, user.ID, 5000)
	require.NoError(t, err)
	require.Equal(t, int64(5000), usage.Used)
	require.Equal(t, user.StorageLimit, usage.Limit)

	usage, err = svc.Release(ctx, user.ID, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(3000), usage.Used)
}

func TestReleaseFloorsAtZero(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)
	user := newTestUser(t, store)
	ctx := context.Background()

	_, err := svc.Add(ctx, user.ID, 100)
	require.NoError(t, err)

	usage, err := svc.Release(ctx, user.ID, 500)
	require.NoError(t, err)
	require.Equal(t, int64(0), usage.Used)
}

func TestUsageForPercentage(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)
	user := newTestUser(t, store)
	ctx := context.Background()

	_, err := svc.Add(ctx, user.ID, user.StorageLimit/2)
	require.NoError(t, err)

	usage, err := svc.UsageFor(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50), usage.UsedPercentage)
}

func TestUnknownUser(t *testing.T) {
	t.Parallel()
	store := sqldb.NewMemory()
	svc := NewService(store)

	err := svc.Check(context.Background(), "no-such-user", 1)
	require.Error(t, err)
	require.True(t, sqldb.IsNotFound(err))
}

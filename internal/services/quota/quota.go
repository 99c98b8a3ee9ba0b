// Package quota tracks per-user storage usage against the account limit.
// File-management code consults it with the user id from the authenticated
// principal; it owns the counters on the user record and nothing else.
package quota

import (
	"context"
	"errors"

	"github.com/skystash/drive-api/internal/sdk/models"
)

// ErrQuotaExceeded is returned when an upload would push usage past the
// account limit.
var ErrQuotaExceeded = errors.New("storage_quota_exceeded")

// Store is the slice of persistence the quota service needs.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (models.User, error)
	AddStorageUsed(ctx context.Context, userID string, delta int64) (models.User, error)
}

// Usage is a point-in-time view of a user's storage consumption.
type Usage struct {
	Used           int64 `json:"used"`
	Limit          int64 `json:"limit"`
	UsedPercentage int64 `json:"used_percentage"`
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Check returns ErrQuotaExceeded when adding size bytes would exceed the
// user's limit. Callers re-check at write time; this is bookkeeping, not a
// reservation.
func (s *Service) Check(ctx context.Context, userID string, size int64) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.StorageUsed+size > user.StorageLimit {
		return ErrQuotaExceeded
	}

	return nil
}

// Add records size bytes of new storage for the user.
func (s *Service) Add(ctx context.Context, userID string, size int64) (Usage, error) {
	user, err := s.store.AddStorageUsed(ctx, userID, size)
	if err != nil {
		return Usage{}, err
	}
	return usageOf(user), nil
}

// Release returns size bytes to the user's quota. The stored counter floors
// at zero.
func (s *Service) Release(ctx context.Context, userID string, size int64) (Usage, error) {
	user, err := s.store.AddStorageUsed(ctx, userID, -size)
	if err != nil {
		return Usage{}, err
	}
	return usageOf(user), nil
}

// UsageFor reports current consumption for the user.
func (s *Service) UsageFor(ctx context.Context, userID string) (Usage, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Usage{}, err
	}
	return usageOf(user), nil
}

func usageOf(user models.User) Usage {
	usage := Usage{Used: user.StorageUsed, Limit: user.StorageLimit}
	if usage.Limit > 0 {
		usage.UsedPercentage = usage.Used * 100 / usage.Limit
	}
	return usage
}

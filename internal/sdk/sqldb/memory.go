package sqldb

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skystash/drive-api/internal/sdk/models"
)

// MemoryService is a mutex-guarded in-memory implementation of Service,
// used by tests and for running the API without a database. The rotation
// compare-and-set holds the same lock as every other mutation, so it gives
// the same at-most-one-winner guarantee as the SQL UPDATE.
type MemoryService struct {
	mu            sync.Mutex
	users         map[string]models.User         // keyed by id
	refreshTokens map[string]models.RefreshToken // keyed by token string
	vaultPins     map[string]models.VaultPin     // keyed by user id
}

func NewMemory() *MemoryService {
	return &MemoryService{
		users:         make(map[string]models.User),
		refreshTokens: make(map[string]models.RefreshToken),
		vaultPins:     make(map[string]models.VaultPin),
	}
}

func (m *MemoryService) Health() map[string]string {
	return map[string]string{"status": "up", "message": "in-memory store"}
}

func (m *MemoryService) Close() error { return nil }

func (m *MemoryService) Migrate() error { return nil }

// ---------------------------------------------
// User Operations
// ---------------------------------------------

func (m *MemoryService) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return models.User{}, ErrDBNotFound
	}
	return user, nil
}

func (m *MemoryService) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = strings.ToLower(email)
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return models.User{}, ErrDBNotFound
}

func (m *MemoryService) GetUserByGoogleID(ctx context.Context, googleID string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.GoogleID != nil && *user.GoogleID == googleID {
			return user, nil
		}
	}
	return models.User{}, ErrDBNotFound
}

func (m *MemoryService) GetUserByResetToken(ctx context.Context, token string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, user := range m.users {
		if user.ResetToken != nil && *user.ResetToken == token {
			return user, nil
		}
	}
	return models.User{}, ErrDBNotFound
}

func (m *MemoryService) CreateUser(ctx context.Context, newUser models.NewUser) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(newUser.Email)
	for _, user := range m.users {
		if user.Email == email {
			return models.User{}, ErrDBDuplicatedEntry
		}
	}

	now := time.Now().UTC()
	user := models.User{
		ID:                uuid.NewString(),
		Email:             email,
		Password:          newUser.Password,
		Username:          newUser.Username,
		GoogleID:          newUser.GoogleID,
		AgreementAccepted: newUser.AgreementAccepted,
		StorageLimit:      newUser.StorageLimit,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	m.users[user.ID] = user
	return user, nil
}

func (m *MemoryService) LinkGoogleID(ctx context.Context, userID, googleID string) error {
	return m.updateUser(userID, func(u *models.User) {
		u.GoogleID = &googleID
	})
}

func (m *MemoryService) UpdateUsername(ctx context.Context, userID, username string) (models.User, error) {
	if err := m.updateUser(userID, func(u *models.User) {
		u.Username = username
	}); err != nil {
		return models.User{}, err
	}
	return m.GetUserByID(ctx, userID)
}

func (m *MemoryService) UpdateUserPassword(ctx context.Context, userID string, newPassword []byte) error {
	return m.updateUser(userID, func(u *models.User) {
		u.Password = newPassword
	})
}

func (m *MemoryService) SetLastLogoutAt(ctx context.Context, userID string, at time.Time) error {
	return m.updateUser(userID, func(u *models.User) {
		u.LastLogoutAt = &at
	})
}

func (m *MemoryService) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return m.updateUser(userID, func(u *models.User) {
		u.ResetToken = &token
		u.ResetTokenExpiresAt = &expiresAt
	})
}

func (m *MemoryService) ClearResetToken(ctx context.Context, userID string) error {
	return m.updateUser(userID, func(u *models.User) {
		u.ResetToken = nil
		u.ResetTokenExpiresAt = nil
	})
}

func (m *MemoryService) updateUser(userID string, apply func(*models.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	if !ok {
		return ErrDBNotFound
	}
	apply(&user)
	user.UpdatedAt = time.Now().UTC()
	m.users[userID] = user
	return nil
}

// ---------------------------------------------
// Refresh Token Operations
// ---------------------------------------------

func (m *MemoryService) CreateRefreshToken(ctx context.Context, newToken models.NewRefreshToken) (models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[newToken.UserID]; !ok {
		return models.RefreshToken{}, ErrForeignKeyViolation
	}

	token := models.RefreshToken{
		ID:          uuid.NewString(),
		UserID:      newToken.UserID,
		Token:       newToken.Token,
		ExpiresAt:   newToken.ExpiresAt,
		CreatedByIP: newToken.CreatedByIP,
		CreatedAt:   time.Now().UTC(),
	}
	m.refreshTokens[token.Token] = token
	return token, nil
}

func (m *MemoryService) GetRefreshTokenByToken(ctx context.Context, token string) (models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.refreshTokens[token]
	if !ok {
		return models.RefreshToken{}, ErrDBNotFound
	}
	return record, nil
}

func (m *MemoryService) RotateRefreshToken(ctx context.Context, token, revokedByIP, replacedByToken string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.refreshTokens[token]
	if !ok || record.RevokedAt != nil {
		return false, nil
	}

	record.RevokedAt = &at
	record.RevokedByIP = &revokedByIP
	record.ReplacedByToken = &replacedByToken
	m.refreshTokens[token] = record
	return true, nil
}

func (m *MemoryService) RevokeRefreshToken(ctx context.Context, token, revokedByIP string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.refreshTokens[token]
	if !ok || record.RevokedAt != nil {
		return nil
	}

	record.RevokedAt = &at
	record.RevokedByIP = &revokedByIP
	m.refreshTokens[token] = record
	return nil
}

func (m *MemoryService) RevokeRefreshTokensByUserID(ctx context.Context, userID, revokedByIP string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, record := range m.refreshTokens {
		if record.UserID == userID && record.RevokedAt == nil {
			record.RevokedAt = &at
			record.RevokedByIP = &revokedByIP
			m.refreshTokens[key] = record
		}
	}
	return nil
}

func (m *MemoryService) DeleteExpiredRefreshTokens(ctx context.Context, olderThan time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, record := range m.refreshTokens {
		if record.ExpiresAt.Before(olderThan) {
			delete(m.refreshTokens, key)
		}
	}
	return nil
}

// ---------------------------------------------
// Vault PIN Operations
// ---------------------------------------------

func (m *MemoryService) UpsertVaultPin(ctx context.Context, userID string, pinHash []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return ErrForeignKeyViolation
	}

	now := time.Now().UTC()
	pin, ok := m.vaultPins[userID]
	if !ok {
		pin = models.VaultPin{UserID: userID, CreatedAt: now}
	}
	pin.PinHash = pinHash
	pin.UpdatedAt = now
	m.vaultPins[userID] = pin
	return nil
}

func (m *MemoryService) GetVaultPin(ctx context.Context, userID string) (models.VaultPin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pin, ok := m.vaultPins[userID]
	if !ok {
		return models.VaultPin{}, ErrDBNotFound
	}
	return pin, nil
}

// ---------------------------------------------
// Storage Counter Operations
// ---------------------------------------------

func (m *MemoryService) AddStorageUsed(ctx context.Context, userID string, delta int64) (models.User, error) {
	if err := m.updateUser(userID, func(u *models.User) {
		u.StorageUsed += delta
		if u.StorageUsed < 0 {
			u.StorageUsed = 0
		}
	}); err != nil {
		return models.User{}, err
	}
	return m.GetUserByID(ctx, userID)
}

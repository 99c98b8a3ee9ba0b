// Package sqldb provides database operations for the drive API.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/skystash/drive-api/internal/sdk/models"
)

// PostgreSQL error codes.
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"
)

var (
	ErrDBNotFound          = sql.ErrNoRows
	ErrDBDuplicatedEntry   = errors.New("duplicated entry")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrCheckViolation      = errors.New("check constraint violation")
)

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error

	// Migrate applies pending schema migrations.
	Migrate() error

	// User operations
	GetUserByID(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByGoogleID(ctx context.Context, googleID string) (models.User, error)
	GetUserByResetToken(ctx context.Context, token string) (models.User, error)
	CreateUser(ctx context.Context, user models.NewUser) (models.User, error)
	LinkGoogleID(ctx context.Context, userID, googleID string) error
	UpdateUsername(ctx context.Context, userID, username string) (models.User, error)
	UpdateUserPassword(ctx context.Context, userID string, newPassword []byte) error
	SetLastLogoutAt(ctx context.Context, userID string, at time.Time) error
	SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, userID string) error

	// Refresh token operations
	CreateRefreshToken(ctx context.Context, token models.NewRefreshToken) (models.RefreshToken, error)
	GetRefreshTokenByToken(ctx context.Context, token string) (models.RefreshToken, error)
	// RotateRefreshToken conditionally revokes a still-active token and links
	// its replacement in a single statement. It reports false when the token
	// was already revoked, so two racing redemptions cannot both win.
	RotateRefreshToken(ctx context.Context, token, revokedByIP, replacedByToken string, at time.Time) (bool, error)
	RevokeRefreshToken(ctx context.Context, token, revokedByIP string, at time.Time) error
	RevokeRefreshTokensByUserID(ctx context.Context, userID, revokedByIP string, at time.Time) error
	DeleteExpiredRefreshTokens(ctx context.Context, olderThan time.Time) error

	// Vault PIN operations
	UpsertVaultPin(ctx context.Context, userID string, pinHash []byte) error
	GetVaultPin(ctx context.Context, userID string) (models.VaultPin, error)

	// Storage counter operations
	AddStorageUsed(ctx context.Context, userID string, delta int64) (models.User, error)
}

type service struct {
	db       *sql.DB
	database string
}

// Config holds the connection settings for the Postgres pool.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

func New(cfg Config) (Service, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&search_path=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.Schema)
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &service{db: db, database: cfg.Database}, nil
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)
	const openConnectionsWarn = 40

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Printf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > openConnectionsWarn {
		stats["message"] = "The database is experiencing heavy load."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Printf("Disconnected from database: %s", s.database)
	return s.db.Close()
}

// ---------------------------------------------
// User Operations
// ---------------------------------------------

const userColumns = `
	id::text,
	email,
	password,
	username,
	google_id,
	agreement_accepted,
	last_logout_at,
	reset_token,
	reset_token_expires_at,
	storage_used,
	storage_limit,
	created_at,
	updated_at
`

// GetUserByID retrieves a user by their ID.
func (s *service) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM drive.users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address. Emails are stored
// lowercase; lookups fold case so addresses match case-insensitively.
func (s *service) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM drive.users WHERE email = LOWER($1)`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user by email: %w", err)
	}

	return user, nil
}

// GetUserByGoogleID retrieves a user by their linked Google account id.
func (s *service) GetUserByGoogleID(ctx context.Context, googleID string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM drive.users WHERE google_id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, googleID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user by google id: %w", err)
	}

	return user, nil
}

// GetUserByResetToken retrieves the user whose reset slot holds the token.
func (s *service) GetUserByResetToken(ctx context.Context, token string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM drive.users WHERE reset_token = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user by reset token: %w", err)
	}

	return user, nil
}

// CreateUser inserts a new user into the database.
func (s *service) CreateUser(ctx context.Context, newUser models.NewUser) (models.User, error) {
	query := `
		INSERT INTO drive.users (email, password, username, google_id, agreement_accepted, storage_limit)
		VALUES (LOWER($1), $2, $3, $4, $5, $6)
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		newUser.Email,
		newUser.Password,
		newUser.Username,
		newUser.GoogleID,
		newUser.AgreementAccepted,
		newUser.StorageLimit,
	))

	if err != nil {
		if isPgError(err, uniqueViolation) {
			return models.User{}, ErrDBDuplicatedEntry
		}
		return models.User{}, fmt.Errorf("creating user: %w", err)
	}

	return user, nil
}

// LinkGoogleID attaches a Google account id to an existing user.
func (s *service) LinkGoogleID(ctx context.Context, userID, googleID string) error {
	const query = `
		UPDATE drive.users
		SET google_id = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	return s.execExpectingRow(ctx, query, googleID, userID)
}

// UpdateUsername sets the display name for a user.
func (s *service) UpdateUsername(ctx context.Context, userID, username string) (models.User, error) {
	query := `
		UPDATE drive.users
		SET username = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, username, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("updating username: %w", err)
	}

	return user, nil
}

// UpdateUserPassword updates a user's password hash.
func (s *service) UpdateUserPassword(ctx context.Context, userID string, newPassword []byte) error {
	const query = `
		UPDATE drive.users
		SET password = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	return s.execExpectingRow(ctx, query, newPassword, userID)
}

// SetLastLogoutAt records the logout watermark that invalidates access
// tokens issued before it.
func (s *service) SetLastLogoutAt(ctx context.Context, userID string, at time.Time) error {
	const query = `
		UPDATE drive.users
		SET last_logout_at = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	return s.execExpectingRow(ctx, query, at, userID)
}

// SetResetToken stores the single password-reset slot (OTP or exchange
// token). A fresh request overwrites whatever was in flight.
func (s *service) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	const query = `
		UPDATE drive.users
		SET reset_token = $1,
		    reset_token_expires_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	return s.execExpectingRow(ctx, query, token, expiresAt, userID)
}

// ClearResetToken empties the password-reset slot.
func (s *service) ClearResetToken(ctx context.Context, userID string) error {
	const query = `
		UPDATE drive.users
		SET reset_token = NULL,
		    reset_token_expires_at = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	return s.execExpectingRow(ctx, query, userID)
}

// ---------------------------------------------
// Refresh Token Operations
// ---------------------------------------------

const refreshTokenColumns = `
	id::text,
	user_id::text,
	token,
	expires_at,
	created_by_ip,
	revoked_at,
	revoked_by_ip,
	replaced_by_token,
	created_at
`

// CreateRefreshToken inserts a new refresh token into the database.
func (s *service) CreateRefreshToken(ctx context.Context, newToken models.NewRefreshToken) (models.RefreshToken, error) {
	query := `
		INSERT INTO drive.refresh_tokens (user_id, token, expires_at, created_by_ip)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + refreshTokenColumns

	refreshToken, err := scanRefreshToken(s.db.QueryRowContext(ctx, query,
		newToken.UserID,
		newToken.Token,
		newToken.ExpiresAt,
		newToken.CreatedByIP,
	))

	if err != nil {
		if isPgError(err, foreignKeyViolation) {
			return models.RefreshToken{}, ErrForeignKeyViolation
		}
		return models.RefreshToken{}, fmt.Errorf("creating refresh token: %w", err)
	}

	return refreshToken, nil
}

// GetRefreshTokenByToken retrieves a refresh token by its token value.
func (s *service) GetRefreshTokenByToken(ctx context.Context, token string) (models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM drive.refresh_tokens WHERE token = $1`

	refreshToken, err := scanRefreshToken(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RefreshToken{}, ErrDBNotFound
		}
		return models.RefreshToken{}, fmt.Errorf("getting refresh token: %w", err)
	}

	return refreshToken, nil
}

// RotateRefreshToken marks a token revoked and links its replacement, but
// only if it has not been revoked already. The WHERE clause is the
// compare-and-set that serializes concurrent redemptions of the same token.
func (s *service) RotateRefreshToken(ctx context.Context, token, revokedByIP, replacedByToken string, at time.Time) (bool, error) {
	const query = `
		UPDATE drive.refresh_tokens
		SET revoked_at = $1,
		    revoked_by_ip = $2,
		    replaced_by_token = $3
		WHERE token = $4 AND revoked_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, at, revokedByIP, replacedByToken, token)
	if err != nil {
		return false, fmt.Errorf("rotating refresh token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// RevokeRefreshToken marks a refresh token as revoked. Idempotent: revoking
// an already-revoked token is not an error.
func (s *service) RevokeRefreshToken(ctx context.Context, token, revokedByIP string, at time.Time) error {
	const query = `
		UPDATE drive.refresh_tokens
		SET revoked_at = $1,
		    revoked_by_ip = $2
		WHERE token = $3 AND revoked_at IS NULL
	`

	if _, err := s.db.ExecContext(ctx, query, at, revokedByIP, token); err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}

	return nil
}

// RevokeRefreshTokensByUserID bulk-revokes every active token for a user.
// Used for family revocation on reuse detection and after password resets.
func (s *service) RevokeRefreshTokensByUserID(ctx context.Context, userID, revokedByIP string, at time.Time) error {
	const query = `
		UPDATE drive.refresh_tokens
		SET revoked_at = $1,
		    revoked_by_ip = $2
		WHERE user_id = $3 AND revoked_at IS NULL
	`

	if _, err := s.db.ExecContext(ctx, query, at, revokedByIP, userID); err != nil {
		return fmt.Errorf("revoking refresh tokens for user: %w", err)
	}

	return nil
}

// DeleteExpiredRefreshTokens removes tokens that expired before olderThan.
// Lineage rows are kept well past expiry; this is periodic TTL cleanup only.
func (s *service) DeleteExpiredRefreshTokens(ctx context.Context, olderThan time.Time) error {
	const query = `
		DELETE FROM drive.refresh_tokens
		WHERE expires_at < $1
	`

	if _, err := s.db.ExecContext(ctx, query, olderThan); err != nil {
		return fmt.Errorf("deleting expired refresh tokens: %w", err)
	}

	return nil
}

// ---------------------------------------------
// Vault PIN Operations
// ---------------------------------------------

// UpsertVaultPin stores or replaces the vault PIN hash for a user.
func (s *service) UpsertVaultPin(ctx context.Context, userID string, pinHash []byte) error {
	const query = `
		INSERT INTO drive.vault_pins (user_id, pin_hash)
		VALUES ($1, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET pin_hash = EXCLUDED.pin_hash, updated_at = CURRENT_TIMESTAMP
	`

	if _, err := s.db.ExecContext(ctx, query, userID, pinHash); err != nil {
		if isPgError(err, foreignKeyViolation) {
			return ErrForeignKeyViolation
		}
		return fmt.Errorf("upserting vault pin: %w", err)
	}

	return nil
}

// GetVaultPin retrieves the vault PIN record for a user.
func (s *service) GetVaultPin(ctx context.Context, userID string) (models.VaultPin, error) {
	const query = `
		SELECT user_id::text, pin_hash, created_at, updated_at
		FROM drive.vault_pins
		WHERE user_id = $1
	`

	var pin models.VaultPin
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&pin.UserID,
		&pin.PinHash,
		&pin.CreatedAt,
		&pin.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.VaultPin{}, ErrDBNotFound
		}
		return models.VaultPin{}, fmt.Errorf("getting vault pin: %w", err)
	}

	return pin, nil
}

// ---------------------------------------------
// Storage Counter Operations
// ---------------------------------------------

// AddStorageUsed adjusts the user's storage counter by delta (negative to
// release). The counter never goes below zero.
func (s *service) AddStorageUsed(ctx context.Context, userID string, delta int64) (models.User, error) {
	query := `
		UPDATE drive.users
		SET storage_used = GREATEST(0, storage_used + $1),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
		RETURNING ` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query, delta, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("updating storage usage: %w", err)
	}

	return user, nil
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(scanner rowScanner) (models.User, error) {
	var user models.User
	var googleID, resetToken sql.NullString
	var lastLogoutAt, resetExpires sql.NullTime
	if err := scanner.Scan(
		&user.ID,
		&user.Email,
		&user.Password,
		&user.Username,
		&googleID,
		&user.AgreementAccepted,
		&lastLogoutAt,
		&resetToken,
		&resetExpires,
		&user.StorageUsed,
		&user.StorageLimit,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return models.User{}, err
	}

	user.GoogleID = StringPtr(googleID)
	user.LastLogoutAt = TimePtr(lastLogoutAt)
	user.ResetToken = StringPtr(resetToken)
	user.ResetTokenExpiresAt = TimePtr(resetExpires)

	return user, nil
}

func scanRefreshToken(scanner rowScanner) (models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	var revokedAt sql.NullTime
	var revokedByIP, replacedByToken sql.NullString
	if err := scanner.Scan(
		&refreshToken.ID,
		&refreshToken.UserID,
		&refreshToken.Token,
		&refreshToken.ExpiresAt,
		&refreshToken.CreatedByIP,
		&revokedAt,
		&revokedByIP,
		&replacedByToken,
		&refreshToken.CreatedAt,
	); err != nil {
		return models.RefreshToken{}, err
	}

	refreshToken.RevokedAt = TimePtr(revokedAt)
	refreshToken.RevokedByIP = StringPtr(revokedByIP)
	refreshToken.ReplacedByToken = StringPtr(replacedByToken)

	return refreshToken, nil
}

// execExpectingRow runs an UPDATE that must touch exactly one row.
func (s *service) execExpectingRow(ctx context.Context, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("executing update: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrDBNotFound
	}

	return nil
}

// isPgError checks if the error is a PostgreSQL error with the given code.
func isPgError(err error, code string) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == code
	}
	return false
}

// StringPtr returns a pointer to a string from sql.NullString.
func StringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// TimePtr returns a pointer to a time.Time from sql.NullTime.
func TimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDBNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error.
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDBDuplicatedEntry)
}

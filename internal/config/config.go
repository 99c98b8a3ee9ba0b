// Package config loads the explicit service configuration from the
// environment and validates it at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/skystash/drive-api/internal/sdk/sqldb"
)

const jwtSecretPlaceholder = "your-secret-key-change-in-production"

// Config collects every setting the service needs. Components receive the
// values they care about through their constructors; nothing reads the
// environment after startup.
type Config struct {
	Port        string
	Environment string

	JWTSecret  string
	JWTIssuer  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	OTPTTL     time.Duration

	DB sqldb.Config

	MailtrapAPIKey    string
	MailtrapAPIURL    string
	MailtrapFromEmail string
	MailtrapFromName  string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string
	FrontendURL        string

	CORSAllowOrigins     []string
	CORSAllowCredentials bool

	SentryDSN string
}

// IsProduction reports whether the service runs with production hardening
// (diagnostic detail suppressed in responses).
func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// GoogleEnabled reports whether the Google OAuth strategy is configured.
func (c Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// Load reads the configuration from the environment. Missing or placeholder
// values for required settings fail startup instead of surfacing later as
// broken tokens.
func Load() (Config, error) {
	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("APP_ENV", "development"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		JWTIssuer:  getEnv("JWT_ISSUER", "drive-api"),
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		OTPTTL:     10 * time.Minute,

		DB: sqldb.Config{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     os.Getenv("DB_USERNAME"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: os.Getenv("DB_DATABASE"),
			Schema:   getEnv("DB_SCHEMA", "public"),
		},

		MailtrapAPIKey:    os.Getenv("MAILTRAP_API_KEY"),
		MailtrapAPIURL:    getEnv("MAILTRAP_API_URL", "https://send.api.mailtrap.io/api/send"),
		MailtrapFromEmail: getEnv("MAILTRAP_FROM_EMAIL", "noreply@example.com"),
		MailtrapFromName:  getEnv("MAILTRAP_FROM_NAME", "Drive API"),

		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		GoogleCallbackURL:  getEnv("GOOGLE_CALLBACK_URL", "http://localhost:8080/api/v1/auth/google/callback"),
		FrontendURL:        os.Getenv("FRONTEND_URL"),

		CORSAllowOrigins:     splitList(os.Getenv("CORS_ALLOW_ORIGINS")),
		CORSAllowCredentials: strings.EqualFold(os.Getenv("CORS_ALLOW_CREDENTIALS"), "true"),

		SentryDSN: os.Getenv("SENTRY_DSN"),
	}

	if d, err := parseDuration("JWT_ACCESS_TTL"); err != nil {
		return Config{}, err
	} else if d > 0 {
		cfg.AccessTTL = d
	}
	if d, err := parseDuration("JWT_REFRESH_TTL"); err != nil {
		return Config{}, err
	} else if d > 0 {
		cfg.RefreshTTL = d
	}
	if d, err := parseDuration("RESET_OTP_TTL"); err != nil {
		return Config{}, err
	} else if d > 0 {
		cfg.OTPTTL = d
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.DB.User == "" {
		missing = append(missing, "DB_USERNAME")
	}
	if c.DB.Database == "" {
		missing = append(missing, "DB_DATABASE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.JWTSecret == jwtSecretPlaceholder {
		return errors.New("JWT_SECRET must be changed from the default placeholder value")
	}

	// Google OAuth is optional, but a half-configured setup is a mistake.
	if (c.GoogleClientID == "") != (c.GoogleClientSecret == "") {
		return errors.New("GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET must be set together")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDuration(key string) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if value := strings.TrimSpace(part); value != "" {
			values = append(values, value)
		}
	}

	return values
}

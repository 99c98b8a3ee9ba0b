package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/skystash/drive-api/internal/app"
	"github.com/skystash/drive-api/internal/config"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/mailtrap"
	"github.com/skystash/drive-api/internal/services/quota"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
	"github.com/skystash/drive-api/internal/services/token"
)

var build string

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	// Configuration is validated before anything is wired.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sqlService, err := sqldb.New(cfg.DB)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer sqlService.Close()

	if err := sqlService.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	sentryService := sentry.NewService(cfg.SentryDSN, cfg.Environment)
	defer sentryService.Close()

	tokenService := token.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTTL, cfg.RefreshTTL)

	emailService := mailtrap.NewService(mailtrap.Config{
		APIKey:    cfg.MailtrapAPIKey,
		APIURL:    cfg.MailtrapAPIURL,
		FromEmail: cfg.MailtrapFromEmail,
		FromName:  cfg.MailtrapFromName,
	})

	sessionService := session.NewService(sqlService, tokenService, emailService, cfg.OTPTTL)
	quotaService := quota.NewService(sqlService)

	driveApp := app.NewApp(cfg, sqlService, sentryService, sessionService, quotaService)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      driveApp.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("server starting", "addr", srv.Addr, "build", build, "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen and serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}

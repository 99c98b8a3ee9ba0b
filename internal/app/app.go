package app

import (
	"github.com/skystash/drive-api/internal/config"
	"github.com/skystash/drive-api/internal/sdk/sqldb"
	"github.com/skystash/drive-api/internal/services/quota"
	"github.com/skystash/drive-api/internal/services/sentry"
	"github.com/skystash/drive-api/internal/services/session"
)

type App struct {
	cfg      config.Config
	db       sqldb.Service
	sentry   *sentry.Service
	sessions *session.Service
	quota    *quota.Service
}

func NewApp(
	cfg config.Config,
	db sqldb.Service,
	sentryService *sentry.Service,
	sessions *session.Service,
	quotaService *quota.Service,
) *App {
	return &App{
		cfg:      cfg,
		db:       db,
		sentry:   sentryService,
		sessions: sessions,
		quota:    quotaService,
	}
}

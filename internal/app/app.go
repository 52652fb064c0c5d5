// Package app wires the sync components from a loaded config. Both the
// server and the CLI start from here.
package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"dashsync/internal/config"
	"dashsync/internal/db"
	"dashsync/internal/events"
	"dashsync/internal/lock"
	"dashsync/internal/oauth"
	"dashsync/internal/orchestrator"
	"dashsync/internal/repository"
	gormrepository "dashsync/internal/repository/gorm"
	"dashsync/internal/repository/memory"
	"dashsync/internal/secure"
	"dashsync/internal/syncer"
	"dashsync/internal/tenant"
)

type App struct {
	Config       config.Config
	Logger       *zap.Logger
	DB           *db.DB
	Store        repository.Repository
	Tokens       *oauth.Manager
	Events       *events.Hub
	Orchestrator *orchestrator.Orchestrator
	DryRun       bool
}

// New opens the store and builds the orchestrator. With sync.dry_run set
// records go to an in-memory store and no database is opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, DryRun: cfg.Sync.DryRun}

	box := secure.New(cfg.Security)
	if !box.Enabled() {
		logger.Warn("security.token_key is empty, credentials are stored in plaintext")
	}

	if a.DryRun {
		logger.Info("dry run: using in-memory store")
		a.Store = memory.New()
	} else {
		conn, err := db.Open(cfg.DB)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		if err := db.Ping(ctx, conn); err != nil {
			_ = db.Close(conn)
			return nil, fmt.Errorf("db ping: %w", err)
		}
		if err := db.SetTimezone(conn, cfg.DB.Timezone); err != nil {
			logger.Warn("failed to set timezone", zap.Error(err))
		}
		if err := db.AutoMigrate(conn); err != nil {
			_ = db.Close(conn)
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
		a.DB = conn
		a.Store = gormrepository.New(conn.Gorm, box)
	}

	tenants, err := tenant.New(cfg.Tenants, a.Store)
	if err != nil {
		a.Close()
		return nil, err
	}
	locker, err := lock.New(cfg.Lock, cfg.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}

	if strings.TrimSpace(cfg.Teamleader.ClientID) != "" {
		a.Tokens = oauth.NewManager(cfg.Teamleader, RedirectURL(cfg), oauth.Options{
			Store:  a.Store,
			Box:    box,
			HTTP:   &http.Client{Timeout: cfg.HTTP.Teamleader.Timeout},
			Logger: logger.Named("oauth"),
		})
	}
	a.Events = events.NewHub(logger.Named("events"))

	a.Orchestrator = &orchestrator.Orchestrator{
		Tenants: tenants,
		Specs: &syncer.Catalog{
			Config: cfg,
			Store:  a.Store,
			Tokens: a.Tokens,
			Logger: logger.Named("syncer"),
			HTTP:   &http.Client{},
		},
		Engine:  &syncer.Engine{Store: a.Store, Logger: logger.Named("engine"), Now: db.NowUTC},
		Runs:    a.Store,
		Locker:  locker,
		LockTTL: cfg.Lock.TTL,
		Sync:    cfg.Sync,
		Config:  cfg.Orchestrator,
		Events:  a.Events,
		Logger:  logger.Named("orchestrator"),
		Now:     db.NowUTC,
	}
	return a, nil
}

// RedirectURL falls back to the public server URL when no explicit
// teamleader.redirect_url is configured.
func RedirectURL(cfg config.Config) string {
	if u := strings.TrimSpace(cfg.Teamleader.RedirectURL); u != "" {
		return u
	}
	return strings.TrimRight(cfg.Server.PublicURL, "/") + "/api/oauth/teamleader/callback"
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if err := db.Close(a.DB); err != nil {
		a.Logger.Warn("db close failed", zap.Error(err))
	}
}

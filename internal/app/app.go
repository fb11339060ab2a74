// Package app wires the engagement bot from its configuration: storage
// backend, ledger, questionnaire, reports, delivery and the job set. Both
// the long-running bot and the one-shot job runner are assembled here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"

	"github.com/outreach-hub/engagement-bot/config"
	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/questionnaire"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/external/telegram"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/messaging"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/docstore"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/postgres"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/redis"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/sqlite"
	"github.com/outreach-hub/engagement-bot/internal/interface/http/handlers"
)

// App holds the assembled components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Clock      *period.Clock
	Documents  *docstore.Resilient
	Store      *engagement.Store
	Engine     *questionnaire.Engine
	Reports    *report.Generator
	Client     *telegram.Client
	Dispatcher *messaging.Dispatcher
	Health     *handlers.CompositeHealthChecker

	// Redis is set whenever REDIS_HOST is configured.
	Redis *goredis.Client

	closers []func()
}

// New assembles every component. Nothing is started.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config: cfg,
		Logger: logger,
		Clock:  period.NewClock(cfg.App.Location()),
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	if cfg.Redis.Enabled() {
		rcfg := redis.DefaultConfig()
		rcfg.Host = cfg.Redis.Host
		rcfg.Port = cfg.Redis.Port
		rcfg.Password = cfg.Redis.Password
		rcfg.DB = cfg.Redis.DB
		rcfg.KeyPrefix = cfg.Redis.KeyPrefix

		client, err := redis.Connect(ctx, rcfg)
		if err != nil {
			return nil, err
		}
		a.Redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.Health.AddCheck("redis", func(ctx context.Context) error { return client.Ping(ctx).Err() })
		logger.Info("redis connection established", slog.String("addr", rcfg.Addr()))
	}

	backend, err := a.openBackend(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Documents = docstore.NewResilient(backend, docstore.ResilientConfig{
		Timeout:     cfg.Storage.Timeout,
		MaxAttempts: cfg.Storage.MaxAttempts,
		Logger:      logger,
	})
	a.Health.AddCheck("storage_breaker", handlers.NewBreakerCheck(func() string {
		return a.Documents.BreakerState().String()
	}))

	a.Store = engagement.NewStore(a.Documents, engagement.StoreConfig{
		Clock:           a.Clock,
		ConflictRetries: cfg.Storage.ConflictRetries,
		Logger:          logger,
	})
	a.Health.AddCheck("storage_sync", handlers.NewDegradedCheck(a.Store.Degraded, "unsynced state held in memory"))

	sessions := questionnaire.NewSessionTable(questionnaire.SessionTableConfig{
		TTL:         cfg.Engagement.SessionTTL,
		MaxSessions: cfg.Engagement.MaxSessions,
	})
	a.Engine = questionnaire.NewEngine(a.Store, questionnaire.EngineConfig{
		Sessions:    sessions,
		ResultCount: cfg.Engagement.ResultCount,
		Logger:      logger,
	})

	a.Reports = report.NewGenerator(report.Config{
		ActivityWindowDays: cfg.Engagement.StatsWindowDays,
		MaxUsersInDetail:   cfg.Engagement.MaxUsersInDetail,
		ExportDir:          cfg.Engagement.ExportDir,
		Logger:             logger,
	})

	clientCfg := telegram.DefaultClientConfig(cfg.Telegram.Token)
	clientCfg.PollTimeout = cfg.Telegram.PollTimeout
	clientCfg.Timeout = cfg.Telegram.RequestTimeout
	clientCfg.Logger = logger
	a.Client = telegram.NewClient(clientCfg)

	a.Dispatcher = messaging.NewDispatcher(a.Client, messaging.DispatcherConfig{
		Delay:  cfg.Engagement.SendDelay,
		Logger: logger,
	})
	return a, nil
}

func (a *App) openBackend(ctx context.Context) (engagement.DocumentStore, error) {
	cfg := a.Config
	log := a.Logger.With(slog.String("backend", cfg.Storage.Backend))

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory storage, state is lost on restart")
		return docstore.NewMemoryStore(), nil

	case config.BackendPostgres:
		pcfg := postgres.DefaultConfig()
		pcfg.URL = cfg.Postgres.URL
		pcfg.Host = cfg.Postgres.Host
		pcfg.Port = cfg.Postgres.Port
		pcfg.Database = cfg.Postgres.Database
		pcfg.User = cfg.Postgres.User
		pcfg.Password = cfg.Postgres.Password
		pcfg.SSLMode = cfg.Postgres.SSLMode
		pcfg.MaxConns = cfg.Postgres.MaxConns

		db, err := postgres.Connect(ctx, pcfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		migrator := postgres.NewMigrator(db)
		if err := migrator.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		if status, err := migrator.Status(ctx); err != nil {
			log.Warn("failed to get migration status", slog.String("error", err.Error()))
		} else {
			applied := 0
			for _, m := range status {
				if m.IsApplied {
					applied++
				}
			}
			log.Info("migrations completed", slog.Int("applied", applied), slog.Int("total", len(status)))
		}
		a.Health.AddCheck("postgres", handlers.NewPingCheck(db))
		return postgres.NewDocumentStore(db, log), nil

	case config.BackendRedis:
		if a.Redis == nil {
			return nil, errors.New("redis backend selected but REDIS_HOST is empty")
		}
		return redis.NewDocumentStore(a.Redis, cfg.Redis.KeyPrefix, log), nil

	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		log.Info("sqlite storage opened", slog.String("path", cfg.SQLite.Path))
		return store, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// Admins returns the administrator ids as user ids.
func (a *App) Admins() []shared.UserID {
	out := make([]shared.UserID, 0, len(a.Config.Telegram.AdminIDs))
	for _, id := range a.Config.Telegram.AdminIDs {
		out = append(out, shared.UserID(id))
	}
	return out
}

// Shutdown flushes unsynced state and releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Store != nil {
		if err = a.Store.Flush(ctx); err != nil {
			a.Logger.Error("final flush failed, unsynced state is lost", slog.String("error", err.Error()))
		}
	}
	a.Close()
	return err
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

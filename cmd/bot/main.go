// Package main is the entry point of the engagement bot: it long-polls
// Telegram, runs the scheduled jobs and serves the operations endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/outreach-hub/engagement-bot/config"
	"github.com/outreach-hub/engagement-bot/internal/app"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
	httpserver "github.com/outreach-hub/engagement-bot/internal/interface/http"
	tgbot "github.com/outreach-hub/engagement-bot/internal/interface/telegram"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/middleware"
	"github.com/outreach-hub/engagement-bot/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log, err := setupLogger(cfg, "engagement-bot")
	if err != nil {
		return err
	}
	log.Info("starting engagement bot",
		slog.String("env", string(cfg.App.Environment)),
		slog.String("timezone", cfg.App.Location().String()),
		slog.String("storage", cfg.Storage.Backend),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СБОРКА КОМПОНЕНТОВ
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	var sched *scheduler.Scheduler
	if cfg.Jobs.Enabled {
		sched, err = a.NewScheduler()
		if err != nil {
			a.Close()
			return fmt.Errorf("failed to configure scheduler: %w", err)
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. TELEGRAM BOT
	// ─────────────────────────────────────────────────────────────────────────
	botCfg := tgbot.DefaultBotConfig()
	botCfg.AdminIDs = cfg.Telegram.AdminIDs
	botCfg.StatsWindowDays = cfg.Engagement.StatsWindowDays
	botCfg.RateLimit = middleware.DefaultRateLimitConfig()
	botCfg.RateLimit.RequestsPerMinute = cfg.Telegram.RateLimitPerMinute
	botCfg.RateLimit.BurstSize = cfg.Telegram.RateLimitBurst
	botCfg.FeedbackWait = cfg.Telegram.FeedbackWait
	botCfg.GracefulShutdownTimeout = cfg.App.ShutdownTimeout
	botCfg.Debug = cfg.Telegram.Debug
	botCfg.Logger = log

	deps := tgbot.BotDependencies{
		API:      a.Client,
		Store:    a.Store,
		Wizard:   a.Engine,
		Reports:  a.Reports,
		Clock:    a.Clock,
		Notifier: a.Dispatcher,
	}
	if sched != nil {
		deps.Jobs = sched
	}
	bot, err := tgbot.NewBot(botCfg, deps)
	if err != nil {
		a.Close()
		return fmt.Errorf("failed to create bot: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. HTTP СЕРВЕР
	// ─────────────────────────────────────────────────────────────────────────
	var httpSrv *httpserver.Server
	if cfg.HTTP.Addr != "" {
		srvCfg := httpserver.DefaultConfig()
		srvCfg.Addr = cfg.HTTP.Addr
		srvCfg.APIKeys = cfg.HTTP.APIKeys
		srvCfg.Version = cfg.App.Version

		srvDeps := httpserver.Dependencies{
			Health:   a.Health,
			Stats:    a.Store,
			Reports:  a.Reports,
			Bot:      bot,
			Delivery: a.Dispatcher,
			Logger:   log,
		}
		if sched != nil {
			srvDeps.Jobs = sched
		}
		httpSrv = httpserver.NewServer(srvCfg, srvDeps)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. ЗАПУСК
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 2)

	if sched != nil {
		if err := sched.Start(ctx); err != nil {
			a.Close()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("bot: %w", err)
		}
	}()

	if httpSrv != nil {
		go func() {
			if err := <-httpSrv.StartAsync(); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
		log.Info("http server started", slog.String("addr", cfg.HTTP.Addr))
	}

	log.Info("engagement bot is running")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case runErr = <-errCh:
		log.Error("component failed", logger.Err(runErr))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	start := time.Now()

	if sched != nil {
		if err := sched.Stop(); err != nil {
			log.Warn("scheduler stop", logger.Err(err))
		}
	}
	if err := bot.Stop(shutdownCtx); err != nil {
		log.Warn("bot stop", logger.Err(err))
	}
	if httpSrv != nil {
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown", logger.Err(err))
		}
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", logger.Err(err))
	}

	log.Info("shutdown completed", logger.Latency(time.Since(start)))
	return runErr
}

// setupLogger configures slog from LOG_LEVEL and LOG_FORMAT.
func setupLogger(cfg *config.Config, service string) (*slog.Logger, error) {
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	return logger.Setup(logger.Options{
		Output:  os.Stdout,
		Level:   level,
		Format:  format,
		Service: service,
		Version: cfg.App.Version,
	}), nil
}

// Package telegram is the bot's chat front end. It turns Telegram updates
// into engagement events, drives the questionnaire and answers commands.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/external/telegram"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/handler"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/middleware"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// BOT CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// BotConfig contains configuration for the Telegram bot.
type BotConfig struct {
	// AdminIDs may run the aggregate and job commands.
	AdminIDs []int64

	// StatsWindowDays is the default window of /stats.
	StatsWindowDays int

	// RateLimit throttles every non-admin user.
	RateLimit middleware.RateLimitConfig

	// FeedbackWait bounds how long a bare /feedback waits for its text.
	FeedbackWait time.Duration

	// GracefulShutdownTimeout bounds Stop.
	GracefulShutdownTimeout time.Duration

	// Debug enables debug logging of routing decisions.
	Debug bool

	Logger *slog.Logger
}

// DefaultBotConfig returns sensible defaults.
func DefaultBotConfig() BotConfig {
	return BotConfig{
		RateLimit:               middleware.DefaultRateLimitConfig(),
		FeedbackWait:            15 * time.Minute,
		GracefulShutdownTimeout: 30 * time.Second,
		Logger:                  slog.Default(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// API is the part of *telegram.Client the bot uses.
type API interface {
	Responder
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string) error
	GetMe(ctx context.Context) (*telegram.User, error)
	StartPolling(ctx context.Context, handler telegram.UpdateHandler) error
}

// EngagementStore is the part of *engagement.Store the bot uses.
type EngagementStore interface {
	handler.UserStore
	handler.StatsSource
	TouchActivity(ctx context.Context, id shared.UserID, kind engagement.ActivityKind) error
}

// BotDependencies contains all dependencies for the bot handlers.
type BotDependencies struct {
	API      API
	Store    EngagementStore
	Wizard   handler.Wizard
	Reports  *report.Generator
	Clock    handler.Clock
	Jobs     handler.JobRunner // optional
	Notifier handler.Notifier  // optional; forwards feedback and job results
}

// ══════════════════════════════════════════════════════════════════════════════
// BOT
// ══════════════════════════════════════════════════════════════════════════════

// Bot is the main Telegram bot controller.
type Bot struct {
	config BotConfig
	api    API
	store  EngagementStore
	router *Router
	logger *slog.Logger

	admins      *middleware.AdminGuard
	rateLimiter *middleware.RateLimiter
	recovery    *middleware.RecoveryMiddleware

	questionnaire *handler.QuestionnaireHandler
	feedback      *handler.FeedbackHandler
	admin         *handler.AdminHandler

	running atomic.Bool
	wg      sync.WaitGroup

	stats botStats
}

type botStats struct {
	startedAt       atomic.Int64
	updatesReceived atomic.Int64
	updatesHandled  atomic.Int64
	errors          atomic.Int64
	rateLimited     atomic.Int64

	mu       sync.Mutex
	commands map[string]int64
}

// Stats is a snapshot of the bot's counters.
type Stats struct {
	Running         bool             `json:"running"`
	StartedAt       time.Time        `json:"started_at,omitempty"`
	UpdatesReceived int64            `json:"updates_received"`
	UpdatesHandled  int64            `json:"updates_handled"`
	Errors          int64            `json:"errors"`
	RateLimited     int64            `json:"rate_limited"`
	Panics          int64            `json:"panics"`
	Commands        map[string]int64 `json:"commands"`
}

// NewBot creates a new Telegram bot with all dependencies.
func NewBot(config BotConfig, deps BotDependencies) (*Bot, error) {
	if deps.API == nil || deps.Store == nil || deps.Wizard == nil || deps.Reports == nil {
		return nil, errors.New("telegram bot: api, store, wizard and reports are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.GracefulShutdownTimeout <= 0 {
		config.GracefulShutdownTimeout = DefaultBotConfig().GracefulShutdownTimeout
	}
	logger := config.Logger.With(slog.String("component", "telegram_bot"))

	admins := middleware.NewAdminGuard(config.AdminIDs)
	rl := config.RateLimit
	rl.Exempt = append(rl.Exempt, admins.Admins()...)

	keyboards := presenter.NewKeyboardBuilder()
	start := handler.NewStartHandler(deps.Store, keyboards, deps.Clock, logger)
	quest := handler.NewQuestionnaireHandler(deps.Wizard, keyboards, logger)
	feedback := handler.NewFeedbackHandler(deps.Store, deps.Notifier, handler.FeedbackConfig{
		Admins:  admins.Admins(),
		WaitTTL: config.FeedbackWait,
		Clock:   deps.Clock,
		Logger:  logger,
	})
	admin := handler.NewAdminHandler(deps.Store, deps.Reports, deps.Jobs, deps.Notifier, handler.AdminConfig{
		StatsWindowDays: config.StatsWindowDays,
		Logger:          logger,
	})

	router := NewRouter(deps.API, RouterConfig{Logger: logger, Debug: config.Debug})

	router.RegisterCommand("start", start.Start)
	router.RegisterCommand("help", start.Help)
	router.RegisterCommand("me", start.Me)
	router.RegisterCommand("notifications", start.ToggleNotifications)
	router.RegisterCommand("questionnaire", quest.Start)
	router.RegisterCommand("cancel", quest.Cancel)
	router.RegisterCommand("feedback", feedback.Begin)

	router.RegisterAdminCommand("stats", admin.Stats)
	router.RegisterAdminCommand("report", admin.Report)
	router.RegisterAdminCommand("weekly", admin.Weekly)
	router.RegisterAdminCommand("detailed", admin.Detailed)
	router.RegisterAdminCommand("export", admin.Export)
	router.RegisterAdminCommand("jobs", admin.Jobs)
	router.RegisterAdminCommand("run", admin.Run)
	router.RegisterAdminCommand("broadcast", admin.Broadcast)

	router.RegisterCallback(presenter.CallbackQuestionnaireStart, quest.Start)
	router.RegisterCallback(presenter.CallbackQuestionnaireCancel, quest.Cancel)
	router.RegisterCallback(presenter.CallbackFeedbackStart, feedback.Begin)
	router.RegisterCallback(presenter.CallbackNotificationsToggle, start.ToggleNotifications)
	router.RegisterCallback(presenter.CallbackHelp, start.Help)

	b := &Bot{
		config:        config,
		api:           deps.API,
		store:         deps.Store,
		router:        router,
		logger:        logger,
		admins:        admins,
		rateLimiter:   middleware.NewRateLimiter(rl),
		recovery:      middleware.NewRecoveryMiddleware(middleware.RecoveryConfig{EnableStackTrace: true, Logger: logger}),
		questionnaire: quest,
		feedback:      feedback,
		admin:         admin,
	}
	b.stats.commands = make(map[string]int64)
	return b, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LIFECYCLE MANAGEMENT
// ══════════════════════════════════════════════════════════════════════════════

// Run verifies the token and long-polls until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return errors.New("bot is already running")
	}
	defer b.running.Store(false)
	b.stats.startedAt.Store(time.Now().UnixNano())

	me, err := b.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify bot token: %w", err)
	}
	b.logger.Info("bot verified", slog.Int64("id", me.ID), slog.String("username", me.Username))

	return b.api.StartPolling(ctx, b.HandleUpdate)
}

// Stop waits for in-flight updates and manual job runs.
func (b *Bot) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		b.admin.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("all handlers completed gracefully")
		return nil
	case <-time.After(b.config.GracefulShutdownTimeout):
		b.logger.Warn("graceful shutdown timeout exceeded")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning returns whether the bot is currently polling.
func (b *Bot) IsRunning() bool {
	return b.running.Load()
}

// Router returns the router for extra registrations.
func (b *Bot) Router() *Router {
	return b.router
}

// ══════════════════════════════════════════════════════════════════════════════
// UPDATE HANDLING
// ══════════════════════════════════════════════════════════════════════════════

// HandleUpdate processes a single Telegram update. Errors are reported to the
// user as a generic apology and returned for logging; they never stop polling.
func (b *Bot) HandleUpdate(ctx context.Context, update *telegram.Update) error {
	b.wg.Add(1)
	defer b.wg.Done()
	b.stats.updatesReceived.Add(1)

	from := update.Sender()
	if from == nil || from.IsBot {
		return nil
	}
	id := shared.UserID(from.ID)
	if !id.IsValid() {
		return nil
	}

	ctx = middleware.ContextWithUserID(ctx, id)
	ctx = middleware.ContextWithRequestID(ctx, uuid.NewString())

	req := handler.Request{
		UserID:  id,
		ChatID:  from.ID,
		IsAdmin: b.admins.IsAdmin(id),
		Profile: engagement.Profile{
			Username:  from.Username,
			FirstName: from.FirstName,
			LastName:  from.LastName,
		},
	}

	var err error
	switch {
	case update.Message != nil:
		if update.Message.Chat != nil {
			req.ChatID = update.Message.Chat.ID
		}
		err = b.handleMessage(ctx, req, update.Message)
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.Message != nil && cq.Message.Chat != nil {
			req.ChatID = cq.Message.Chat.ID
		}
		err = b.handleCallbackQuery(ctx, req, cq)
	default:
		return nil
	}

	if err != nil {
		b.stats.errors.Add(1)
		b.logger.Error("failed to handle update",
			slog.Int64("update_id", update.UpdateID),
			slog.Int64("user_id", id.Int64()),
			slog.String("request_id", middleware.RequestIDFromContext(ctx)),
			slog.String("error", err.Error()),
		)
		if sendErr := b.router.Send(ctx, req.ChatID, handler.Text(b.recovery.UserMessage())); sendErr != nil {
			b.logger.Warn("failed to send error message", slog.String("error", sendErr.Error()))
		}
		return err
	}
	b.stats.updatesHandled.Add(1)
	return nil
}

// handleMessage processes a Telegram message.
func (b *Bot) handleMessage(ctx context.Context, req handler.Request, msg *telegram.Message) error {
	command := telegram.ExtractCommand(msg)
	if command == "" && strings.TrimSpace(msg.Text) == "" {
		return nil
	}

	if !b.allow(ctx, req) {
		return nil
	}

	kind := engagement.ActivityMessage
	if command != "" {
		kind = engagement.ActivityCommand
	}
	// /start registers on its own so it can tell a new user from a returning one.
	if command != "start" {
		b.ensureRegistered(ctx, req)
	}
	defer b.touch(ctx, req.UserID, kind)

	if command != "" {
		b.countCommand(command)
		b.abandonFlows(req.UserID, command)
		req.Args = telegram.ExtractCommandArgs(msg)
		return b.respond(ctx, req, "command:/"+command, func(ctx context.Context) (*handler.Response, error) {
			return b.router.HandleCommand(ctx, command, req)
		})
	}

	text := msg.Text
	return b.respond(ctx, req, "text", func(ctx context.Context) (*handler.Response, error) {
		switch {
		case b.feedback.Waiting(req.UserID):
			return b.feedback.Receive(ctx, req, text)
		case b.questionnaire.Active(req.UserID):
			return b.questionnaire.Answer(ctx, req, text)
		default:
			return handler.Text("Чтобы заполнить анкету, нажмите /questionnaire. Все команды: /help"), nil
		}
	})
}

// handleCallbackQuery processes a callback query from an inline keyboard.
func (b *Bot) handleCallbackQuery(ctx context.Context, req handler.Request, cq *telegram.CallbackQuery) error {
	// Answer first so the client drops the loading state.
	if err := b.api.AnswerCallbackQuery(ctx, cq.ID, ""); err != nil {
		b.logger.Warn("failed to answer callback query", slog.String("error", err.Error()))
	}
	if !b.allow(ctx, req) {
		return nil
	}

	b.ensureRegistered(ctx, req)
	defer b.touch(ctx, req.UserID, engagement.ActivityCallback)

	if cq.Data != presenter.CallbackQuestionnaireCancel {
		b.feedback.Abandon(req.UserID)
	}
	return b.respond(ctx, req, "callback:"+cq.Data, func(ctx context.Context) (*handler.Response, error) {
		return b.router.HandleCallback(ctx, cq.Data, req)
	})
}

// respond runs fn under panic recovery and sends its response.
func (b *Bot) respond(ctx context.Context, req handler.Request, op string, fn func(ctx context.Context) (*handler.Response, error)) error {
	var resp *handler.Response
	err := b.recovery.Run(ctx, op, func(ctx context.Context) error {
		var err error
		resp, err = fn(ctx)
		return err
	})
	if err != nil {
		return err
	}
	return b.router.Send(ctx, req.ChatID, resp)
}

// abandonFlows clears wizard and feedback state when the user moves on to
// an unrelated command.
func (b *Bot) abandonFlows(id shared.UserID, command string) {
	switch command {
	case "questionnaire", "cancel":
		// questionnaire restarts the session itself; cancel reports on it.
	default:
		b.questionnaire.Abandon(id)
	}
	if command != "feedback" {
		b.feedback.Abandon(id)
	}
}

func (b *Bot) allow(ctx context.Context, req handler.Request) bool {
	res := b.rateLimiter.Check(req.UserID)
	if res.Allowed {
		return true
	}
	b.stats.rateLimited.Add(1)
	if res.Notify {
		if err := b.router.Send(ctx, req.ChatID, handler.Text(res.Message())); err != nil {
			b.logger.Warn("failed to send rate limit notice", slog.String("error", err.Error()))
		}
	}
	return false
}

func (b *Bot) ensureRegistered(ctx context.Context, req handler.Request) {
	if _, ok := b.store.User(ctx, req.UserID); ok {
		return
	}
	created, err := b.store.RegisterUser(ctx, req.UserID, req.Profile)
	if err != nil {
		b.logger.Warn("failed to register user", slog.Int64("user_id", req.UserID.Int64()), slog.String("error", err.Error()))
		return
	}
	if created {
		b.logger.Info("user registered on first contact", slog.Int64("user_id", req.UserID.Int64()))
	}
}

func (b *Bot) touch(ctx context.Context, id shared.UserID, kind engagement.ActivityKind) {
	if err := b.store.TouchActivity(ctx, id, kind); err != nil {
		level := slog.LevelError
		if shared.IsUnknownUser(err) {
			level = slog.LevelWarn
		}
		b.logger.Log(ctx, level, "failed to record activity",
			slog.Int64("user_id", id.Int64()),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bot) countCommand(command string) {
	b.stats.mu.Lock()
	b.stats.commands[command]++
	b.stats.mu.Unlock()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// GetStats returns current bot statistics.
func (b *Bot) GetStats() Stats {
	s := Stats{
		Running:         b.IsRunning(),
		UpdatesReceived: b.stats.updatesReceived.Load(),
		UpdatesHandled:  b.stats.updatesHandled.Load(),
		Errors:          b.stats.errors.Load(),
		RateLimited:     b.stats.rateLimited.Load(),
		Panics:          b.recovery.Panics(),
		Commands:        make(map[string]int64),
	}
	if ns := b.stats.startedAt.Load(); ns > 0 {
		s.StartedAt = time.Unix(0, ns)
	}
	b.stats.mu.Lock()
	for k, v := range b.stats.commands {
		s.Commands[k] = v
	}
	b.stats.mu.Unlock()
	return s
}

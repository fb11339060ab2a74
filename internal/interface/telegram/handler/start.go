package handler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// START HANDLER
// /start, /help, /me and /notifications: the commands every user has.
// ══════════════════════════════════════════════════════════════════════════════

// StartHandler handles the account-level user commands.
type StartHandler struct {
	store     UserStore
	keyboards *presenter.KeyboardBuilder
	clock     Clock
	logger    *slog.Logger
}

// NewStartHandler creates a new StartHandler with dependencies.
func NewStartHandler(store UserStore, keyboards *presenter.KeyboardBuilder, clock Clock, logger *slog.Logger) *StartHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &StartHandler{
		store:     store,
		keyboards: keyboards,
		clock:     clock,
		logger:    logger,
	}
}

// Start registers the user on first contact and greets them.
func (h *StartHandler) Start(ctx context.Context, req Request) (*Response, error) {
	created, err := h.store.RegisterUser(ctx, req.UserID, req.Profile)
	if err != nil {
		return nil, fmt.Errorf("register user: %w", err)
	}
	if created {
		h.logger.Info("user registered",
			slog.Int64("user_id", req.UserID.Int64()),
			slog.String("username", req.Profile.Username),
		)
	}

	enabled := true
	if u, ok := h.store.User(ctx, req.UserID); ok {
		enabled = u.NotificationsEnabled
	}
	return HTML(presenter.Welcome(req.Profile.FirstName, !created), h.keyboards.WelcomeKeyboard(enabled)), nil
}

// Help lists the commands available to the caller.
func (h *StartHandler) Help(_ context.Context, req Request) (*Response, error) {
	return HTML(presenter.Help(req.IsAdmin), nil), nil
}

// Me shows the caller's own counters.
func (h *StartHandler) Me(ctx context.Context, req Request) (*Response, error) {
	u, ok := h.store.User(ctx, req.UserID)
	if !ok {
		return Text("Вы ещё не зарегистрированы. Нажмите /start."), nil
	}
	return HTML(presenter.Profile(u, h.clock.Now()), h.keyboards.NotificationsKeyboard(u.NotificationsEnabled)), nil
}

// ToggleNotifications flips the caller's broadcast opt-in.
func (h *StartHandler) ToggleNotifications(ctx context.Context, req Request) (*Response, error) {
	enabled, err := h.store.ToggleNotifications(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("toggle notifications: %w", err)
	}
	return &Response{
		Text:     presenter.NotificationsState(enabled),
		Keyboard: h.keyboards.NotificationsKeyboard(enabled),
	}, nil
}

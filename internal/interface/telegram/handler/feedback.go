package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// FEEDBACK HANDLER
// "/feedback text" records at once; bare /feedback waits for the next message.
// The text itself is forwarded to administrators, only the count is stored.
// ══════════════════════════════════════════════════════════════════════════════

// FeedbackConfig configures a FeedbackHandler.
type FeedbackConfig struct {
	// Admins receive a copy of every feedback message.
	Admins []shared.UserID
	// WaitTTL bounds how long a bare /feedback waits for the text.
	WaitTTL time.Duration
	// MaxLength truncates forwarded text.
	MaxLength int
	Clock     Clock
	Logger    *slog.Logger
}

// FeedbackHandler handles /feedback.
type FeedbackHandler struct {
	store    UserStore
	notifier Notifier
	config   FeedbackConfig
	logger   *slog.Logger

	mu      sync.Mutex
	waiting map[shared.UserID]time.Time // id -> deadline
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewFeedbackHandler creates a new FeedbackHandler. notifier may be nil,
// in which case nothing is forwarded.
func NewFeedbackHandler(store UserStore, notifier Notifier, config FeedbackConfig) *FeedbackHandler {
	if config.WaitTTL <= 0 {
		config.WaitTTL = 15 * time.Minute
	}
	if config.MaxLength <= 0 {
		config.MaxLength = 3000
	}
	if config.Clock == nil {
		config.Clock = systemClock{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &FeedbackHandler{
		store:    store,
		notifier: notifier,
		config:   config,
		logger:   config.Logger,
		waiting:  make(map[shared.UserID]time.Time),
	}
}

// Begin handles /feedback [text].
func (h *FeedbackHandler) Begin(ctx context.Context, req Request) (*Response, error) {
	if text := strings.TrimSpace(req.Args); text != "" {
		return h.submit(ctx, req, text)
	}

	h.mu.Lock()
	h.waiting[req.UserID] = h.config.Clock.Now().Add(h.config.WaitTTL)
	h.mu.Unlock()
	return Text("💬 Напишите ваш отзыв одним сообщением. Мы читаем каждый."), nil
}

// Waiting reports whether the next text of id is feedback. An expired wait
// is dropped.
func (h *FeedbackHandler) Waiting(id shared.UserID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	deadline, ok := h.waiting[id]
	if !ok {
		return false
	}
	if !h.config.Clock.Now().Before(deadline) {
		delete(h.waiting, id)
		return false
	}
	return true
}

// Abandon forgets a pending wait.
func (h *FeedbackHandler) Abandon(id shared.UserID) {
	h.mu.Lock()
	delete(h.waiting, id)
	h.mu.Unlock()
}

// Receive consumes the text that follows a bare /feedback.
func (h *FeedbackHandler) Receive(ctx context.Context, req Request, text string) (*Response, error) {
	h.Abandon(req.UserID)
	text = strings.TrimSpace(text)
	if text == "" {
		return Text("Отзыв пустой. Нажмите /feedback, чтобы попробовать ещё раз."), nil
	}
	return h.submit(ctx, req, text)
}

func (h *FeedbackHandler) submit(ctx context.Context, req Request, text string) (*Response, error) {
	if err := h.store.RecordFeedback(ctx, req.UserID); err != nil {
		if !shared.IsUnknownUser(err) {
			return nil, fmt.Errorf("record feedback: %w", err)
		}
		// Unregistered users still get thanked; the store already logged it.
	}
	h.forward(ctx, req, text)
	return Text("🙏 Спасибо за отзыв!"), nil
}

func (h *FeedbackHandler) forward(ctx context.Context, req Request, text string) {
	if h.notifier == nil || len(h.config.Admins) == 0 {
		return
	}
	if r := []rune(text); len(r) > h.config.MaxLength {
		text = string(r[:h.config.MaxLength]) + "…"
	}

	name := req.Profile.Username
	if name != "" {
		name = "@" + name
	} else {
		name = strings.TrimSpace(req.Profile.FirstName + " " + req.Profile.LastName)
	}
	if name == "" {
		name = "пользователя"
	}
	msg := fmt.Sprintf("💬 Отзыв от %s (id %s):\n\n%s", name, req.UserID, text)

	res := h.notifier.SendAll(ctx, h.config.Admins, msg)
	if res.Delivered == 0 {
		h.logger.Warn("feedback not forwarded to any admin",
			slog.Int64("user_id", req.UserID.Int64()),
			slog.Int("failed", res.Failed),
		)
	}
}

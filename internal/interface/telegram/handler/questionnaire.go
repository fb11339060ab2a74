package handler

import (
	"context"
	"errors"
	"log/slog"

	"github.com/outreach-hub/engagement-bot/internal/domain/questionnaire"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// QUESTIONNAIRE HANDLER
// Drives the wizard: /questionnaire opens it, plain text answers it,
// /cancel or any unrelated command abandons it.
// ══════════════════════════════════════════════════════════════════════════════

// Wizard is the part of *questionnaire.Engine the handler uses.
type Wizard interface {
	Start(id shared.UserID) questionnaire.Prompt
	Active(id shared.UserID) bool
	Cancel(id shared.UserID) bool
	Submit(ctx context.Context, id shared.UserID, text string) (questionnaire.Outcome, error)
}

// QuestionnaireHandler handles the questionnaire flow.
type QuestionnaireHandler struct {
	wizard    Wizard
	keyboards *presenter.KeyboardBuilder
	logger    *slog.Logger
}

// NewQuestionnaireHandler creates a new QuestionnaireHandler.
func NewQuestionnaireHandler(wizard Wizard, keyboards *presenter.KeyboardBuilder, logger *slog.Logger) *QuestionnaireHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QuestionnaireHandler{wizard: wizard, keyboards: keyboards, logger: logger}
}

// Start opens a fresh session and shows the first question.
func (h *QuestionnaireHandler) Start(_ context.Context, req Request) (*Response, error) {
	p := h.wizard.Start(req.UserID)
	return &Response{Text: p.Text(), Keyboard: h.keyboards.QuestionnaireKeyboard()}, nil
}

// Active reports whether the user is in the middle of the questionnaire.
func (h *QuestionnaireHandler) Active(id shared.UserID) bool {
	return h.wizard.Active(id)
}

// Abandon drops the session of id, if any. Returns true when one existed.
func (h *QuestionnaireHandler) Abandon(id shared.UserID) bool {
	if !h.wizard.Cancel(id) {
		return false
	}
	h.logger.Debug("questionnaire abandoned", slog.Int64("user_id", id.Int64()))
	return true
}

// Cancel handles /cancel.
func (h *QuestionnaireHandler) Cancel(_ context.Context, req Request) (*Response, error) {
	if !h.Abandon(req.UserID) {
		return Text("Сейчас нечего отменять."), nil
	}
	return &Response{
		Text:     "Анкета прервана. Вернуться к ней можно в любой момент.",
		Keyboard: h.keyboards.RestartKeyboard(),
	}, nil
}

// Answer submits text to the open session.
func (h *QuestionnaireHandler) Answer(ctx context.Context, req Request, text string) (*Response, error) {
	out, err := h.wizard.Submit(ctx, req.UserID, text)
	switch {
	case errors.Is(err, shared.ErrSessionExpired):
		return &Response{
			Text:     "⌛ Время на заполнение анкеты истекло. Начните заново.",
			Keyboard: h.keyboards.RestartKeyboard(),
		}, nil
	case shared.IsNotFound(err):
		return Text("Анкета не начата. Нажмите /questionnaire, чтобы начать."), nil
	case err != nil:
		return nil, err
	}

	switch out.Status {
	case questionnaire.StatusRejected:
		msg := "❌ " + out.Reason
		if out.Next != nil {
			msg += "\n\n" + out.Next.Text()
		}
		return &Response{Text: msg, Keyboard: h.keyboards.QuestionnaireKeyboard()}, nil

	case questionnaire.StatusNext:
		return &Response{Text: out.Next.Text(), Keyboard: h.keyboards.QuestionnaireKeyboard()}, nil

	default:
		c := out.Completion
		h.logger.Info("questionnaire completed",
			slog.Int64("user_id", req.UserID.Int64()),
			slog.Bool("recorded", c.Recorded),
		)
		return HTML(c.Report, h.keyboards.RestartKeyboard()), nil
	}
}

// Package presenter formats engagement data for Telegram display.
// Presenters turn domain values into message text and inline keyboards;
// they never talk to the Bot API themselves.
package presenter

import (
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/external/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// CALLBACK DATA
// ══════════════════════════════════════════════════════════════════════════════

// Callback payloads carried by the bot's inline buttons. The part before the
// colon is the router prefix.
const (
	CallbackQuestionnaireStart  = "questionnaire:start"
	CallbackQuestionnaireCancel = "questionnaire:cancel"
	CallbackFeedbackStart       = "feedback:start"
	CallbackNotificationsToggle = "notifications:toggle"
	CallbackHelp                = "cmd:help"
)

// ══════════════════════════════════════════════════════════════════════════════
// INLINE KEYBOARD TYPES
// Library-agnostic keyboards; the router converts them to Bot API markup.
// ══════════════════════════════════════════════════════════════════════════════

// InlineKeyboard represents an inline keyboard.
type InlineKeyboard struct {
	Rows [][]InlineButton
}

// InlineButton represents a single inline button.
type InlineButton struct {
	Text         string
	CallbackData string
	URL          string
}

// NewInlineKeyboard creates a new empty inline keyboard.
func NewInlineKeyboard() *InlineKeyboard {
	return &InlineKeyboard{Rows: make([][]InlineButton, 0)}
}

// AddRow adds a row of buttons.
func (k *InlineKeyboard) AddRow(buttons ...InlineButton) *InlineKeyboard {
	k.Rows = append(k.Rows, buttons)
	return k
}

// CallbackButton creates a callback button.
func CallbackButton(text, callbackData string) InlineButton {
	return InlineButton{Text: text, CallbackData: callbackData}
}

// URLButton creates a URL button.
func URLButton(text, url string) InlineButton {
	return InlineButton{Text: text, URL: url}
}

// Markup converts the keyboard to Bot API markup. A nil or empty keyboard
// yields nil.
func (k *InlineKeyboard) Markup() *telegram.InlineKeyboardMarkup {
	if k == nil || len(k.Rows) == 0 {
		return nil
	}
	kb := telegram.NewKeyboard()
	for _, row := range k.Rows {
		buttons := make([]telegram.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telegram.InlineKeyboardButton{
				Text:         b.Text,
				CallbackData: b.CallbackData,
				URL:          b.URL,
			})
		}
		kb.Row(buttons...)
	}
	return kb.Build()
}

// ══════════════════════════════════════════════════════════════════════════════
// KEYBOARD BUILDER
// ══════════════════════════════════════════════════════════════════════════════

// KeyboardBuilder creates the bot's keyboards.
type KeyboardBuilder struct{}

// NewKeyboardBuilder creates a new keyboard builder.
func NewKeyboardBuilder() *KeyboardBuilder {
	return &KeyboardBuilder{}
}

// WelcomeKeyboard is attached to the /start greeting.
func (b *KeyboardBuilder) WelcomeKeyboard(notificationsEnabled bool) *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(CallbackButton("📝 Пройти анкету", CallbackQuestionnaireStart)).
		AddRow(
			CallbackButton("💬 Оставить отзыв", CallbackFeedbackStart),
			b.notificationsButton(notificationsEnabled),
		).
		AddRow(CallbackButton("❓ Помощь", CallbackHelp))
}

// QuestionnaireKeyboard is attached to every questionnaire prompt.
func (b *KeyboardBuilder) QuestionnaireKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(CallbackButton("✖️ Прервать анкету", CallbackQuestionnaireCancel))
}

// NotificationsKeyboard shows the toggle for the current state.
func (b *KeyboardBuilder) NotificationsKeyboard(enabled bool) *InlineKeyboard {
	return NewInlineKeyboard().AddRow(b.notificationsButton(enabled))
}

// RestartKeyboard offers to fill the questionnaire again.
func (b *KeyboardBuilder) RestartKeyboard() *InlineKeyboard {
	return NewInlineKeyboard().
		AddRow(CallbackButton("🔁 Заполнить заново", CallbackQuestionnaireStart))
}

func (b *KeyboardBuilder) notificationsButton(enabled bool) InlineButton {
	if enabled {
		return CallbackButton("🔕 Отключить рассылку", CallbackNotificationsToggle)
	}
	return CallbackButton("🔔 Включить рассылку", CallbackNotificationsToggle)
}

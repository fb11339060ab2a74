// Package handler contains the Telegram command handlers.
// Every handler follows the same path: take a parsed Request, call the
// domain layer, return a Response for the router to send.
package handler

import (
	"context"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/messaging"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/presenter"
)

// ParseModeHTML marks a Response as Telegram HTML.
const ParseModeHTML = "HTML"

// Request is the parsed form of one command, callback or text message.
type Request struct {
	UserID  shared.UserID
	ChatID  int64
	Args    string
	Profile engagement.Profile
	IsAdmin bool
}

// Response is what the router sends back to Request.ChatID.
type Response struct {
	Text      string
	ParseMode string
	Keyboard  *presenter.InlineKeyboard
}

// Text builds a plain-text response.
func Text(text string) *Response {
	return &Response{Text: text}
}

// HTML builds an HTML response.
func HTML(text string, keyboard *presenter.InlineKeyboard) *Response {
	return &Response{Text: text, ParseMode: ParseModeHTML, Keyboard: keyboard}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// Narrow views of *engagement.Store and *messaging.Dispatcher.
// ══════════════════════════════════════════════════════════════════════════════

// UserStore is the part of the engagement store user commands touch.
type UserStore interface {
	RegisterUser(ctx context.Context, id shared.UserID, profile engagement.Profile) (bool, error)
	RecordFeedback(ctx context.Context, id shared.UserID) error
	ToggleNotifications(ctx context.Context, id shared.UserID) (bool, error)
	User(ctx context.Context, id shared.UserID) (engagement.UserRecord, bool)
}

// StatsSource is the part of the engagement store admin commands read.
type StatsSource interface {
	Snapshot(ctx context.Context) engagement.Snapshot
	ComputeActivityMetrics(ctx context.Context, windowDays int) engagement.ActivityMetrics
}

// Clock is satisfied by *period.Clock.
type Clock interface {
	Now() time.Time
}

// Notifier delivers a text to several users.
type Notifier interface {
	SendAll(ctx context.Context, ids []shared.UserID, text string) messaging.BatchResult
}

// Package middleware contains the checks every update passes through before
// it reaches a handler: admin authorization, flood control and panic recovery.
package middleware

import (
	"context"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONTEXT KEYS
// ══════════════════════════════════════════════════════════════════════════════

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDContextKey carries the Telegram user behind the update.
	UserIDContextKey contextKey = "user_id"

	// RequestIDContextKey carries the per-update trace id.
	RequestIDContextKey contextKey = "request_id"
)

// ContextWithUserID stores the user id in ctx.
func ContextWithUserID(ctx context.Context, id shared.UserID) context.Context {
	return context.WithValue(ctx, UserIDContextKey, id)
}

// UserIDFromContext extracts the user id, if present.
func UserIDFromContext(ctx context.Context) (shared.UserID, bool) {
	id, ok := ctx.Value(UserIDContextKey).(shared.UserID)
	return id, ok
}

// ContextWithRequestID stores the request id in ctx.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDContextKey, id)
}

// RequestIDFromContext extracts the request id, or "" when absent.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDContextKey).(string)
	return id
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN AUTHORIZATION
// Aggregate queries and manual job runs are limited to a fixed id list.
// ══════════════════════════════════════════════════════════════════════════════

// AdminGuard checks ids against the configured administrator list.
type AdminGuard struct {
	admins map[shared.UserID]struct{}
	list   []shared.UserID
}

// NewAdminGuard creates a guard for ids. Invalid ids are ignored.
func NewAdminGuard(ids []int64) *AdminGuard {
	g := &AdminGuard{admins: make(map[shared.UserID]struct{}, len(ids))}
	for _, raw := range ids {
		id := shared.UserID(raw)
		if !id.IsValid() {
			continue
		}
		if _, dup := g.admins[id]; dup {
			continue
		}
		g.admins[id] = struct{}{}
		g.list = append(g.list, id)
	}
	return g
}

// IsAdmin reports whether id is an administrator.
func (g *AdminGuard) IsAdmin(id shared.UserID) bool {
	_, ok := g.admins[id]
	return ok
}

// Authorize returns shared.ErrNotAdmin for non-admins.
func (g *AdminGuard) Authorize(id shared.UserID) error {
	if !g.IsAdmin(id) {
		return shared.ErrNotAdmin
	}
	return nil
}

// Admins returns the administrator ids in configuration order.
func (g *AdminGuard) Admins() []shared.UserID {
	out := make([]shared.UserID, len(g.list))
	copy(out, g.list)
	return out
}

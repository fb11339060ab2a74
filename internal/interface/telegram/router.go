package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/external/telegram"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/handler"
)

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	Logger *slog.Logger

	// Debug enables debug logging for routing decisions.
	Debug bool

	// ChunkLimit splits long responses. Defaults to the Telegram limit.
	ChunkLimit int
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER TYPES
// ══════════════════════════════════════════════════════════════════════════════

// HandlerFunc handles a command or a callback.
type HandlerFunc func(ctx context.Context, req handler.Request) (*handler.Response, error)

// Responder sends messages. Implemented by *telegram.Client.
type Responder interface {
	SendMessage(ctx context.Context, params telegram.SendMessageParams) (*telegram.Message, error)
}

type route struct {
	fn    HandlerFunc
	admin bool
}

const deniedText = "⛔ Команда доступна только администраторам."

// ══════════════════════════════════════════════════════════════════════════════
// ROUTER
// ══════════════════════════════════════════════════════════════════════════════

// Router maps commands and callback data to handlers and sends responses.
type Router struct {
	config    RouterConfig
	logger    *slog.Logger
	responder Responder

	mu        sync.RWMutex
	commands  map[string]route // without "/"
	callbacks map[string]route // by prefix

	defaultCommand HandlerFunc
}

// NewRouter creates a new router.
func NewRouter(responder Responder, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.ChunkLimit <= 0 {
		config.ChunkLimit = report.TelegramMessageLimit
	}
	r := &Router{
		config:    config,
		logger:    config.Logger,
		responder: responder,
		commands:  make(map[string]route),
		callbacks: make(map[string]route),
	}
	r.defaultCommand = r.handleUnknownCommand
	return r
}

// ══════════════════════════════════════════════════════════════════════════════
// REGISTRATION METHODS
// ══════════════════════════════════════════════════════════════════════════════

// RegisterCommand registers a handler for a command without the leading "/".
func (r *Router) RegisterCommand(command string, fn HandlerFunc) {
	r.register(r.commands, strings.ToLower(command), route{fn: fn})
}

// RegisterAdminCommand registers a command only administrators may run.
func (r *Router) RegisterAdminCommand(command string, fn HandlerFunc) {
	r.register(r.commands, strings.ToLower(command), route{fn: fn, admin: true})
}

// RegisterCallback registers a handler for callback data starting with
// prefix. The longest matching prefix wins.
func (r *Router) RegisterCallback(prefix string, fn HandlerFunc) {
	r.register(r.callbacks, prefix, route{fn: fn})
}

// SetDefaultCommandHandler sets the handler for unknown commands.
func (r *Router) SetDefaultCommandHandler(fn HandlerFunc) {
	r.mu.Lock()
	r.defaultCommand = fn
	r.mu.Unlock()
}

func (r *Router) register(m map[string]route, key string, rt route) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m[key] = rt
	if r.config.Debug {
		r.logger.Debug("registered route", slog.String("key", key), slog.Bool("admin", rt.admin))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING METHODS
// ══════════════════════════════════════════════════════════════════════════════

// HasCommand reports whether command is registered.
func (r *Router) HasCommand(command string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.commands[command]
	return ok
}

// HandleCommand routes a command to its handler.
func (r *Router) HandleCommand(ctx context.Context, command string, req handler.Request) (*handler.Response, error) {
	r.mu.RLock()
	rt, ok := r.commands[command]
	def := r.defaultCommand
	r.mu.RUnlock()

	if !ok {
		if r.config.Debug {
			r.logger.Debug("no handler for command", slog.String("command", command))
		}
		return def(ctx, req)
	}
	return r.dispatch(ctx, "/"+command, rt, req)
}

// HandleCallback routes callback data to the handler with the longest
// matching prefix. Unknown data yields a nil response.
func (r *Router) HandleCallback(ctx context.Context, data string, req handler.Request) (*handler.Response, error) {
	r.mu.RLock()
	var (
		matched string
		rt      route
		found   bool
	)
	for prefix, candidate := range r.callbacks {
		if strings.HasPrefix(data, prefix) && (!found || len(prefix) > len(matched)) {
			matched, rt, found = prefix, candidate, true
		}
	}
	r.mu.RUnlock()

	if !found {
		r.logger.Debug("no handler for callback", slog.String("data", data))
		return nil, nil
	}
	if req.Args == "" {
		req.Args = strings.TrimPrefix(data, matched)
	}
	return r.dispatch(ctx, "callback:"+matched, rt, req)
}

func (r *Router) dispatch(ctx context.Context, name string, rt route, req handler.Request) (*handler.Response, error) {
	if rt.admin && !req.IsAdmin {
		r.logger.Warn("admin command denied",
			slog.String("route", name),
			slog.Int64("user_id", req.UserID.Int64()),
		)
		return handler.Text(deniedText), nil
	}
	resp, err := rt.fn(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return resp, nil
}

func (r *Router) handleUnknownCommand(_ context.Context, _ handler.Request) (*handler.Response, error) {
	return handler.Text("🤔 Неизвестная команда. Список команд: /help"), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SENDING
// ══════════════════════════════════════════════════════════════════════════════

// Send delivers resp to chatID. Long text is split into ordered chunks; the
// keyboard is attached to the last one.
func (r *Router) Send(ctx context.Context, chatID int64, resp *handler.Response) error {
	if resp == nil || resp.Text == "" {
		return nil
	}
	parts := report.Chunk(resp.Text, r.config.ChunkLimit)
	for i, part := range parts {
		params := telegram.SendMessageParams{
			ChatID:            chatID,
			Text:              part,
			ParseMode:         resp.ParseMode,
			DisableWebPreview: true,
		}
		if i == len(parts)-1 {
			params.ReplyMarkup = resp.Keyboard.Markup()
		}
		if _, err := r.responder.SendMessage(ctx, params); err != nil {
			return fmt.Errorf("send part %d/%d: %w", i+1, len(parts), err)
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// INTROSPECTION
// ══════════════════════════════════════════════════════════════════════════════

// GetRegisteredCommands returns all registered command names, sorted.
func (r *Router) GetRegisteredCommands() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.commands))
	for c := range r.commands {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

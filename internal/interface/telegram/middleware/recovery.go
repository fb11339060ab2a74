package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOVERY MIDDLEWARE
// Catches panics in handlers and converts them into errors. Users see a
// generic apology, the log gets the stack.
// ══════════════════════════════════════════════════════════════════════════════

// ErrHandlerPanicked wraps every recovered panic.
var ErrHandlerPanicked = errors.New("handler panicked")

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// EnableStackTrace captures debug.Stack() into the log record.
	EnableStackTrace bool

	// UserErrorMessage is sent to the user after a panic or an internal error.
	UserErrorMessage string

	// OnPanic is called for every recovered panic.
	OnPanic func(ctx context.Context, info PanicInfo)

	Logger *slog.Logger
}

// DefaultRecoveryConfig returns sensible defaults for recovery middleware.
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		EnableStackTrace: true,
		UserErrorMessage: "😔 Что-то пошло не так. Попробуйте ещё раз через несколько минут.",
	}
}

// PanicInfo contains information about a recovered panic.
type PanicInfo struct {
	Value      any
	StackTrace string
	RequestID  string
	UserID     int64
	Operation  string
	Timestamp  time.Time
}

// RecoveryMiddleware recovers from panics.
type RecoveryMiddleware struct {
	config RecoveryConfig
	logger *slog.Logger
	panics atomic.Int64
}

// NewRecoveryMiddleware creates a new recovery middleware.
func NewRecoveryMiddleware(config RecoveryConfig) *RecoveryMiddleware {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.UserErrorMessage == "" {
		config.UserErrorMessage = DefaultRecoveryConfig().UserErrorMessage
	}
	return &RecoveryMiddleware{config: config, logger: config.Logger}
}

// UserMessage returns the apology text.
func (m *RecoveryMiddleware) UserMessage() string {
	return m.config.UserErrorMessage
}

// Panics returns the number of panics recovered so far.
func (m *RecoveryMiddleware) Panics() int64 {
	return m.panics.Load()
}

// Run executes fn and converts a panic into an error wrapping
// ErrHandlerPanicked.
func (m *RecoveryMiddleware) Run(ctx context.Context, op string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		m.panics.Add(1)

		info := PanicInfo{
			Value:     r,
			RequestID: RequestIDFromContext(ctx),
			Operation: op,
			Timestamp: time.Now(),
		}
		if id, ok := UserIDFromContext(ctx); ok {
			info.UserID = id.Int64()
		}

		attrs := []any{
			slog.String("operation", op),
			slog.Int64("user_id", info.UserID),
			slog.String("request_id", info.RequestID),
			slog.Any("panic", r),
		}
		if m.config.EnableStackTrace {
			info.StackTrace = string(debug.Stack())
			attrs = append(attrs, slog.String("stack", info.StackTrace))
		}
		m.logger.Error("panic recovered", attrs...)

		if m.config.OnPanic != nil {
			m.config.OnPanic(ctx, info)
		}
		err = fmt.Errorf("%w: %s: %v", ErrHandlerPanicked, op, r)
	}()

	return fn(ctx)
}

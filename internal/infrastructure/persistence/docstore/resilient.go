package docstore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/pkg/circuitbreaker"
	"github.com/outreach-hub/engagement-bot/pkg/retry"
)

// ResilientConfig configures the Resilient decorator.
type ResilientConfig struct {
	// Timeout bounds a single Load or Save attempt.
	Timeout time.Duration
	// MaxAttempts bounds retries of unavailable-storage errors.
	MaxAttempts int
	Logger      *slog.Logger
}

// DefaultResilientConfig returns production defaults.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
	}
}

// Resilient wraps a backend with per-attempt timeouts, retries of
// unavailable-storage errors and a circuit breaker. Not-found and conflict
// answers pass straight through.
type Resilient struct {
	next    engagement.DocumentStore
	breaker *circuitbreaker.CircuitBreaker
	retrier *retry.Retrier
	timeout time.Duration
	logger  *slog.Logger
}

// NewResilient decorates next.
func NewResilient(next engagement.DocumentStore, cfg ResilientConfig) *Resilient {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultResilientConfig().Timeout
	}
	logger := cfg.Logger.With(slog.String("component", "document_store"))

	r := &Resilient{
		next:    next,
		timeout: cfg.Timeout,
		logger:  logger,
	}
	r.breaker = circuitbreaker.StorageBreaker(shared.IsStorageUnavailable, func(name string, from, to circuitbreaker.State) {
		logger.Warn("circuit breaker state changed",
			slog.String("breaker", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})
	r.retrier = retry.New(
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithInitialDelay(50*time.Millisecond),
		retry.WithMaxDelay(time.Second),
		retry.WithJitter(0.05),
		retry.WithRetryIf(func(err error) bool {
			return shared.IsStorageUnavailable(err) && !isBreakerRejection(err)
		}),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying document store call",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		}),
	)
	return r
}

// Load implements engagement.DocumentStore.
func (r *Resilient) Load(ctx context.Context, name string) (engagement.Document, error) {
	var doc engagement.Document
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.call(ctx, func(ctx context.Context) error {
			var err error
			doc, err = r.next.Load(ctx, name)
			return err
		})
	})
	return doc, err
}

// Save implements engagement.DocumentStore.
//
// A retried save can hit a version conflict caused by its own earlier
// attempt, whose commit went through but whose reply was lost. When the
// stored copy holds exactly data the save is reported as successful.
func (r *Resilient) Save(ctx context.Context, name string, data []byte, priorVersion string) (string, error) {
	var version string
	retried := false
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		err := r.call(ctx, func(ctx context.Context) error {
			var err error
			version, err = r.next.Save(ctx, name, data, priorVersion)
			return err
		})
		if retried && errors.Is(err, shared.ErrVersionConflict) {
			if v, ok := r.stored(ctx, name, data); ok {
				r.logger.Info("earlier save attempt was committed",
					slog.String("document", name),
				)
				version = v
				return nil
			}
		}
		retried = err != nil
		return err
	})
	return version, err
}

// stored reports whether the current copy of name is data.
func (r *Resilient) stored(ctx context.Context, name string, data []byte) (string, bool) {
	var doc engagement.Document
	err := r.call(ctx, func(ctx context.Context) error {
		var err error
		doc, err = r.next.Load(ctx, name)
		return err
	})
	if err != nil {
		return "", false
	}
	if doc.Version == ContentVersion(data) || bytes.Equal(doc.Data, data) {
		return doc.Version, true
	}
	return "", false
}

// BreakerState exposes the breaker for health checks.
func (r *Resilient) BreakerState() circuitbreaker.State {
	return r.breaker.State()
}

func (r *Resilient) call(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		err := fn(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			return shared.WrapError("storage", "Call", shared.ErrTimeout, "document store timeout", err)
		}
		return err
	})
	if isBreakerRejection(err) {
		return shared.WrapError("storage", "Call", shared.ErrStorageUnavailable, "circuit open", err)
	}
	return err
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests)
}

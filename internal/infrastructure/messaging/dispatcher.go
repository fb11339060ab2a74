// Package messaging delivers outbound chat messages in paced batches.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// Sender is the chat transport. A returned error means the recipient did not
// get the message; it should match shared.ErrDeliveryFailed.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER
// ══════════════════════════════════════════════════════════════════════════════

// Dispatcher sends one text to many recipients, one at a time, with a fixed
// pause between sends. A failed recipient never stops the batch.
type Dispatcher struct {
	sender      Sender
	delay       time.Duration
	chunkLimit  int
	deadLetterQ *DeadLetterQueue
	metrics     *DispatcherMetrics
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// DispatcherConfig contains configuration for the Dispatcher.
type DispatcherConfig struct {
	// Delay is the pause between two sends.
	Delay time.Duration

	// ChunkLimit splits long texts into sequential messages.
	ChunkLimit int

	// DeadLetterQueueSize is the max number of failed deliveries kept.
	DeadLetterQueueSize int

	Logger *slog.Logger
}

// DefaultDispatcherConfig returns sensible defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Delay:               100 * time.Millisecond,
		ChunkLimit:          report.TelegramMessageLimit,
		DeadLetterQueueSize: 500,
	}
}

// NewDispatcher creates a dispatcher on top of sender.
func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = def.ChunkLimit
	}
	if cfg.DeadLetterQueueSize <= 0 {
		cfg.DeadLetterQueueSize = def.DeadLetterQueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		sender:      sender,
		delay:       cfg.Delay,
		chunkLimit:  cfg.ChunkLimit,
		deadLetterQ: NewDeadLetterQueue(cfg.DeadLetterQueueSize),
		metrics:     NewDispatcherMetrics(),
		logger:      cfg.Logger.With(slog.String("component", "dispatcher")),
		sleep:       sleepContext,
	}
}

// BatchResult summarizes one SendAll.
type BatchResult struct {
	// Attempted lists every recipient a send was tried for, in order.
	Attempted []shared.UserID
	Delivered int
	Failed    int
	// Interrupted is true when ctx ended before every recipient was tried.
	Interrupted bool
}

// SendAll delivers text to each recipient. Long texts go out as several
// messages in order. The context only stops the loop between recipients.
// Empty text is not sent to anyone.
func (d *Dispatcher) SendAll(ctx context.Context, recipients []shared.UserID, text string) BatchResult {
	parts := report.Chunk(text, d.chunkLimit)
	result := BatchResult{Attempted: make([]shared.UserID, 0, len(recipients))}
	if len(parts) == 0 {
		if len(recipients) > 0 {
			d.logger.Warn("empty message, batch skipped", slog.Int("recipients", len(recipients)))
		}
		return result
	}

	for i, id := range recipients {
		if i > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				result.Interrupted = true
				break
			}
		} else if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		result.Attempted = append(result.Attempted, id)
		if err := d.deliver(ctx, id, parts); err != nil {
			result.Failed++
			continue
		}
		result.Delivered++
	}

	if result.Interrupted {
		d.logger.Warn("batch interrupted",
			slog.Int("attempted", len(result.Attempted)),
			slog.Int("total", len(recipients)),
		)
	}
	return result
}

// deliver sends every part to one recipient. It stops at the first failed
// part so the recipient never sees a report with a hole in it.
func (d *Dispatcher) deliver(ctx context.Context, id shared.UserID, parts []string) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("sender panicked",
				slog.Int64("chat_id", id.Int64()),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("%w: sender panic: %v", shared.ErrDeliveryFailed, r)
		}
		d.metrics.RecordExecution(time.Since(start), err == nil)
		if err != nil {
			d.deadLetterQ.Add(DeadLetterEntry{ChatID: id, Error: err, FailedAt: time.Now()})
			d.logger.Warn("delivery failed",
				slog.Int64("chat_id", id.Int64()),
				slog.String("error", err.Error()),
			)
		}
	}()

	for i, part := range parts {
		if i > 0 {
			if err := d.sleep(ctx, d.delay); err != nil {
				return fmt.Errorf("%w: %v", shared.ErrDeliveryFailed, err)
			}
		}
		if err := d.sender.Send(ctx, id.Int64(), part); err != nil {
			if !errors.Is(err, shared.ErrDeliveryFailed) {
				err = fmt.Errorf("%w: %v", shared.ErrDeliveryFailed, err)
			}
			return err
		}
	}
	return nil
}

// Metrics returns the delivery counters.
func (d *Dispatcher) Metrics() *DispatcherMetrics {
	return d.metrics
}

// DeadLetterQueue returns the recent failed deliveries.
func (d *Dispatcher) DeadLetterQueue() *DeadLetterQueue {
	return d.deadLetterQ
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed delivery.
type DeadLetterEntry struct {
	ChatID   shared.UserID
	Error    error
	FailedAt time.Time
}

// DeadLetterQueue keeps the most recent failed deliveries.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &DeadLetterQueue{
		entries: make([]DeadLetterEntry, 0),
		maxSize: maxSize,
	}
}

// Add adds an entry, dropping the oldest at capacity.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns all entries, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// ══════════════════════════════════════════════════════════════════════════════
// DISPATCHER METRICS
// ══════════════════════════════════════════════════════════════════════════════

// DispatcherMetrics counts deliveries since start.
type DispatcherMetrics struct {
	mu sync.RWMutex

	DeliveredTotal int64
	FailedTotal    int64
	TotalDuration  time.Duration
}

// NewDispatcherMetrics creates new dispatcher metrics.
func NewDispatcherMetrics() *DispatcherMetrics {
	return &DispatcherMetrics{}
}

// RecordExecution records one recipient.
func (m *DispatcherMetrics) RecordExecution(duration time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalDuration += duration
	if success {
		m.DeliveredTotal++
	} else {
		m.FailedTotal++
	}
}

// DispatcherMetricsSnapshot is a point-in-time copy.
type DispatcherMetricsSnapshot struct {
	DeliveredTotal  int64
	FailedTotal     int64
	AverageDuration time.Duration
}

// Snapshot returns a point-in-time copy of the counters.
func (m *DispatcherMetrics) Snapshot() DispatcherMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var avg time.Duration
	if n := m.DeliveredTotal + m.FailedTotal; n > 0 {
		avg = m.TotalDuration / time.Duration(n)
	}
	return DispatcherMetricsSnapshot{
		DeliveredTotal:  m.DeliveredTotal,
		FailedTotal:     m.FailedTotal,
		AverageDuration: avg,
	}
}

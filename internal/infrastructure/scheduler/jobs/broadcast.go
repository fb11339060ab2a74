package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// BROADCAST JOB
// ══════════════════════════════════════════════════════════════════════════════

// BroadcastJob sends the periodic message to users seen recently and records
// every attempted recipient in the ledger.
type BroadcastJob struct {
	store     BroadcastStore
	deliverer Deliverer
	logger    *slog.Logger
	config    BroadcastConfig

	lastRunStats atomic.Value // *BroadcastStats
}

// BroadcastConfig contains configuration for the broadcast job.
type BroadcastConfig struct {
	// WindowDays selects users active in the last N days.
	WindowDays int

	// Message is the text sent to every recipient.
	Message string

	// Timeout is the maximum duration for the job.
	Timeout time.Duration
}

// DefaultBroadcastConfig returns sensible defaults.
func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		WindowDays: 14,
		Message: "👋 Напоминаем о нас!\n\n" +
			"Пройдите короткую анкету командой /questionnaire, чтобы получить подборку предложений, " +
			"или оставьте отзыв через /feedback.\n\n" +
			"Отключить рассылку: /notifications",
		Timeout: 30 * time.Minute,
	}
}

// BroadcastStats contains statistics from a broadcast run.
type BroadcastStats struct {
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Targeted    int
	Attempted   int
	Delivered   int
	Failed      int
	Interrupted bool
}

// NewBroadcastJob creates a new broadcast job.
func NewBroadcastJob(store BroadcastStore, deliverer Deliverer, logger *slog.Logger, config BroadcastConfig) *BroadcastJob {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBroadcastConfig()
	if config.WindowDays <= 0 {
		config.WindowDays = def.WindowDays
	}
	if config.Message == "" {
		config.Message = def.Message
	}
	return &BroadcastJob{
		store:     store,
		deliverer: deliverer,
		logger:    logger.With(slog.String("job", "broadcast")),
		config:    config,
	}
}

// Name returns the job name.
func (j *BroadcastJob) Name() string {
	return "broadcast"
}

// Description returns a human-readable description.
func (j *BroadcastJob) Description() string {
	return fmt.Sprintf("Sends the broadcast to users active in the last %d days", j.config.WindowDays)
}

// Run executes the broadcast.
func (j *BroadcastJob) Run(ctx context.Context) error {
	stats := &BroadcastStats{RunID: uuid.NewString(), StartedAt: time.Now()}
	logger := j.logger.With(slog.String("run_id", stats.RunID))

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	targets := j.store.QueryActiveUsers(ctx, j.config.WindowDays)
	stats.Targeted = len(targets)
	logger.Info("starting broadcast",
		slog.Int("targets", stats.Targeted),
		slog.Int("window_days", j.config.WindowDays),
	)

	var recordErr error
	if len(targets) > 0 {
		ids := make([]shared.UserID, len(targets))
		for i, u := range targets {
			ids[i] = u.ID
		}

		res := j.deliverer.SendAll(ctx, ids, j.config.Message)
		stats.Attempted = len(res.Attempted)
		stats.Delivered = res.Delivered
		stats.Failed = res.Failed
		stats.Interrupted = res.Interrupted

		// Receipts are written even if ctx expired mid-batch.
		recordErr = j.store.RecordBroadcast(context.WithoutCancel(ctx), res.Attempted)
		if recordErr != nil {
			logger.Error("failed to record broadcast", slog.String("error", recordErr.Error()))
		}
	}

	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(stats.StartedAt)
	j.lastRunStats.Store(stats)

	logger.Info("broadcast completed",
		slog.String("duration", stats.Duration.String()),
		slog.Int("attempted", stats.Attempted),
		slog.Int("delivered", stats.Delivered),
		slog.Int("failed", stats.Failed),
	)

	if stats.Interrupted {
		return errors.Join(fmt.Errorf("broadcast interrupted after %d of %d recipients", stats.Attempted, stats.Targeted), recordErr)
	}
	return recordErr
}

// LastRunStats returns statistics from the last run.
func (j *BroadcastJob) LastRunStats() *BroadcastStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*BroadcastStats)
}

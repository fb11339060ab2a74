package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// INACTIVITY SWEEP
// ══════════════════════════════════════════════════════════════════════════════

// SweepStats contains statistics from a sweep run.
type SweepStats struct {
	StartedAt time.Time
	Duration  time.Duration
	Affected  int
	Remaining int
}

// InactivitySweepJob marks users not seen for CutoffDays as inactive.
type InactivitySweepJob struct {
	marker     InactivityMarker
	cutoffDays int
	logger     *slog.Logger

	lastRunStats atomic.Value // *SweepStats
}

// NewInactivitySweepJob creates the daily inactivity sweep.
func NewInactivitySweepJob(marker InactivityMarker, cutoffDays int, logger *slog.Logger) *InactivitySweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	if cutoffDays <= 0 {
		cutoffDays = 90
	}
	return &InactivitySweepJob{
		marker:     marker,
		cutoffDays: cutoffDays,
		logger:     logger.With(slog.String("job", "inactivity_sweep")),
	}
}

// Name returns the job name.
func (j *InactivitySweepJob) Name() string {
	return "inactivity_sweep"
}

// Description returns a human-readable description.
func (j *InactivitySweepJob) Description() string {
	return fmt.Sprintf("Marks users unseen for %d days as inactive", j.cutoffDays)
}

// Run executes the sweep.
func (j *InactivitySweepJob) Run(ctx context.Context) error {
	start := time.Now()
	n, err := j.marker.MarkStaleInactive(ctx, j.cutoffDays)
	j.lastRunStats.Store(&SweepStats{StartedAt: start, Duration: time.Since(start), Affected: n})
	if err != nil {
		return fmt.Errorf("mark stale inactive: %w", err)
	}
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *InactivitySweepJob) LastRunStats() *SweepStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SweepStats)
}

// ══════════════════════════════════════════════════════════════════════════════
// MAINTENANCE
// ══════════════════════════════════════════════════════════════════════════════

// MaintenanceJob evicts expired questionnaire sessions and retries ledger
// writes that failed while the document store was down.
type MaintenanceJob struct {
	sessions SessionSweeper
	flusher  Flusher
	logger   *slog.Logger

	lastRunStats atomic.Value // *SweepStats
}

// NewMaintenanceJob creates the maintenance job. Either dependency may be nil.
func NewMaintenanceJob(sessions SessionSweeper, flusher Flusher, logger *slog.Logger) *MaintenanceJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceJob{
		sessions: sessions,
		flusher:  flusher,
		logger:   logger.With(slog.String("job", "maintenance")),
	}
}

// Name returns the job name.
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Description returns a human-readable description.
func (j *MaintenanceJob) Description() string {
	return "Evicts expired questionnaire sessions and flushes pending ledger writes"
}

// Run executes the job.
func (j *MaintenanceJob) Run(ctx context.Context) error {
	stats := &SweepStats{StartedAt: time.Now()}
	defer func() {
		stats.Duration = time.Since(stats.StartedAt)
		j.lastRunStats.Store(stats)
	}()

	if j.sessions != nil {
		stats.Affected = j.sessions.SweepExpired()
		stats.Remaining = j.sessions.OpenSessions()
		if stats.Affected > 0 {
			j.logger.Info("expired questionnaire sessions evicted",
				slog.Int("evicted", stats.Affected),
				slog.Int("open", stats.Remaining),
			)
		}
	}

	if j.flusher != nil && j.flusher.Degraded() {
		if err := j.flusher.Flush(ctx); err != nil {
			return fmt.Errorf("flush pending writes: %w", err)
		}
		j.logger.Info("pending ledger writes flushed")
	}
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *MaintenanceJob) LastRunStats() *SweepStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SweepStats)
}

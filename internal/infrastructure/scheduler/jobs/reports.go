package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// ReportKind selects what an AdminReportJob renders.
type ReportKind string

const (
	// ReportEfficiency is the report of the current period.
	ReportEfficiency ReportKind = "efficiency"
	// ReportWeekly covers the trailing seven days.
	ReportWeekly ReportKind = "weekly"
)

// ReportStats contains statistics from a report run.
type ReportStats struct {
	Kind        ReportKind
	StartedAt   time.Time
	CompletedAt time.Time
	Length      int
	Delivered   int
	Failed      int
}

// AdminReportJob renders a report and sends it to every administrator.
type AdminReportJob struct {
	kind      ReportKind
	source    SnapshotSource
	generator *report.Generator
	deliverer Deliverer
	admins    []shared.UserID
	logger    *slog.Logger

	lastRunStats atomic.Value // *ReportStats
}

// NewAdminReportJob creates a report job of the given kind.
func NewAdminReportJob(
	kind ReportKind,
	source SnapshotSource,
	generator *report.Generator,
	deliverer Deliverer,
	admins []shared.UserID,
	logger *slog.Logger,
) *AdminReportJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminReportJob{
		kind:      kind,
		source:    source,
		generator: generator,
		deliverer: deliverer,
		admins:    admins,
		logger:    logger.With(slog.String("job", string(kind)+"_report")),
	}
}

// Name returns the job name.
func (j *AdminReportJob) Name() string {
	return string(j.kind) + "_report"
}

// Description returns a human-readable description.
func (j *AdminReportJob) Description() string {
	if j.kind == ReportWeekly {
		return "Sends the trailing seven-day report to administrators"
	}
	return "Sends the current period efficiency report to administrators"
}

// Render builds the report text from a fresh snapshot.
func (j *AdminReportJob) Render(ctx context.Context) string {
	return render(j.kind, j.generator, j.source.Snapshot(ctx))
}

func render(kind ReportKind, g *report.Generator, snap engagement.Snapshot) string {
	if kind == ReportWeekly {
		return g.WeeklyReport(snap)
	}
	return g.CurrentPeriodReport(snap)
}

// Run executes the job.
func (j *AdminReportJob) Run(ctx context.Context) error {
	stats := &ReportStats{Kind: j.kind, StartedAt: time.Now()}

	if len(j.admins) == 0 {
		j.logger.Warn("no administrators configured, report skipped")
		stats.CompletedAt = time.Now()
		j.lastRunStats.Store(stats)
		return nil
	}

	text := j.Render(ctx)
	stats.Length = len([]rune(text))

	res := j.deliverer.SendAll(ctx, j.admins, text)
	stats.Delivered = res.Delivered
	stats.Failed = res.Failed
	stats.CompletedAt = time.Now()
	j.lastRunStats.Store(stats)

	j.logger.Info("report sent",
		slog.Int("admins", len(j.admins)),
		slog.Int("delivered", stats.Delivered),
		slog.Int("failed", stats.Failed),
	)
	if res.Delivered == 0 {
		return fmt.Errorf("%w: report reached none of %d administrators", shared.ErrDeliveryFailed, len(j.admins))
	}
	return nil
}

// LastRunStats returns statistics from the last run.
func (j *AdminReportJob) LastRunStats() *ReportStats {
	stats := j.lastRunStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*ReportStats)
}

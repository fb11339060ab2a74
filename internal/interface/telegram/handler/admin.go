package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/application/report"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
	"github.com/outreach-hub/engagement-bot/internal/interface/telegram/presenter"
)

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLER
// Aggregate queries and manual job runs. The router only dispatches here for
// ids on the administrator list.
// ══════════════════════════════════════════════════════════════════════════════

// JobRunner is the part of *scheduler.Scheduler the admin commands use.
type JobRunner interface {
	RunNow(ctx context.Context, jobName string) (*scheduler.JobResult, error)
	ListJobs() []scheduler.JobInfo
}

// AdminConfig configures an AdminHandler.
type AdminConfig struct {
	// StatsWindowDays is the default window of /stats.
	StatsWindowDays int
	// BroadcastJob is the job /broadcast triggers.
	BroadcastJob string
	// JobTimeout bounds a manual run started from chat.
	JobTimeout time.Duration
	Logger     *slog.Logger
}

// AdminHandler handles the administrator commands.
type AdminHandler struct {
	stats    StatsSource
	reports  *report.Generator
	jobs     JobRunner
	notifier Notifier
	config   AdminConfig
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewAdminHandler creates a new AdminHandler. jobs may be nil when the
// process runs without a scheduler.
func NewAdminHandler(stats StatsSource, reports *report.Generator, jobs JobRunner, notifier Notifier, config AdminConfig) *AdminHandler {
	if config.StatsWindowDays <= 0 {
		config.StatsWindowDays = period.Length
	}
	if config.BroadcastJob == "" {
		config.BroadcastJob = "broadcast"
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = time.Hour
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &AdminHandler{
		stats:    stats,
		reports:  reports,
		jobs:     jobs,
		notifier: notifier,
		config:   config,
		logger:   config.Logger,
	}
}

// Stats handles /stats [days].
func (h *AdminHandler) Stats(ctx context.Context, req Request) (*Response, error) {
	days := h.config.StatsWindowDays
	if arg := strings.TrimSpace(req.Args); arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 || n > 3650 {
			return Text("Укажите число дней, например: /stats 30"), nil
		}
		days = n
	}
	return Text(presenter.Metrics(h.stats.ComputeActivityMetrics(ctx, days))), nil
}

// Report handles /report [period_id].
func (h *AdminHandler) Report(ctx context.Context, req Request) (*Response, error) {
	snap := h.stats.Snapshot(ctx)
	id := strings.TrimSpace(req.Args)
	if id == "" {
		return Text(h.reports.CurrentPeriodReport(snap)), nil
	}
	text, err := h.reports.PeriodReport(snap, id)
	if err != nil {
		return Text(fmt.Sprintf("Неизвестный период %q. Формат: 2024_P3", id)), nil
	}
	return Text(text), nil
}

// Weekly handles /weekly.
func (h *AdminHandler) Weekly(ctx context.Context, _ Request) (*Response, error) {
	return Text(h.reports.WeeklyReport(h.stats.Snapshot(ctx))), nil
}

// Detailed handles /detailed: every period plus a capped user list.
func (h *AdminHandler) Detailed(ctx context.Context, _ Request) (*Response, error) {
	return Text(h.reports.DetailedReport(h.stats.Snapshot(ctx))), nil
}

// Export handles /export: the uncapped detailed report goes to a file.
func (h *AdminHandler) Export(ctx context.Context, _ Request) (*Response, error) {
	path, err := h.reports.ExportDetailed(h.stats.Snapshot(ctx))
	if err != nil {
		h.logger.Error("report export failed", slog.String("error", err.Error()))
		return Text("Не удалось сохранить отчёт: " + err.Error()), nil
	}
	return Text("📁 Подробный отчёт сохранён: " + path), nil
}

// Jobs handles /jobs.
func (h *AdminHandler) Jobs(_ context.Context, _ Request) (*Response, error) {
	if h.jobs == nil {
		return Text("Планировщик не запущен."), nil
	}
	return Text(presenter.Jobs(h.jobs.ListJobs())), nil
}

// Broadcast handles /broadcast.
func (h *AdminHandler) Broadcast(ctx context.Context, req Request) (*Response, error) {
	return h.start(ctx, req, h.config.BroadcastJob)
}

// Run handles /run <job>.
func (h *AdminHandler) Run(ctx context.Context, req Request) (*Response, error) {
	name := strings.TrimSpace(req.Args)
	if name == "" {
		return Text("Укажите задачу: /run <имя>. Список: /jobs"), nil
	}
	return h.start(ctx, req, name)
}

// Wait blocks until manual runs started from chat have finished.
func (h *AdminHandler) Wait() {
	h.wg.Wait()
}

// start runs the job in the background and reports the result to the
// admin who asked. The run outlives the update that triggered it.
func (h *AdminHandler) start(ctx context.Context, req Request, name string) (*Response, error) {
	if h.jobs == nil {
		return Text("Планировщик не запущен."), nil
	}
	known := false
	for _, j := range h.jobs.ListJobs() {
		if j.Name == name {
			known = true
			if j.Running {
				return Text(fmt.Sprintf("Задача %s уже выполняется.", name)), nil
			}
		}
	}
	if !known {
		return Text(fmt.Sprintf("Задача %q не найдена. Список: /jobs", name)), nil
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.JobTimeout)
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer cancel()

		res, err := h.jobs.RunNow(runCtx, name)
		var text string
		switch {
		case errors.Is(err, scheduler.ErrJobRunning):
			text = fmt.Sprintf("Задача %s уже выполняется.", name)
		case res != nil:
			text = presenter.JobResult(*res)
		default:
			text = fmt.Sprintf("Задача %s: %v", name, err)
		}
		h.logger.Info("manual job run finished",
			slog.String("job", name),
			slog.Int64("requested_by", req.UserID.Int64()),
			slog.Bool("ok", err == nil),
		)
		if h.notifier != nil {
			h.notifier.SendAll(runCtx, []shared.UserID{req.UserID}, text)
		}
	}()

	return Text(fmt.Sprintf("▶️ Задача %s запущена. Пришлю результат, когда она завершится.", name)), nil
}

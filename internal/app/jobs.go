package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/infrastructure/persistence/redis"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler/jobs"
)

// entry pairs a job with its schedule expression.
type entry struct {
	job  scheduler.Job
	expr string
}

// jobEntries builds the job set. A job with an empty schedule is
// registered disabled so it can still be run by hand.
func (a *App) jobEntries() []entry {
	cfg := a.Config.Jobs
	bcfg := jobs.DefaultBroadcastConfig()
	bcfg.WindowDays = cfg.BroadcastWindowDays
	if cfg.BroadcastMessage != "" {
		bcfg.Message = cfg.BroadcastMessage
	}
	admins := a.Admins()

	return []entry{
		{jobs.NewBroadcastJob(a.Store, a.Dispatcher, a.Logger, bcfg), cfg.Broadcast},
		{jobs.NewAdminReportJob(jobs.ReportEfficiency, a.Store, a.Reports, a.Dispatcher, admins, a.Logger), cfg.EfficiencyReport},
		{jobs.NewAdminReportJob(jobs.ReportWeekly, a.Store, a.Reports, a.Dispatcher, admins, a.Logger), cfg.WeeklyReport},
		{jobs.NewInactivitySweepJob(a.Store, a.Config.Engagement.InactiveAfterDays, a.Logger), cfg.InactivitySweep},
		{jobs.NewMaintenanceJob(a.Engine, a.Store, a.Logger), cfg.Maintenance},
	}
}

// NewScheduler registers every job. Scheduled runs take a Redis lease when
// Redis is configured so only one replica runs each job.
func (a *App) NewScheduler() (*scheduler.Scheduler, error) {
	scfg := scheduler.DefaultConfig()
	scfg.Logger = a.Logger
	scfg.Timezone = a.Clock.Location()
	scfg.LockTTL = a.Config.Jobs.LockTTL
	if a.Redis != nil {
		scfg.Locker = redis.NewLocker(a.Redis, a.Config.Redis.KeyPrefix)
	}
	s := scheduler.New(scfg)

	for _, e := range a.jobEntries() {
		name := e.job.Name()
		if e.expr == "" {
			// Registered for manual runs only.
			if err := s.Register(e.job, scheduler.NewIntervalSchedule(24*time.Hour)); err != nil {
				return nil, err
			}
			if err := s.DisableJob(name); err != nil {
				return nil, err
			}
			continue
		}
		sched, err := scheduler.ParseSchedule(e.expr)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", name, err)
		}
		if err := s.Register(e.job, sched); err != nil {
			return nil, err
		}
		a.Logger.Debug("job registered", slog.String("job", name), slog.String("schedule", sched.String()))
	}

	if admins := a.Admins(); len(admins) > 0 {
		s.OnJobComplete(func(r scheduler.JobResult) {
			if r.Success || r.Manual {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			a.Dispatcher.SendAll(ctx, admins, jobFailureText(r))
		})
	}
	return s, nil
}

// jobFailureText alerts admins about a failed scheduled run. Manual runs
// report back to whoever started them.
func jobFailureText(r scheduler.JobResult) string {
	msg := "неизвестная ошибка"
	if r.Error != nil {
		msg = r.Error.Error()
	}
	return fmt.Sprintf("⚠️ Задача %s завершилась с ошибкой (%s):\n%s",
		r.JobName, r.Duration.Round(time.Millisecond), msg)
}

// Package main is a one-shot job runner. It assembles the same components as
// the bot, runs a single job by name and exits, so the jobs can be driven by
// an external cron or run by hand during an incident.
//
// Usage:
//
//	worker -list
//	worker -job broadcast
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/outreach-hub/engagement-bot/config"
	"github.com/outreach-hub/engagement-bot/internal/app"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
	"github.com/outreach-hub/engagement-bot/pkg/logger"
)

func main() {
	jobName := flag.String("job", "", "name of the job to run")
	list := flag.Bool("list", false, "list the registered jobs and exit")
	timeout := flag.Duration("timeout", 30*time.Minute, "upper bound for the run")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *jobName, *list, *timeout, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, jobName string, list bool, timeout time.Duration, out io.Writer) error {
	if !list && jobName == "" {
		return errors.New("either -job or -list is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.Log.Format)
	if err != nil {
		return err
	}
	// Logs go to stderr so stdout carries only the result.
	log := logger.Setup(logger.Options{
		Output:  os.Stderr,
		Level:   level,
		Format:  format,
		Service: "engagement-worker",
		Version: cfg.App.Version,
	})

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", logger.Err(err))
		}
	}()

	sched, err := a.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to configure jobs: %w", err)
	}

	if list {
		printJobs(out, sched.ListJobs())
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("running job", logger.Job(jobName))
	result, err := sched.RunNow(runCtx, jobName)
	if result != nil {
		printResult(out, *result)
	}
	return err
}

func printJobs(out io.Writer, jobs []scheduler.JobInfo) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSCHEDULE\tENABLED\tDESCRIPTION")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", j.Name, j.Schedule, j.Enabled, j.Description)
	}
	_ = w.Flush()
}

func printResult(out io.Writer, r scheduler.JobResult) {
	status := "ok"
	switch {
	case r.Skipped:
		status = "skipped"
	case !r.Success:
		status = "failed"
	}
	fmt.Fprintf(out, "%s: %s in %s\n", r.JobName, status, r.Duration.Round(time.Millisecond))
	if r.Error != nil {
		fmt.Fprintf(out, "error: %v\n", r.Error)
	}
}

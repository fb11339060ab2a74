package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/engagement"
	"github.com/outreach-hub/engagement-bot/internal/domain/period"
	"github.com/outreach-hub/engagement-bot/internal/infrastructure/scheduler"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROBES
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every check. Degraded storage still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.Health.Check(r.Context())
	if !status.Healthy {
		writeJSONError(w, r, http.StatusServiceUnavailable, "not_ready", status.Message)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"ready": true})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]bool{"alive": true})
}

// ══════════════════════════════════════════════════════════════════════════════
// STATISTICS
// ══════════════════════════════════════════════════════════════════════════════

// handleMetrics serves ComputeActivityMetrics; ?days= overrides the window.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	days := period.Length
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 3650 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_days", "days must be an integer in 1..3650")
			return
		}
		days = n
	}
	writeJSON(w, r, http.StatusOK, s.deps.Stats.ComputeActivityMetrics(r.Context(), days))
}

type periodView struct {
	ID        string    `json:"id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Current   bool      `json:"current"`
	engagement.Counters
}

type periodsView struct {
	Totals  engagement.Counters `json:"totals"`
	Periods []periodView        `json:"periods"`
}

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Stats.Snapshot(r.Context())
	out := periodsView{Periods: []periodView{}}
	if snap.Statistics != nil {
		out.Totals = snap.Statistics.Totals
		for _, id := range snap.Statistics.PeriodIDs() {
			ps, _ := snap.Statistics.Period(id)
			out.Periods = append(out.Periods, periodView{
				ID:        id,
				StartDate: ps.StartDate,
				EndDate:   ps.EndDate,
				Current:   id == snap.CurrentPeriod.ID,
				Counters:  ps.Counters,
			})
		}
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handlePeriodReport serves the plain-text efficiency report of one window.
func (s *Server) handlePeriodReport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reports == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "reports_disabled", "report generator is not configured")
		return
	}
	snap := s.deps.Stats.Snapshot(r.Context())
	id := r.PathValue("id")
	if id == "current" {
		id = snap.CurrentPeriod.ID
	}
	text, err := s.deps.Reports.PeriodReport(snap, id)
	if err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_period", err.Error())
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// ══════════════════════════════════════════════════════════════════════════════
// JOBS
// ══════════════════════════════════════════════════════════════════════════════

type resultView struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Skipped    bool      `json:"skipped,omitempty"`
	Manual     bool      `json:"manual,omitempty"`
	Error      string    `json:"error,omitempty"`
}

type jobView struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Schedule    string      `json:"schedule"`
	Enabled     bool        `json:"enabled"`
	Running     bool        `json:"running"`
	LastRun     *time.Time  `json:"last_run,omitempty"`
	NextRun     *time.Time  `json:"next_run,omitempty"`
	RunCount    int64       `json:"run_count"`
	FailCount   int64       `json:"fail_count"`
	LastResult  *resultView `json:"last_result,omitempty"`
}

func toResultView(r scheduler.JobResult) *resultView {
	v := &resultView{
		Job:        r.JobName,
		StartedAt:  r.StartedAt,
		DurationMs: r.Duration.Milliseconds(),
		Success:    r.Success,
		Skipped:    r.Skipped,
		Manual:     r.Manual,
	}
	if r.Error != nil {
		v.Error = r.Error.Error()
	}
	return v
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, r, http.StatusOK, []jobView{})
		return
	}
	infos := s.deps.Jobs.ListJobs()
	out := make([]jobView, 0, len(infos))
	for _, j := range infos {
		v := jobView{
			Name:        j.Name,
			Description: j.Description,
			Schedule:    j.Schedule,
			Enabled:     j.Enabled,
			Running:     j.Running,
			LastRun:     timePtr(j.LastRun),
			NextRun:     timePtr(j.NextRun),
			RunCount:    j.RunCount,
			FailCount:   j.FailCount,
		}
		if j.LastResult != nil {
			v.LastResult = toResultView(*j.LastResult)
		}
		out = append(out, v)
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleJobHistory returns the most recent results, newest first.
func (s *Server) handleJobHistory(w http.ResponseWriter, r *http.Request) {
	hs, ok := s.deps.Jobs.(HistorySource)
	if !ok {
		writeJSON(w, r, http.StatusOK, []resultView{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, r, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	history := hs.GetHistory(limit)
	out := make([]resultView, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		out = append(out, *toResultView(history[i]))
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleRunJob runs a job synchronously within the request.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "scheduler_disabled", "scheduler is not running")
		return
	}
	name := r.PathValue("name")
	res, err := s.deps.Jobs.RunNow(r.Context(), name)
	switch {
	case errors.Is(err, scheduler.ErrJobNotFound):
		writeJSONError(w, r, http.StatusNotFound, "job_not_found", err.Error())
	case errors.Is(err, scheduler.ErrJobRunning):
		writeJSONError(w, r, http.StatusConflict, "job_running", err.Error())
	case res != nil:
		code := http.StatusOK
		if !res.Success && !res.Skipped {
			code = http.StatusInternalServerError
		}
		writeJSON(w, r, code, toResultView(*res))
	default:
		writeJSONError(w, r, http.StatusInternalServerError, "job_failed", err.Error())
	}
}

func (s *Server) handleBotStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Bot == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "bot_disabled", "bot is not running")
		return
	}
	writeJSON(w, r, http.StatusOK, s.deps.Bot.GetStats())
}

type deadLetterView struct {
	UserID   int64     `json:"user_id"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

type deliveryView struct {
	Delivered       int64            `json:"delivered_total"`
	Failed          int64            `json:"failed_total"`
	AverageDuration string           `json:"average_duration"`
	DeadLetters     []deadLetterView `json:"dead_letters"`
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Delivery == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "delivery_disabled", "dispatcher is not configured")
		return
	}
	snap := s.deps.Delivery.Metrics().Snapshot()
	v := deliveryView{
		Delivered:       snap.DeliveredTotal,
		Failed:          snap.FailedTotal,
		AverageDuration: snap.AverageDuration.String(),
		DeadLetters:     []deadLetterView{},
	}
	for _, e := range s.deps.Delivery.DeadLetterQueue().Entries() {
		dl := deadLetterView{UserID: int64(e.ChatID), FailedAt: e.FailedAt}
		if e.Error != nil {
			dl.Error = e.Error.Error()
		}
		v.DeadLetters = append(v.DeadLetters, dl)
	}
	writeJSON(w, r, http.StatusOK, v)
}

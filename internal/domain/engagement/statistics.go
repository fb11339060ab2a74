package engagement

import (
	"sort"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/period"
)

// Metric names one engagement counter.
type Metric string

const (
	MetricRegistered       Metric = "registered"
	MetricQuestionnaires   Metric = "questionnaires"
	MetricBroadcastsSent   Metric = "broadcasts_sent"
	MetricMessagesReceived Metric = "messages_received"
	MetricFeedbackReceived Metric = "feedback_received"
	MetricActiveUsers      Metric = "active_users"
)

// AllMetrics lists every counter in report order.
var AllMetrics = []Metric{
	MetricRegistered,
	MetricQuestionnaires,
	MetricBroadcastsSent,
	MetricMessagesReceived,
	MetricFeedbackReceived,
	MetricActiveUsers,
}

// Counters is the counter set shared by lifetime totals and every period.
type Counters struct {
	Registered       int64 `json:"registered"`
	Questionnaires   int64 `json:"questionnaires"`
	BroadcastsSent   int64 `json:"broadcasts_sent"`
	MessagesReceived int64 `json:"messages_received"`
	FeedbackReceived int64 `json:"feedback_received"`
	ActiveUsers      int64 `json:"active_users"`
}

// Get returns the value of m.
func (c Counters) Get(m Metric) int64 {
	if p := c.field(m); p != nil {
		return *p
	}
	return 0
}

// add increments m by delta; negative deltas are ignored.
func (c *Counters) add(m Metric, delta int64) {
	if delta <= 0 {
		return
	}
	if p := c.field(m); p != nil {
		*p += delta
	}
}

func (c *Counters) field(m Metric) *int64 {
	switch m {
	case MetricRegistered:
		return &c.Registered
	case MetricQuestionnaires:
		return &c.Questionnaires
	case MetricBroadcastsSent:
		return &c.BroadcastsSent
	case MetricMessagesReceived:
		return &c.MessagesReceived
	case MetricFeedbackReceived:
		return &c.FeedbackReceived
	case MetricActiveUsers:
		return &c.ActiveUsers
	default:
		return nil
	}
}

// PeriodStats is the counter set of one 14-day window.
type PeriodStats struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Counters
}

// Statistics is the decoded "statistics" document.
type Statistics struct {
	Totals  Counters                `json:"totals"`
	Periods map[string]*PeriodStats `json:"periods"`
}

// NewStatistics returns the empty-schema default.
func NewStatistics() *Statistics {
	return &Statistics{Periods: make(map[string]*PeriodStats)}
}

// Increment bumps m in the lifetime totals and in p, creating p lazily.
func (s *Statistics) Increment(p period.Period, m Metric, delta int64) {
	if delta <= 0 {
		return
	}
	if s.Periods == nil {
		s.Periods = make(map[string]*PeriodStats)
	}
	ps, ok := s.Periods[p.ID]
	if !ok {
		ps = &PeriodStats{StartDate: p.Start, EndDate: p.End}
		s.Periods[p.ID] = ps
	}
	ps.add(m, delta)
	s.Totals.add(m, delta)
}

// Period returns a copy of the counters of the window id, zero if none.
func (s *Statistics) Period(id string) (PeriodStats, bool) {
	ps, ok := s.Periods[id]
	if !ok {
		return PeriodStats{}, false
	}
	return *ps, true
}

// PeriodIDs returns the known window ids in chronological order.
func (s *Statistics) PeriodIDs() []string {
	ids := make([]string, 0, len(s.Periods))
	for id := range s.Periods {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return period.Compare(ids[i], ids[j]) < 0 })
	return ids
}

// SumPeriods recomputes a metric from the period counters. Used for audits;
// the lifetime totals are never rebuilt from it.
func (s *Statistics) SumPeriods(m Metric) int64 {
	var sum int64
	for _, ps := range s.Periods {
		sum += ps.Get(m)
	}
	return sum
}

func (s *Statistics) clone() *Statistics {
	c := &Statistics{Totals: s.Totals, Periods: make(map[string]*PeriodStats, len(s.Periods))}
	for id, ps := range s.Periods {
		cp := *ps
		c.Periods[id] = &cp
	}
	return c
}

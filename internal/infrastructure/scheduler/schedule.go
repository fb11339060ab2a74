package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

// String returns the string representation of the schedule.
func (s *IntervalSchedule) String() string {
	return "@every " + s.Interval.String()
}

var descriptors = map[string]string{
	"@hourly":   EveryHour,
	"@daily":    EveryDayMidnight,
	"@midnight": EveryDayMidnight,
	"@weekly":   EverySunday,
	"@monthly":  "0 0 1 * *",
}

// ParseSchedule accepts a 5-field cron expression, one of the @hourly,
// @daily, @weekly, @monthly descriptors, or "@every <duration>".
func ParseSchedule(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}

	if rest, ok := strings.CutPrefix(expr, "@every "); ok {
		d, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval %q: %w", rest, err)
		}
		if d < time.Second {
			return nil, fmt.Errorf("interval %s is shorter than one second", d)
		}
		return NewIntervalSchedule(d), nil
	}

	if cron, ok := descriptors[expr]; ok {
		return ParseCronExpression(cron)
	}
	if strings.HasPrefix(expr, "@") {
		return nil, fmt.Errorf("unknown schedule descriptor %q", expr)
	}
	return ParseCronExpression(expr)
}

// Package period maps timestamps onto fixed 14-day accounting windows.
//
// Windows are anchored to January 1 of the timestamp's year and numbered from
// 1. Numbering restarts every year, so the last window of a year is shorter
// than 14 days and ends on December 31.
package period

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
	"github.com/outreach-hub/engagement-bot/pkg/timeutil"
)

// Length is the nominal window length in days.
const Length = 14

// Period is one accounting window.
type Period struct {
	ID     string
	Year   int
	Number int       // 1-based
	Start  time.Time // 00:00 of the first day
	End    time.Time // 23:59:59.999999999 of the last day, never past Dec 31
}

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	t = t.In(p.Start.Location())
	return !t.Before(p.Start) && !t.After(p.End)
}

// Days returns the number of calendar days covered, 14 for all but the last window of a year.
func (p Period) Days() int {
	return timeutil.DaysBetween(p.Start, p.End) + 1
}

// Next returns the window that follows p.
func (p Period) Next() Period {
	return at(p.End.Add(time.Nanosecond))
}

// String renders the window as "2024_P3 (29.01.2024 - 11.02.2024)".
func (p Period) String() string {
	return fmt.Sprintf("%s (%s - %s)", p.ID,
		p.Start.Format(timeutil.FormatRussianDate), p.End.Format(timeutil.FormatRussianDate))
}

// Clock resolves periods in a fixed location. The zero value is not usable.
type Clock struct {
	loc *time.Location
	now func() time.Time
}

// NewClock creates a clock for loc. A nil loc means timeutil.MoscowTZ.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		loc = timeutil.MoscowTZ
	}
	return &Clock{loc: loc, now: time.Now}
}

// WithNow returns a copy of the clock reading time from now. Used in tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	return &Clock{loc: c.loc, now: now}
}

// Location returns the clock's location.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current time in the clock's location.
func (c *Clock) Now() time.Time {
	return c.now().In(c.loc)
}

// Current returns the window containing Now().
func (c *Clock) Current() Period {
	return at(c.Now())
}

// At returns the window containing t, interpreted in the clock's location.
func (c *Clock) At(t time.Time) Period {
	return at(t.In(c.loc))
}

// ID is a shorthand for At(t).ID.
func (c *Clock) ID(t time.Time) string {
	return c.At(t).ID
}

// Bounds is a shorthand for At(t).Start, At(t).End.
func (c *Clock) Bounds(t time.Time) (time.Time, time.Time) {
	p := c.At(t)
	return p.Start, p.End
}

// ByID rebuilds the window for an identifier produced by ID.
func (c *Clock) ByID(id string) (Period, error) {
	year, number, err := ParseID(id)
	if err != nil {
		return Period{}, err
	}
	jan1 := time.Date(year, time.January, 1, 0, 0, 0, 0, c.loc)
	start := jan1.AddDate(0, 0, (number-1)*Length)
	if start.Year() != year {
		return Period{}, shared.WrapError("period", "ByID", shared.ErrInvalidFormat,
			"period number past end of year", fmt.Errorf("%s", id))
	}
	return at(start), nil
}

// FormatID builds the identifier for a 1-based window number.
func FormatID(year, number int) string {
	return fmt.Sprintf("%d_P%d", year, number)
}

// ParseID splits "2024_P3" into (2024, 3).
func ParseID(id string) (int, int, error) {
	yearPart, numPart, ok := strings.Cut(id, "_P")
	if !ok {
		return 0, 0, shared.NewDomainError("period", "ParseID", shared.ErrInvalidFormat, "malformed period id "+strconv.Quote(id))
	}
	year, err := strconv.Atoi(yearPart)
	if err != nil {
		return 0, 0, shared.WrapError("period", "ParseID", shared.ErrInvalidFormat, "malformed year", err)
	}
	number, err := strconv.Atoi(numPart)
	if err != nil || number < 1 {
		return 0, 0, shared.WrapError("period", "ParseID", shared.ErrInvalidFormat, "malformed period number", err)
	}
	return year, number, nil
}

// Compare orders identifiers chronologically; malformed ids sort first.
func Compare(a, b string) int {
	ay, an, errA := ParseID(a)
	by, bn, errB := ParseID(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	case ay != by:
		return ay - by
	default:
		return an - bn
	}
}

func at(t time.Time) Period {
	jan1 := timeutil.StartOfYear(t)
	elapsed := t.YearDay() - 1
	n := elapsed / Length

	start := jan1.AddDate(0, 0, n*Length)
	end := timeutil.EndOfDay(start.AddDate(0, 0, Length-1))
	if yearEnd := timeutil.EndOfDay(time.Date(t.Year(), time.December, 31, 0, 0, 0, 0, t.Location())); end.After(yearEnd) {
		end = yearEnd
	}

	return Period{
		ID:     FormatID(t.Year(), n+1),
		Year:   t.Year(),
		Number: n + 1,
		Start:  start,
		End:    end,
	}
}

package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outreach-hub/engagement-bot/pkg/timeutil"
)

func TestClock_At_FirstPeriod(t *testing.T) {
	c := NewClock(time.UTC)

	p := c.At(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024_P1", p.ID)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), p.Start)
	assert.Equal(t, time.Date(2024, time.January, 14, 23, 59, 59, 999999999, time.UTC), p.End)
	assert.Equal(t, 14, p.Days())
}

func TestClock_At_SameWindowSameID(t *testing.T) {
	c := NewClock(time.UTC)
	start := time.Date(2024, time.January, 29, 0, 0, 0, 0, time.UTC)

	want := c.ID(start)
	assert.Equal(t, "2024_P3", want)
	for offset := time.Duration(0); offset < Length*24*time.Hour; offset += 7 * time.Hour {
		assert.Equal(t, want, c.ID(start.Add(offset)), "offset %s", offset)
	}
	assert.Equal(t, "2024_P4", c.ID(start.Add(Length*24*time.Hour)))
}

func TestClock_At_Contiguous(t *testing.T) {
	c := NewClock(time.UTC)
	p := c.At(time.Date(2023, time.January, 1, 12, 0, 0, 0, time.UTC))

	for p.Year == 2023 {
		next := p.Next()
		if next.Year != 2023 {
			break
		}
		assert.Equal(t, p.End.Add(time.Nanosecond), next.Start, "gap after %s", p.ID)
		assert.Equal(t, p.Number+1, next.Number)
		p = next
	}
	assert.Equal(t, "2023_P27", p.ID)
}

func TestClock_At_YearBoundaryRestartsNumbering(t *testing.T) {
	c := NewClock(time.UTC)

	last := c.At(time.Date(2023, time.December, 31, 10, 0, 0, 0, time.UTC))
	assert.Equal(t, "2023_P27", last.ID)
	assert.Equal(t, time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC), last.Start)
	assert.Equal(t, time.Date(2023, time.December, 31, 23, 59, 59, 999999999, time.UTC), last.End)
	assert.Equal(t, 1, last.Days())

	first := c.At(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024_P1", first.ID)
	assert.Equal(t, first, last.Next())
}

func TestClock_At_LeapYearLastPeriod(t *testing.T) {
	c := NewClock(time.UTC)

	p := c.At(time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024_P27", p.ID)
	assert.Equal(t, 2, p.Days())
}

func TestClock_At_UsesClockLocation(t *testing.T) {
	c := NewClock(timeutil.MoscowTZ)

	// 22:30 UTC on Jan 14 is already Jan 15 in Moscow.
	p := c.At(time.Date(2024, time.January, 14, 22, 30, 0, 0, time.UTC))
	assert.Equal(t, "2024_P2", p.ID)
	assert.Equal(t, timeutil.MoscowTZ, p.Start.Location())
}

func TestClock_Current(t *testing.T) {
	fixed := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	c := NewClock(time.UTC).WithNow(func() time.Time { return fixed })

	assert.Equal(t, "2024_P5", c.Current().ID)
	assert.True(t, c.Current().Contains(fixed))
}

func TestClock_ByID(t *testing.T) {
	c := NewClock(time.UTC)

	p, err := c.ByID("2024_P3")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.January, 29, 0, 0, 0, 0, time.UTC), p.Start)

	_, err = c.ByID("2024_P40")
	assert.Error(t, err)

	_, err = c.ByID("garbage")
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	year, number, err := ParseID("2025_P12")
	require.NoError(t, err)
	assert.Equal(t, 2025, year)
	assert.Equal(t, 12, number)

	for _, bad := range []string{"", "2025", "2025_P", "2025_P0", "x_P1"} {
		_, _, err := ParseID(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompare(t *testing.T) {
	assert.Less(t, Compare("2024_P2", "2024_P10"), 0)
	assert.Greater(t, Compare("2025_P1", "2024_P27"), 0)
	assert.Equal(t, 0, Compare("2024_P3", "2024_P3"))
	assert.Less(t, Compare("bad", "2024_P1"), 0)
}

// Package timeutil provides timezone utilities for the bot's home timezone
// (Moscow, UTC+3). Report dates, period boundaries and the daily schedule are
// all interpreted in this zone.
package timeutil

import (
	"fmt"
	"math"
	"time"
)

// MoscowTZ is the Moscow timezone (UTC+3, no DST since 2014).
var MoscowTZ = time.FixedZone("Europe/Moscow", 3*60*60)

// ToMoscow converts a time to Moscow timezone.
func ToMoscow(t time.Time) time.Time {
	return t.In(MoscowTZ)
}

// StartOfDay returns the start of the day (00:00:00) in t's own location.
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EndOfDay returns the end of the day (23:59:59.999999999) in t's own location.
func EndOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, t.Location())
}

// StartOfYear returns January 1 00:00 of t's year in t's own location.
func StartOfYear(t time.Time) time.Time {
	return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
}

// DaysBetween calculates the number of calendar days between two times.
func DaysBetween(t1, t2 time.Time) int {
	a1 := StartOfDay(t1)
	a2 := StartOfDay(t2.In(t1.Location()))
	days := int(math.Round(a2.Sub(a1).Hours() / 24))
	if days < 0 {
		days = -days
	}
	return days
}

// Common date/time formats.
const (
	// FormatRussianDate is the Russian date format (DD.MM.YYYY).
	FormatRussianDate = "02.01.2006"
	// FormatRussianDateTime is the Russian datetime format.
	FormatRussianDateTime = "02.01.2006 15:04"
	// FormatFileStamp is used in exported report file names.
	FormatFileStamp = "20060102_150405"
)

// FormatRussian formats a time in Russian format (DD.MM.YYYY) in Moscow timezone.
func FormatRussian(t time.Time) string {
	return ToMoscow(t).Format(FormatRussianDate)
}

// FormatRussianDateTimeStr formats date and time (DD.MM.YYYY HH:MM) in Moscow timezone.
func FormatRussianDateTimeStr(t time.Time) string {
	return ToMoscow(t).Format(FormatRussianDateTime)
}

// FormatRelative returns a human-readable relative time string.
func FormatRelative(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "в будущем"
	case d < time.Minute:
		return "только что"
	case d < time.Hour:
		return fmt.Sprintf("%d мин назад", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d ч назад", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "вчера"
		}
		return fmt.Sprintf("%d дн назад", days)
	}
}

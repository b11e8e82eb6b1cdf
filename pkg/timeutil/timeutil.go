// Package timeutil provides calendar-day arithmetic in a configured timezone.
// Streaks count calendar days, not 24h intervals, and the weekly cycle is
// keyed by ISO week, so both need the platform's local calendar.
package timeutil

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// Clock abstracts the current time so tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

// Now returns the pinned instant.
func (c FixedClock) Now() time.Time { return c.T }

// Calendar resolves instants to calendar days in one timezone.
type Calendar struct {
	loc *time.Location
}

// NewCalendar loads the named IANA zone. An empty name means UTC.
func NewCalendar(name string) (*Calendar, error) {
	if name == "" {
		return &Calendar{loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return &Calendar{loc: loc}, nil
}

// UTCCalendar returns a calendar in UTC.
func UTCCalendar() *Calendar {
	return &Calendar{loc: time.UTC}
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Day returns the calendar day of t as midnight UTC of that local date.
// Normalizing to UTC keeps day differences exact across DST changes.
func (c *Calendar) Day(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the number of calendar days from a to b (negative if b is earlier).
func (c *Calendar) DaysBetween(a, b time.Time) int {
	return int(c.Day(b).Sub(c.Day(a)).Hours() / 24)
}

// IsSameDay reports whether a and b fall on the same local date.
func (c *Calendar) IsSameDay(a, b time.Time) bool {
	return c.DaysBetween(a, b) == 0
}

// StartOfDay returns local midnight of t's date.
func (c *Calendar) StartOfDay(t time.Time) time.Time {
	local := t.In(c.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
}

// StartOfWeek returns Monday 00:00 of t's week in the calendar's timezone.
func (c *Calendar) StartOfWeek(t time.Time) time.Time {
	local := t.In(c.loc)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	return c.StartOfDay(local.AddDate(0, 0, -(weekday - 1)))
}

// WeekKey returns the ISO week of t, e.g. "2026-W42".
func (c *Calendar) WeekKey(t time.Time) string {
	year, week := t.In(c.loc).ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// HourOf returns the local hour of day (0-23).
func (c *Calendar) HourOf(t time.Time) int {
	return t.In(c.loc).Hour()
}

// Date builds a UTC-normalized calendar day, matching what Day returns.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

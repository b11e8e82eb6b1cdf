package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar_DayUsesLocalDate(t *testing.T) {
	cal, err := NewCalendar("Asia/Almaty")
	require.NoError(t, err)

	// 20:30 UTC on the 9th is already the 10th in Almaty (UTC+5).
	instant := time.Date(2026, 3, 9, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, Date(2026, 3, 10), cal.Day(instant))
}

func TestCalendar_DaysBetween(t *testing.T) {
	cal := UTCCalendar()
	day10 := time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC)

	assert.Equal(t, 0, cal.DaysBetween(day10, time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)))
	assert.Equal(t, 1, cal.DaysBetween(day10, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 3, cal.DaysBetween(day10, Date(2026, 3, 13)))
	assert.Equal(t, -2, cal.DaysBetween(day10, Date(2026, 3, 8)))
	assert.True(t, cal.IsSameDay(day10, Date(2026, 3, 10)))
}

func TestCalendar_StartOfWeekAndKey(t *testing.T) {
	cal := UTCCalendar()
	sunday := time.Date(2026, 10, 18, 15, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), cal.StartOfWeek(sunday))
	assert.Equal(t, "2026-W42", cal.WeekKey(sunday))
	assert.Equal(t, "2026-W43", cal.WeekKey(sunday.AddDate(0, 0, 1)))
}

func TestNewCalendar_UnknownZone(t *testing.T) {
	_, err := NewCalendar("Mars/Olympus")
	assert.Error(t, err)
}

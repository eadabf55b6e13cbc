package quiethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEvaluator(t *testing.T, w Window, enabled bool) *Evaluator {
	t.Helper()
	e, err := New(w, "UTC", enabled)
	require.NoError(t, err)
	return e
}

func utcHour(hour int) time.Time {
	return time.Date(2026, 3, 14, hour, 30, 0, 0, time.UTC)
}

func TestWindowContains_Wrapping(t *testing.T) {
	w := Window{StartHour: 22, EndHour: 8}

	cases := []struct {
		hour  int
		quiet bool
	}{
		{23, true},
		{0, true},
		{7, true},
		{8, false},
		{9, false},
		{21, false},
		{22, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.quiet, w.Contains(tc.hour), "hour %d", tc.hour)
	}
}

func TestWindowContains_NonWrapping(t *testing.T) {
	w := Window{StartHour: 9, EndHour: 17}

	assert.False(t, w.Contains(8))
	assert.True(t, w.Contains(9))
	assert.True(t, w.Contains(16))
	assert.False(t, w.Contains(17))
	assert.False(t, w.Contains(23))
}

func TestWindowContains_EmptyWindow(t *testing.T) {
	w := Window{StartHour: 8, EndHour: 8}
	for h := 0; h < 24; h++ {
		assert.False(t, w.Contains(h), "hour %d", h)
	}
}

func TestEvaluate_WrapAroundUTC(t *testing.T) {
	e := mustEvaluator(t, Window{StartHour: 22, EndHour: 8}, true)

	quiet, _ := e.Evaluate(utcHour(23), "UTC")
	assert.True(t, quiet, "localHour=23 inside [22,8)")

	quiet, _ = e.Evaluate(utcHour(9), "UTC")
	assert.False(t, quiet, "localHour=9 outside [22,8)")

	quiet, _ = e.Evaluate(utcHour(0), "UTC")
	assert.True(t, quiet, "localHour=0 inside [22,8)")
}

func TestEvaluate_ResumeAt(t *testing.T) {
	e := mustEvaluator(t, Window{StartHour: 22, EndHour: 8}, true)

	// 23:30 → resume at 08:00 the next day.
	now := utcHour(23)
	quiet, resume := e.Evaluate(now, "UTC")
	require.True(t, quiet)
	assert.Equal(t, time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC), resume)

	// 02:30 → resume at 08:00 the same day.
	now = utcHour(2)
	quiet, resume = e.Evaluate(now, "UTC")
	require.True(t, quiet)
	assert.Equal(t, time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC), resume)

	// resumeAt must be strictly after now and outside the window.
	assert.True(t, resume.After(now))
	assert.False(t, e.Window.Contains(resume.Hour()))
}

func TestEvaluate_RecipientTimezone(t *testing.T) {
	e := mustEvaluator(t, Window{StartHour: 22, EndHour: 8}, true)

	// 04:30 UTC is 23:30 the previous evening in Chicago (UTC-5 in March).
	now := time.Date(2026, 3, 14, 4, 30, 0, 0, time.UTC)
	quiet, resume := e.Evaluate(now, "America/Chicago")
	require.True(t, quiet)

	chi, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	assert.Equal(t, 8, resume.In(chi).Hour())
}

func TestEvaluate_InvalidTimezoneFallsBack(t *testing.T) {
	e := mustEvaluator(t, Window{StartHour: 22, EndHour: 8}, true)

	quiet, _ := e.Evaluate(utcHour(23), "Not/AZone")
	assert.True(t, quiet, "invalid tz falls back to default UTC, 23h is quiet")

	quiet, _ = e.Evaluate(utcHour(12), "")
	assert.False(t, quiet, "empty tz falls back to default UTC, noon is not quiet")
}

func TestEvaluate_Disabled(t *testing.T) {
	e := mustEvaluator(t, Window{StartHour: 0, EndHour: 24}, false)

	for h := 0; h < 24; h++ {
		quiet, _ := e.Evaluate(utcHour(h), "UTC")
		assert.False(t, quiet, "disabled evaluator is never quiet (hour %d)", h)
	}
}

func TestNew_InvalidDefaultTZ(t *testing.T) {
	_, err := New(Window{StartHour: 22, EndHour: 8}, "Mars/OlympusMons", true)
	assert.Error(t, err)
}

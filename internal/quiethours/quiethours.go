// Package quiethours decides whether a send to a recipient must be deferred
// because the recipient's local time falls inside a configured
// do-not-disturb window, and when sending becomes allowed again.
//
// Everything here is a pure computation over (instant, timezone, window).
// No clocks, no stores, no side effects beyond a log line for malformed
// timezone preferences.
package quiethours

import (
	"log"
	"time"
)

// Window is a do-not-disturb window in 24h local time, [StartHour, EndHour).
// StartHour > EndHour means the window wraps midnight (e.g. 22 → 8).
type Window struct {
	StartHour int `yaml:"start_hour" json:"start_hour"`
	EndHour   int `yaml:"end_hour" json:"end_hour"`
}

// Contains reports whether the given local hour falls inside the window.
func (w Window) Contains(localHour int) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour > w.EndHour {
		// Wraps midnight: quiet when at/after start OR before end.
		return localHour >= w.StartHour || localHour < w.EndHour
	}
	return localHour >= w.StartHour && localHour < w.EndHour
}

// Evaluator computes quiet-hours decisions for recipients.
type Evaluator struct {
	Window    Window
	DefaultTZ *time.Location
	// Enabled gates the whole feature. When false Evaluate always returns
	// not-quiet, regardless of window or timezone.
	Enabled bool
}

// New creates an Evaluator. defaultTZ must be a valid IANA zone; it is the
// fallback for recipients with missing or malformed timezone preferences.
func New(window Window, defaultTZ string, enabled bool) (*Evaluator, error) {
	loc, err := time.LoadLocation(defaultTZ)
	if err != nil {
		return nil, err
	}
	return &Evaluator{Window: window, DefaultTZ: loc, Enabled: enabled}, nil
}

// Evaluate reports whether now falls inside the quiet window for the given
// IANA timezone and, if so, the next instant at which sending is allowed.
//
// An unknown or empty timezone never fails the caller: it falls back to the
// evaluator's default zone. A send must not break because one recipient has
// malformed preference data.
func (e *Evaluator) Evaluate(now time.Time, tz string) (quiet bool, resumeAt time.Time) {
	if e == nil || !e.Enabled {
		return false, time.Time{}
	}

	loc := e.DefaultTZ
	if tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			log.Printf("[QuietHours] invalid timezone %q, using default %s", tz, e.DefaultTZ)
		} else {
			loc = parsed
		}
	}

	local := now.In(loc)
	if !e.Window.Contains(local.Hour()) {
		return false, time.Time{}
	}
	return true, e.nextAllowed(local)
}

// nextAllowed returns the first instant at or after local where the window
// no longer applies: today's EndHour, or tomorrow's if it already passed.
func (e *Evaluator) nextAllowed(local time.Time) time.Time {
	end := time.Date(local.Year(), local.Month(), local.Day(),
		e.Window.EndHour, 0, 0, 0, local.Location())
	if !end.After(local) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

package limits

import (
	"fmt"
	"time"
)

// WindowKind is a fixed time bucket bounding a counter's accumulation period.
type WindowKind string

const (
	WindowMinute WindowKind = "minute"
	WindowHour   WindowKind = "hour"
	WindowDay    WindowKind = "day"
	WindowMonth  WindowKind = "month"
)

// RateWindows are the windows checked by the per-key rate limiter.
var RateWindows = []WindowKind{WindowMinute, WindowHour, WindowDay}

// Valid reports whether w is a known window kind.
func (w WindowKind) Valid() bool {
	switch w {
	case WindowMinute, WindowHour, WindowDay, WindowMonth:
		return true
	}
	return false
}

// Start returns the first instant of the window containing t, in UTC.
// Minute, hour and day windows are floor(t / size) * size; month windows
// start at the first instant of the calendar month.
func (w WindowKind) Start(t time.Time) time.Time {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Truncate(time.Minute)
	case WindowHour:
		return t.Truncate(time.Hour)
	case WindowDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case WindowMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	panic(fmt.Sprintf("limits: unknown window kind %q", string(w)))
}

// End returns the first instant of the window following the one containing t.
func (w WindowKind) End(t time.Time) time.Time {
	start := w.Start(t)
	switch w {
	case WindowMinute:
		return start.Add(time.Minute)
	case WindowHour:
		return start.Add(time.Hour)
	case WindowDay:
		return start.AddDate(0, 0, 1)
	}
	return start.AddDate(0, 1, 0)
}

// UntilReset returns how long until the window containing now rolls over.
func (w WindowKind) UntilReset(now time.Time) time.Duration {
	return w.End(now).Sub(now)
}

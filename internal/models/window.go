package models

import (
	"fmt"
	"time"
)

// Window is a calendar accounting period resolved in local time at query time.
type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

// AllWindows returns the supported windows from narrowest to widest.
func AllWindows() []Window {
	return []Window{WindowDay, WindowWeek, WindowMonth}
}

// ParseWindow converts a string into a Window, rejecting unknown values.
func ParseWindow(s string) (Window, error) {
	w := Window(s)
	switch w {
	case WindowDay, WindowWeek, WindowMonth:
		return w, nil
	}
	return "", fmt.Errorf("unknown window: %q", s)
}

// Bounds returns the half-open interval [start, end) of the calendar window
// containing now. Day is the calendar day, week is the ISO week starting
// Monday, month is the calendar month, all in now's location.
func (w Window) Bounds(now time.Time) (start, end time.Time) {
	year, month, day := now.Date()
	loc := now.Location()

	switch w {
	case WindowWeek:
		// Weekday is Sunday-based; shift so Monday is day zero.
		offset := (int(now.Weekday()) + 6) % 7
		start = time.Date(year, month, day, 0, 0, 0, 0, loc).AddDate(0, 0, -offset)
		return start, start.AddDate(0, 0, 7)
	case WindowMonth:
		start = time.Date(year, month, 1, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 1, 0)
	default:
		start = time.Date(year, month, day, 0, 0, 0, 0, loc)
		return start, start.AddDate(0, 0, 1)
	}
}

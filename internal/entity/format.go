package entity

import (
	"strings"
	"time"
)

// Display is the location used to render timestamps.
var Display = time.Local

var layouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts the timestamp shapes the backend emits.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatDate renders s as "DD/MM/YYYY HH:MM", or "-" when s is empty or
// unparseable.
func FormatDate(s string) string {
	t, ok := ParseTime(s)
	if !ok {
		return "-"
	}
	return t.In(Display).Format("02/01/2006 15:04")
}

// FormatDateOnly renders s as "DD/MM/YYYY", or "-".
func FormatDateOnly(s string) string {
	t, ok := ParseTime(s)
	if !ok {
		return "-"
	}
	return t.In(Display).Format("02/01/2006")
}

// DateInput converts a stored timestamp to the value of a date input.
func DateInput(s string) string {
	t, ok := ParseTime(s)
	if !ok {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// DateValue converts a date input to the timestamp stored by the backend.
// Dates are pinned to midday UTC so no timezone shifts the day.
func DateValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return s
	}
	return t.Add(12 * time.Hour).UTC().Format("2006-01-02T15:04:05.000Z")
}

// Ref renders a reference to another record, such as "User #4".
func Ref(kind string, id ID) string {
	if id.IsZero() {
		return "-"
	}
	return kind + " #" + string(id)
}

// OrDash returns "-" for blank values.
func OrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

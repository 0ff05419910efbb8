package domain

import (
	"strings"
	"time"
)

// DateLayout is the calendar date format used in APIs and fixtures.
const DateLayout = "2006-01-02"

// ParseTimestamp parses an RFC3339 timestamp that carries an explicit offset
// and normalizes it to UTC. Anything without an offset, a bare calendar date
// included, is rejected: use ParseDate for calendar-date fields.
func ParseTimestamp(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, NewValidationError("", field, "timestamp is required")
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, NewValidationError("", field, "timestamp %q must be RFC3339 with a timezone offset", value)
	}
	return t.UTC(), nil
}

// ParseDate parses a calendar date (YYYY-MM-DD) as midnight UTC.
func ParseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, NewValidationError("", field, "invalid date %q, expected YYYY-MM-DD", value)
	}
	return t, nil
}

// ValidateInstant rejects zero times and times not normalized to UTC.
func ValidateInstant(txID, field string, t time.Time) error {
	if t.IsZero() {
		return NewValidationError(txID, field, "timestamp is required")
	}
	if t.Location() != time.UTC {
		return NewValidationError(txID, field, "timestamp must be timezone-aware and normalized to UTC, got location %q", t.Location().String())
	}
	return nil
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay returns the last instant of t's UTC calendar day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).Add(24*time.Hour - time.Nanosecond)
}

// DaysBetween returns the number of calendar days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(StartOfDay(b).Sub(StartOfDay(a)).Hours() / 24)
}

// SameDay reports whether a and b fall on the same UTC calendar day.
func SameDay(a, b time.Time) bool {
	return StartOfDay(a).Equal(StartOfDay(b))
}

package domain

import (
	"fmt"
	"time"
)

// Clock provides the current time. The timeline ticker and every persisted
// timestamp read it, so tests can freeze or advance time.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the system clock.
type RealClock struct{}

// Now returns time.Now().
func (RealClock) Now() time.Time {
	return time.Now()
}

// TimestampLayout is the persisted form of document timestamps: ISO-8601 in UTC
// with millisecond precision, sortable as a string.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NowTimestamp returns the clock's current instant formatted for persistence.
func NowTimestamp(c Clock) string {
	return FormatTimestamp(c.Now())
}

// FormatTimestamp formats t for persistence.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a persisted timestamp. Any RFC 3339 value is accepted.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, ErrInvalidInput)
	}
	return t.UTC(), nil
}

// DisplayDate renders t as a long date in loc, e.g. "July 20, 2023".
func DisplayDate(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(DateLayout)
}

var _ Clock = RealClock{}

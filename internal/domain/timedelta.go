package domain

import "time"

// Direction tells whether a TimeBreakdown counts towards or away from its target.
type Direction string

const (
	CountingDown    Direction = "counting_down"
	CountingForward Direction = "counting_forward"
)

// TimeBreakdown is the calendar-aware difference between a reference instant
// and a target instant. It is a value: recomputed on every tick, never mutated.
type TimeBreakdown struct {
	Years     int       `json:"years"`
	Months    int       `json:"months"`
	Days      int       `json:"days"`
	Hours     int       `json:"hours"`
	Minutes   int       `json:"minutes"`
	Seconds   int       `json:"seconds"`
	Direction Direction `json:"direction"`
}

// IsForward reports whether the target has been reached.
func (b TimeBreakdown) IsForward() bool {
	return b.Direction == CountingForward
}

const day = 24 * time.Hour

// Compute returns the breakdown between reference and target, both read in loc.
//
// Before the target the result is a plain duration split into days, hours,
// minutes and seconds; years and months stay zero. From the target onwards,
// years, months and days come from subtracting loc's calendar fields, and
// hours, minutes and seconds are the reference's local clock-of-day.
func Compute(reference, target time.Time, loc *time.Location) TimeBreakdown {
	ref := reference.In(loc)
	tgt := target.In(loc)

	if ref.Before(tgt) {
		return countDown(tgt.Sub(ref))
	}
	return countForward(ref, tgt, loc)
}

func countDown(diff time.Duration) TimeBreakdown {
	return TimeBreakdown{
		Days:      int(diff / day),
		Hours:     int(diff % day / time.Hour),
		Minutes:   int(diff % time.Hour / time.Minute),
		Seconds:   int(diff % time.Minute / time.Second),
		Direction: CountingDown,
	}
}

func countForward(ref, tgt time.Time, loc *time.Location) TimeBreakdown {
	var years, months, days int

	if ref.Sub(tgt) >= day {
		years = ref.Year() - tgt.Year()
		months = int(ref.Month()) - int(tgt.Month())
		days = ref.Day() - tgt.Day()

		// Borrow from the month preceding ref's month. A single borrow is
		// enough unless that month is shorter than the deficit, in which case
		// keep walking back so days never goes negative.
		for borrowed := 0; days < 0; borrowed++ {
			months--
			days += daysInMonthBefore(ref.Year(), ref.Month()-time.Month(borrowed), loc)
		}
		for months < 0 {
			years--
			months += 12
		}
	}

	return TimeBreakdown{
		Years:     years,
		Months:    months,
		Days:      days,
		Hours:     ref.Hour(),
		Minutes:   ref.Minute(),
		Seconds:   ref.Second(),
		Direction: CountingForward,
	}
}

// daysInMonthBefore returns the length of the month preceding (year, month).
// Day 0 of a month normalizes to the last day of the previous one.
func daysInMonthBefore(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month, 0, 0, 0, 0, 0, loc).Day()
}

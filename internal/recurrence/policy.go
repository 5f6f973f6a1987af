// Package recurrence implements the recurrence and lifecycle core shared by
// recurring invoice profiles and tax-calendar templates: the policy value
// type, next-occurrence calculation, candidate validation, the profile and
// instance state machines, and range expansion into concrete instances.
//
// Everything in this package is pure: no I/O, no store access, no hidden
// state. Persistence and its concurrency guarantees live in the repository
// layer.
package recurrence

import "time"

// IntervalUnit is the unit a policy repeats in.
type IntervalUnit string

const (
	UnitDay   IntervalUnit = "DAY"
	UnitWeek  IntervalUnit = "WEEK"
	UnitMonth IntervalUnit = "MONTH"
	UnitYear  IntervalUnit = "YEAR"
)

// IntervalUnits lists the valid interval units.
var IntervalUnits = []IntervalUnit{UnitDay, UnitWeek, UnitMonth, UnitYear}

// Valid reports whether u is one of the enumerated units.
func (u IntervalUnit) Valid() bool {
	switch u {
	case UnitDay, UnitWeek, UnitMonth, UnitYear:
		return true
	}
	return false
}

// Frequency is the tax-calendar cadence vocabulary. Each frequency is
// equivalent to an interval unit with a count of one (quarterly = 3 months).
type Frequency string

const (
	FreqWeekly    Frequency = "WEEKLY"
	FreqMonthly   Frequency = "MONTHLY"
	FreqQuarterly Frequency = "QUARTERLY"
	FreqYearly    Frequency = "YEARLY"
)

// Valid reports whether f is one of the enumerated frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FreqWeekly, FreqMonthly, FreqQuarterly, FreqYearly:
		return true
	}
	return false
}

// step returns the interval unit and count one period of f advances by.
func (f Frequency) step() (IntervalUnit, int) {
	switch f {
	case FreqWeekly:
		return UnitWeek, 1
	case FreqMonthly:
		return UnitMonth, 1
	case FreqQuarterly:
		return UnitMonth, 3
	case FreqYearly:
		return UnitYear, 1
	}
	return UnitMonth, 1
}

// MinIntervalCount and MaxIntervalCount bound Policy.Count.
const (
	MinIntervalCount = 1
	MaxIntervalCount = 365
)

// MaxDueOffsetDays bounds the due-payment offset on profiles and templates.
const MaxDueOffsetDays = 365

// Policy is a recurrence rule: repeat every Count Units, computed relative
// to AnchorAt (the start date, or the last occurrence once one exists).
type Policy struct {
	Unit     IntervalUnit
	Count    int
	AnchorAt time.Time
}

// PolicyFromFrequency builds the single-period policy a tax-calendar
// frequency corresponds to, anchored at the start of the calendar period
// containing ref (weeks start on Monday, quarters on Jan/Apr/Jul/Oct).
// Anchoring to the calendar boundary rather than to ref itself keeps period
// edges stable across different expansion windows.
func PolicyFromFrequency(f Frequency, ref time.Time) Policy {
	unit, count := f.step()
	return Policy{Unit: unit, Count: count, AnchorAt: periodFloor(f, ref)}
}

// Next returns the occurrence that follows from, by adding Count Units.
// DAY and WEEK are fixed-duration adds. MONTH and YEAR use calendar
// arithmetic with end-of-month clamping: one month after Jan 31 is the last
// day of February, never a spillover into March. Stepping continues from the
// clamped result.
//
// Next assumes a validated policy; it does not re-check Count or Unit.
func (p Policy) Next(from time.Time) time.Time {
	switch p.Unit {
	case UnitDay:
		return from.AddDate(0, 0, p.Count)
	case UnitWeek:
		return from.AddDate(0, 0, 7*p.Count)
	case UnitMonth:
		return addMonthsClamped(from, p.Count)
	case UnitYear:
		return addMonthsClamped(from, 12*p.Count)
	}
	return from
}

// addMonthsClamped adds n calendar months to t, clamping the day of month to
// the last valid day of the target month. This is deliberately not
// time.AddDate, which normalizes Jan 31 + 1 month into early March and would
// silently skip a month boundary.
func addMonthsClamped(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	m := int(month) - 1 + n
	year += m / 12
	m %= 12
	if m < 0 {
		m += 12
		year--
	}
	month = time.Month(m + 1)

	if last := daysIn(year, month); day > last {
		day = last
	}
	hour, min, sec := t.Clock()
	return time.Date(year, month, day, hour, min, sec, t.Nanosecond(), t.Location())
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	// Day 0 of the next month normalizes to the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// periodFloor truncates t to the start of the calendar period of f that
// contains it, at midnight in t's location.
func periodFloor(f Frequency, t time.Time) time.Time {
	year, month, _ := t.Date()
	switch f {
	case FreqWeekly:
		d := t.Weekday()
		offset := (int(d) - int(time.Monday) + 7) % 7
		t = t.AddDate(0, 0, -offset)
		year, month, _ = t.Date()
		return time.Date(year, month, t.Day(), 0, 0, 0, 0, t.Location())
	case FreqMonthly:
		return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
	case FreqQuarterly:
		qm := time.Month((int(month)-1)/3*3 + 1)
		return time.Date(year, qm, 1, 0, 0, 0, 0, t.Location())
	case FreqYearly:
		return time.Date(year, time.January, 1, 0, 0, 0, 0, t.Location())
	}
	return time.Date(year, month, 1, 0, 0, 0, 0, t.Location())
}

package recurrence

import (
	"errors"
	"time"
)

// ErrInvalidRange is returned when an expansion window ends before it starts.
var ErrInvalidRange = errors.New("invalid range: end precedes start")

// ErrRangeTooLarge is returned when a window spans more periods than
// maxExpandPeriods; nothing is expanded, the caller must narrow the window.
var ErrRangeTooLarge = errors.New("range too large: spans more periods than one expansion allows")

// maxExpandPeriods caps a single expansion so a pathological window cannot
// produce an unbounded instance set.
const maxExpandPeriods = 5000

// PeriodKey identifies one recurrence period of one template. Exactly one
// instance may exist per key; times are normalized to UTC seconds so keys
// from the store and keys computed here compare equal.
type PeriodKey struct {
	TemplateID  string
	PeriodStart int64
	PeriodEnd   int64
}

// KeyOf returns the dedup key for an instance.
func KeyOf(templateID string, periodStart, periodEnd time.Time) PeriodKey {
	return PeriodKey{
		TemplateID:  templateID,
		PeriodStart: periodStart.UTC().Unix(),
		PeriodEnd:   periodEnd.UTC().Unix(),
	}
}

// ExpandSpec is everything range expansion needs from a template or profile:
// the cadence, the due-date rule, and whether the owner is producing
// occurrences at all.
type ExpandSpec struct {
	TemplateID    string
	Policy        Policy
	DueOffsetDays int
	DueHour       int
	DueMinute     int
	Active        bool
}

// Expand enumerates the recurrence periods of spec that overlap [from, to]
// and returns a new UPCOMING instance for each period not already present in
// existing. It is a pure function of its arguments: nothing is created,
// mutated, or deleted outside the returned slice, and re-expanding an
// overlapping window never duplicates an instance.
//
// An inactive spec yields an empty result, not an error: a paused template
// simply produces nothing. A window spanning more than maxExpandPeriods
// periods fails with ErrRangeTooLarge rather than returning a truncated
// result. The existing-key check is advisory against the snapshot the caller
// loaded; the store's uniqueness constraint is the authoritative guard
// against concurrent expansions.
func Expand(spec ExpandSpec, from, to time.Time, existing map[PeriodKey]bool) ([]Instance, error) {
	if to.Before(from) {
		return nil, ErrInvalidRange
	}
	if !spec.Active {
		return nil, nil
	}

	// Walk forward from the anchor to the earliest period overlapping from:
	// the period [cur, next) overlaps once next falls after the window start.
	cur := spec.Policy.AnchorAt
	for !spec.Policy.Next(cur).After(from) {
		cur = spec.Policy.Next(cur)
	}

	var out []Instance
	periods := 0
	for !cur.After(to) {
		if periods == maxExpandPeriods {
			return nil, ErrRangeTooLarge
		}
		periods++
		periodEnd := spec.Policy.Next(cur).AddDate(0, 0, -1)
		if !existing[KeyOf(spec.TemplateID, cur, periodEnd)] {
			out = append(out, Instance{
				TemplateID:  spec.TemplateID,
				PeriodStart: cur,
				PeriodEnd:   periodEnd,
				DueAt:       dueAt(periodEnd, spec.DueOffsetDays, spec.DueHour, spec.DueMinute),
				Status:      InstanceUpcoming,
			})
		}
		cur = spec.Policy.Next(cur)
	}
	return out, nil
}

// dueAt places the obligation deadline dueOffsetDays after the period close,
// at the template's local time of day.
func dueAt(periodEnd time.Time, offsetDays, hour, minute int) time.Time {
	d := periodEnd.AddDate(0, 0, offsetDays)
	year, month, day := d.Date()
	return time.Date(year, month, day, hour, minute, 0, 0, periodEnd.Location())
}

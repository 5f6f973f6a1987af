package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// FieldErrors maps field name to a human-readable reason. Every rule is
// checked independently so the caller can surface all problems at once
// instead of one per submission.
type FieldErrors map[string]string

// Valid reports whether no rule was violated.
func (fe FieldErrors) Valid() bool { return len(fe) == 0 }

func (fe FieldErrors) Error() string {
	fields := make([]string, 0, len(fe))
	for f := range fe {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+fe[f])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// EventKind classifies a tax-calendar template. Classification only; no
// behavioral difference in scheduling.
type EventKind string

const (
	KindPayment EventKind = "PAYMENT"
	KindReport  EventKind = "REPORT"
	KindTask    EventKind = "TASK"
)

// Valid reports whether k is one of the enumerated kinds.
func (k EventKind) Valid() bool {
	switch k {
	case KindPayment, KindReport, KindTask:
		return true
	}
	return false
}

// ProfileCandidate is an unvalidated recurring-profile edit. Enum fields are
// plain strings and required fields are pointers so that missing and
// malformed input can be reported per field rather than failing decode.
type ProfileCandidate struct {
	IntervalUnit  string
	IntervalCount *int
	AnchorAt      *time.Time
	NextRunAt     *time.Time
	DueOffsetDays *int
	Status        string
}

// ValidateProfile applies every profile rule and returns the collected
// violations. An empty result means the candidate is well formed. Pure:
// the caller decides whether to block the edit.
func ValidateProfile(c ProfileCandidate) FieldErrors {
	fe := FieldErrors{}

	if c.IntervalUnit == "" {
		fe["intervalUnit"] = "interval unit is required"
	} else if !IntervalUnit(c.IntervalUnit).Valid() {
		fe["intervalUnit"] = fmt.Sprintf("must be one of %v", IntervalUnits)
	}

	if c.IntervalCount == nil {
		fe["intervalCount"] = "interval count is required"
	} else if *c.IntervalCount < MinIntervalCount || *c.IntervalCount > MaxIntervalCount {
		fe["intervalCount"] = fmt.Sprintf("must be between %d and %d", MinIntervalCount, MaxIntervalCount)
	}

	if c.AnchorAt == nil || c.AnchorAt.IsZero() {
		fe["anchorAt"] = "start date is required"
	}

	if c.NextRunAt == nil || c.NextRunAt.IsZero() {
		fe["nextRunAt"] = "next run date is required"
	} else if c.AnchorAt != nil && !c.AnchorAt.IsZero() && dateBefore(*c.NextRunAt, *c.AnchorAt) {
		// Date-granularity comparison: the same calendar day is allowed.
		fe["nextRunAt"] = "next run date cannot precede the start date"
	}

	validateDueOffset(fe, c.DueOffsetDays)

	if c.Status == "" {
		fe["status"] = "status is required"
	} else if !ProfileStatus(c.Status).Valid() {
		fe["status"] = "must be one of [ACTIVE PAUSED CANCELLED]"
	}

	return fe
}

// TemplateCandidate is an unvalidated tax-calendar template edit.
type TemplateCandidate struct {
	Title         string
	Kind          string
	Frequency     string
	DueOffsetDays *int
	DueTimeLocal  string
}

// ValidateTemplate applies every template rule and returns the collected
// violations.
func ValidateTemplate(c TemplateCandidate) FieldErrors {
	fe := FieldErrors{}

	if strings.TrimSpace(c.Title) == "" {
		fe["title"] = "title is required"
	}

	if c.Kind == "" {
		fe["kind"] = "kind is required"
	} else if !EventKind(c.Kind).Valid() {
		fe["kind"] = "must be one of [PAYMENT REPORT TASK]"
	}

	if c.Frequency == "" {
		fe["frequency"] = "frequency is required"
	} else if !Frequency(c.Frequency).Valid() {
		fe["frequency"] = "must be one of [WEEKLY MONTHLY QUARTERLY YEARLY]"
	}

	validateDueOffset(fe, c.DueOffsetDays)

	if c.DueTimeLocal == "" {
		fe["dueTimeLocal"] = "due time is required"
	} else if _, _, err := ParseDueTime(c.DueTimeLocal); err != nil {
		fe["dueTimeLocal"] = "must be a valid HH:MM time"
	}

	return fe
}

func validateDueOffset(fe FieldErrors, n *int) {
	if n == nil {
		fe["dueOffsetDays"] = "due offset is required"
	} else if *n < 0 || *n > MaxDueOffsetDays {
		fe["dueOffsetDays"] = fmt.Sprintf("must be between 0 and %d", MaxDueOffsetDays)
	}
}

// ParseDueTime parses an HH:MM local time-of-day string.
func ParseDueTime(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid due time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// dateBefore reports whether a falls on an earlier calendar day than b,
// ignoring time of day.
func dateBefore(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

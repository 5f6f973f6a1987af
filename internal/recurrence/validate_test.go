package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int            { return &n }
func timePtr(t time.Time) *time.Time { return &t }

func validProfileCandidate() ProfileCandidate {
	return ProfileCandidate{
		IntervalUnit:  "MONTH",
		IntervalCount: intPtr(1),
		AnchorAt:      timePtr(date(2024, 1, 1)),
		NextRunAt:     timePtr(date(2024, 2, 1)),
		DueOffsetDays: intPtr(14),
		Status:        "ACTIVE",
	}
}

func TestValidateProfile_Valid(t *testing.T) {
	fe := ValidateProfile(validProfileCandidate())
	assert.True(t, fe.Valid(), "expected no field errors, got %v", fe)
}

func TestValidateProfile_FieldRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*ProfileCandidate)
		wantField string
	}{
		{
			name:      "missing interval unit",
			mutate:    func(c *ProfileCandidate) { c.IntervalUnit = "" },
			wantField: "intervalUnit",
		},
		{
			name:      "unknown interval unit",
			mutate:    func(c *ProfileCandidate) { c.IntervalUnit = "FORTNIGHT" },
			wantField: "intervalUnit",
		},
		{
			name:      "missing interval count",
			mutate:    func(c *ProfileCandidate) { c.IntervalCount = nil },
			wantField: "intervalCount",
		},
		{
			name:      "zero interval count",
			mutate:    func(c *ProfileCandidate) { c.IntervalCount = intPtr(0) },
			wantField: "intervalCount",
		},
		{
			name:      "negative interval count",
			mutate:    func(c *ProfileCandidate) { c.IntervalCount = intPtr(-3) },
			wantField: "intervalCount",
		},
		{
			name:      "interval count over bound",
			mutate:    func(c *ProfileCandidate) { c.IntervalCount = intPtr(366) },
			wantField: "intervalCount",
		},
		{
			name:      "missing anchor",
			mutate:    func(c *ProfileCandidate) { c.AnchorAt = nil },
			wantField: "anchorAt",
		},
		{
			name:      "missing next run",
			mutate:    func(c *ProfileCandidate) { c.NextRunAt = nil },
			wantField: "nextRunAt",
		},
		{
			name: "next run before anchor",
			mutate: func(c *ProfileCandidate) {
				c.AnchorAt = timePtr(date(2024, 5, 10))
				c.NextRunAt = timePtr(date(2024, 5, 9))
			},
			wantField: "nextRunAt",
		},
		{
			name:      "missing due offset",
			mutate:    func(c *ProfileCandidate) { c.DueOffsetDays = nil },
			wantField: "dueOffsetDays",
		},
		{
			name:      "negative due offset",
			mutate:    func(c *ProfileCandidate) { c.DueOffsetDays = intPtr(-1) },
			wantField: "dueOffsetDays",
		},
		{
			name:      "due offset over bound",
			mutate:    func(c *ProfileCandidate) { c.DueOffsetDays = intPtr(400) },
			wantField: "dueOffsetDays",
		},
		{
			name:      "missing status",
			mutate:    func(c *ProfileCandidate) { c.Status = "" },
			wantField: "status",
		},
		{
			name:      "unknown status",
			mutate:    func(c *ProfileCandidate) { c.Status = "SUSPENDED" },
			wantField: "status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validProfileCandidate()
			tt.mutate(&c)
			fe := ValidateProfile(c)
			require.False(t, fe.Valid())
			assert.Contains(t, fe, tt.wantField)
		})
	}
}

func TestValidateProfile_SameDayNextRunAllowed(t *testing.T) {
	// Comparison is date-granularity: next run later the same calendar day
	// as the anchor is fine, even if the instant is earlier.
	c := validProfileCandidate()
	c.AnchorAt = timePtr(time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC))
	c.NextRunAt = timePtr(time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC))
	assert.True(t, ValidateProfile(c).Valid())
}

func TestValidateProfile_CollectsAllViolations(t *testing.T) {
	fe := ValidateProfile(ProfileCandidate{})
	assert.Len(t, fe, 6, "every rule must be reported independently: %v", fe)
}

func validTemplateCandidate() TemplateCandidate {
	return TemplateCandidate{
		Title:         "VAT return",
		Kind:          "REPORT",
		Frequency:     "QUARTERLY",
		DueOffsetDays: intPtr(25),
		DueTimeLocal:  "18:00",
	}
}

func TestValidateTemplate_Valid(t *testing.T) {
	fe := ValidateTemplate(validTemplateCandidate())
	assert.True(t, fe.Valid(), "expected no field errors, got %v", fe)
}

func TestValidateTemplate_FieldRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*TemplateCandidate)
		wantField string
	}{
		{
			name:      "blank title",
			mutate:    func(c *TemplateCandidate) { c.Title = "   " },
			wantField: "title",
		},
		{
			name:      "unknown kind",
			mutate:    func(c *TemplateCandidate) { c.Kind = "AUDIT" },
			wantField: "kind",
		},
		{
			name:      "missing frequency",
			mutate:    func(c *TemplateCandidate) { c.Frequency = "" },
			wantField: "frequency",
		},
		{
			name:      "unknown frequency",
			mutate:    func(c *TemplateCandidate) { c.Frequency = "DAILY" },
			wantField: "frequency",
		},
		{
			name:      "malformed due time",
			mutate:    func(c *TemplateCandidate) { c.DueTimeLocal = "25:99" },
			wantField: "dueTimeLocal",
		},
		{
			name:      "due time without minutes",
			mutate:    func(c *TemplateCandidate) { c.DueTimeLocal = "18" },
			wantField: "dueTimeLocal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validTemplateCandidate()
			tt.mutate(&c)
			fe := ValidateTemplate(c)
			require.False(t, fe.Valid())
			assert.Contains(t, fe, tt.wantField)
		})
	}
}

func TestParseDueTime(t *testing.T) {
	hour, minute, err := ParseDueTime("18:05")
	require.NoError(t, err)
	assert.Equal(t, 18, hour)
	assert.Equal(t, 5, minute)

	_, _, err = ParseDueTime("not-a-time")
	assert.Error(t, err)
}

func TestFieldErrors_Error(t *testing.T) {
	fe := FieldErrors{"b": "second", "a": "first"}
	assert.Equal(t, "validation failed: a: first; b: second", fe.Error())
}

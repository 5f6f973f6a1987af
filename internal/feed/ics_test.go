package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgercraft/be-recurring-billing/internal/repository"
)

func testTemplate(id, frequency string, active bool) *repository.EventTemplate {
	return &repository.EventTemplate{
		ID:             id,
		OrganizationID: "org-1",
		Title:          "VAT return",
		Kind:           "REPORT",
		Frequency:      frequency,
		DueOffsetDays:  25,
		DueTimeLocal:   "18:00",
		IsActive:       active,
		CreatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testEvent(id string, tpl *repository.EventTemplate, status string) *Event {
	return &Event{
		Instance: &repository.EventInstance{
			ID:          id,
			TemplateID:  tpl.ID,
			PeriodStart: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			PeriodEnd:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
			DueAt:       time.Date(2024, 4, 25, 18, 0, 0, 0, time.UTC),
			Status:      "UPCOMING",
			CreatedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Template:        tpl,
		EffectiveStatus: status,
	}
}

func TestBuildCalendar(t *testing.T) {
	tpl := testTemplate("tpl-1", "QUARTERLY", true)
	events := []*Event{
		testEvent("inst-1", tpl, "UPCOMING"),
		testEvent("inst-2", tpl, "OVERDUE"),
	}

	out, err := BuildCalendar([]*repository.EventTemplate{tpl}, events)
	require.NoError(t, err)

	// One VEVENT per instance plus the template's rule card.
	assert.Equal(t, 3, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "UID:inst-1@recurring-billing.ledgercraft")
	assert.Contains(t, out, "UID:inst-2@recurring-billing.ledgercraft")
	assert.Contains(t, out, "UID:template-tpl-1@recurring-billing.ledgercraft")
	assert.Contains(t, out, "SUMMARY:VAT return")
	assert.Contains(t, out, "X-OBLIGATION-STATUS:UPCOMING")
	assert.Contains(t, out, "X-OBLIGATION-STATUS:OVERDUE")
	assert.Contains(t, out, "FREQ=MONTHLY")
	assert.Contains(t, out, "INTERVAL=3")
}

func TestBuildCalendar_SkippedIsCancelled(t *testing.T) {
	tpl := testTemplate("tpl-1", "MONTHLY", false)
	out, err := BuildCalendar([]*repository.EventTemplate{tpl}, []*Event{
		testEvent("inst-1", tpl, "SKIPPED"),
	})
	require.NoError(t, err)

	assert.Contains(t, out, "STATUS:CANCELLED")
	// Inactive templates get no rule card.
	assert.NotContains(t, out, "UID:template-tpl-1")
	assert.Equal(t, 1, strings.Count(out, "BEGIN:VEVENT"))
}

func TestBuildCalendar_RulePerFrequency(t *testing.T) {
	cases := map[string]string{
		"WEEKLY":    "FREQ=WEEKLY",
		"MONTHLY":   "FREQ=MONTHLY",
		"QUARTERLY": "FREQ=MONTHLY;INTERVAL=3",
		"YEARLY":    "FREQ=YEARLY",
	}
	for freq, want := range cases {
		rule, err := templateRule(testTemplate("tpl-1", freq, true))
		require.NoError(t, err, freq)
		assert.Contains(t, rule, want, freq)
	}

	_, err := templateRule(testTemplate("tpl-1", "DAILY", true))
	assert.Error(t, err)
}

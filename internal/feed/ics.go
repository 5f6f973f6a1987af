// Package feed renders the tax calendar as an iCalendar document so
// obligations can be subscribed to from any calendar client.
package feed

import (
	"fmt"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"github.com/ledgercraft/be-recurring-billing/internal/recurrence"
	"github.com/ledgercraft/be-recurring-billing/internal/repository"
)

const (
	productID = "-//ledgercraft//be-recurring-billing//EN"
	uidDomain = "recurring-billing.ledgercraft"

	// statusProperty carries the obligation's effective status on each
	// VEVENT, since the ICS STATUS vocabulary cannot express it.
	statusProperty = "X-OBLIGATION-STATUS"
)

// Event pairs a materialized instance with its owning template and the
// status derived at render time.
type Event struct {
	Instance        *repository.EventInstance
	Template        *repository.EventTemplate
	EffectiveStatus string
}

// BuildCalendar renders one VEVENT per materialized instance, plus one
// recurring "rule card" VEVENT per active template so clients display the
// cadence beyond the materialized window.
func BuildCalendar(templates []*repository.EventTemplate, events []*Event) (string, error) {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)

	for _, ev := range events {
		inst := ev.Instance
		e := cal.AddEvent(fmt.Sprintf("%s@%s", inst.ID, uidDomain))
		e.SetDtStampTime(inst.CreatedAt)
		e.SetStartAt(inst.DueAt)
		e.SetEndAt(inst.DueAt)
		e.SetSummary(summaryOf(ev))
		e.SetDescription(fmt.Sprintf("Period %s to %s",
			inst.PeriodStart.Format("2006-01-02"), inst.PeriodEnd.Format("2006-01-02")))
		e.AddProperty(ical.ComponentProperty(statusProperty), ev.EffectiveStatus)
		if ev.EffectiveStatus == string(recurrence.InstanceSkipped) {
			e.SetStatus(ical.ObjectStatusCancelled)
		} else {
			e.SetStatus(ical.ObjectStatusConfirmed)
		}
	}

	for _, tpl := range templates {
		if !tpl.IsActive {
			continue
		}
		rule, err := templateRule(tpl)
		if err != nil {
			return "", err
		}
		e := cal.AddEvent(fmt.Sprintf("template-%s@%s", tpl.ID, uidDomain))
		e.SetDtStampTime(tpl.UpdatedAt)
		e.SetStartAt(tpl.CreatedAt)
		e.SetSummary(tpl.Title + " (recurring)")
		if tpl.Description != "" {
			e.SetDescription(tpl.Description)
		}
		e.AddProperty(ical.ComponentProperty(ical.PropertyRrule), rule)
	}

	return cal.Serialize(), nil
}

// templateRule expresses a template's cadence as an RFC 5545 RRULE value.
func templateRule(tpl *repository.EventTemplate) (string, error) {
	var opt rrule.ROption
	switch recurrence.Frequency(tpl.Frequency) {
	case recurrence.FreqWeekly:
		opt = rrule.ROption{Freq: rrule.WEEKLY}
	case recurrence.FreqMonthly:
		opt = rrule.ROption{Freq: rrule.MONTHLY}
	case recurrence.FreqQuarterly:
		opt = rrule.ROption{Freq: rrule.MONTHLY, Interval: 3}
	case recurrence.FreqYearly:
		opt = rrule.ROption{Freq: rrule.YEARLY}
	default:
		return "", fmt.Errorf("template %s has unknown frequency %q", tpl.ID, tpl.Frequency)
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return "", fmt.Errorf("build rrule for template %s: %w", tpl.ID, err)
	}
	return rule.String(), nil
}

func summaryOf(ev *Event) string {
	if ev.Template != nil {
		return ev.Template.Title
	}
	return "Obligation due"
}

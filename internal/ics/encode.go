package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"

	"loopr/internal/model"
)

const productID = "-//loopr//reminders//EN"

// EncodeOptions controls Encode.
type EncodeOptions struct {
	// Stamp is written as DTSTAMP on every event. Zero means time.Now.
	Stamp time.Time
}

// Encode renders events as an iCalendar document: one VEVENT per event with
// its RRULE and EXDATEs, and one display VALARM per reminder offset.
//
// Events in UTC or time.Local are written with UTC date-times; any other
// zone is referenced by TZID.
func Encode(events []model.Event, opts EncodeOptions) ([]byte, error) {
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	cal := ical.NewCalendarFor("loopr")
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)

	for _, ev := range events {
		if err := ev.Check(); err != nil {
			return nil, err
		}
		rule, err := ev.Rule()
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", ev.ID, err)
		}
		anchor, _ := ev.Anchor()

		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(stamp)
		if ev.Title != "" {
			ve.SetSummary(ev.Title)
		}
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.Location != "" {
			ve.SetLocation(ev.Location)
		}

		start, err := ev.EffectiveTime(anchor)
		if err != nil {
			return nil, err
		}
		value, params := formatICSTime(start, !ev.Timed())
		ve.SetProperty(ical.ComponentPropertyDtStart, value, params...)

		if rule.Repeats() {
			rr, err := rule.RRule(anchor)
			if err != nil {
				return nil, fmt.Errorf("event %q: %w", ev.ID, err)
			}
			ve.AddProperty(ical.ComponentPropertyRrule, rr)
			for _, ex := range rule.Exceptions() {
				day := time.Date(ex.Year(), ex.Month(), ex.Day(), 0, 0, 0, 0, anchor.Location())
				exStart, err := ev.EffectiveTime(day)
				if err != nil {
					return nil, err
				}
				value, params := formatICSTime(exStart, !ev.Timed())
				ve.AddProperty(ical.ComponentPropertyExdate, value, params...)
			}
		}

		for _, lead := range dedupe(ev.Reminders) {
			a := ve.AddAlarm()
			a.SetProperty(ical.ComponentPropertyAction, "DISPLAY")
			a.SetProperty(ical.ComponentPropertyTrigger, FormatTrigger(lead))
			a.SetProperty(ical.ComponentPropertyDescription, ev.Title)
		}
	}

	return []byte(cal.Serialize()), nil
}

func formatICSTime(t time.Time, dateOnly bool) (string, []ical.PropertyParameter) {
	if dateOnly {
		return t.Format("20060102"), []ical.PropertyParameter{ical.WithValue(string(ical.ValueDataTypeDate))}
	}
	loc := t.Location()
	if loc == time.UTC || loc == time.Local || loc.String() == "" {
		return t.UTC().Format("20060102T150405Z"), nil
	}
	tzid := &ical.KeyValues{Key: string(ical.ParameterTzid), Value: []string{loc.String()}}
	return t.Format("20060102T150405"), []ical.PropertyParameter{tzid}
}

func dedupe(mins []int) []int {
	seen := make(map[int]bool, len(mins))
	out := make([]int, 0, len(mins))
	for _, m := range mins {
		if m < 0 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

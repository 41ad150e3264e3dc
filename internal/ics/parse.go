package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "loopr/internal/log"
	"loopr/internal/model"
	"loopr/internal/recurrence"
)

// Parse reads VEVENTs from an iCalendar payload. Floating times and dates
// without TZID are read in loc (time.Local if nil).
//
//   - All-day events are detected from DTSTART's VALUE=DATE or its form.
//   - RRULE is mapped onto the supported rule subset; events with rules
//     outside it are logged and skipped, as are events without UID or
//     DTSTART.
//   - EXDATE values become exceptions and relative VALARM TRIGGERs become
//     reminder offsets. An event without VALARMs has nil Reminders.
func Parse(body []byte, loc *time.Location) ([]model.Event, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty ICS body")
	}
	if loc == nil {
		loc = time.Local
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, err
	}

	events := make([]model.Event, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp, loc)
		if perr != nil {
			// Log and skip this event, but keep parsing others.
			appLog.Error("ics vevent parse failed", perr, "uid", ev.ID)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(events))
	return events, nil
}

func parseVEvent(ve *ical.VEvent, loc *time.Location) (model.Event, error) {
	var out model.Event

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || strings.TrimSpace(uidProp.Value) == "" {
		return out, errors.New("missing UID")
	}
	out.ID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Title = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parseICSTime(dtStart.Value, dtStart.ICalParameters, loc)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	zone := start.Location()
	y, m, d := start.Date()
	out.Date = time.Date(y, m, d, 0, 0, 0, 0, zone)
	out.AllDay = allDay
	if !allDay {
		out.Time = start.Format("15:04")
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		rule, err := recurrence.FromRRule(rruleProp.Value)
		if err != nil {
			return out, err
		}
		spec := rule.Spec()
		if spec.EndDate != nil {
			u := untilDate(*spec.EndDate, zone)
			spec.EndDate = &u
		}
		out.Recurrence = spec
	}

	// EXDATE can appear multiple times, each with a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parseICSTime(part, p.ICalParameters, zone)
			if err != nil {
				appLog.Warn("ics exdate skipped", "uid", out.ID, "value", part, "err", err)
				continue
			}
			t = t.In(zone)
			ey, em, ed := t.Date()
			out.Recurrence.Exceptions = append(out.Recurrence.Exceptions, time.Date(ey, em, ed, 0, 0, 0, 0, zone))
		}
	}

	if alarms := ve.Alarms(); len(alarms) > 0 {
		out.Reminders = make([]int, 0, len(alarms))
		for _, a := range alarms {
			trig := a.GetProperty(ical.ComponentPropertyTrigger)
			if trig == nil {
				continue
			}
			if paramIs(trig.ICalParameters, "VALUE", "DATE-TIME") {
				appLog.Warn("ics absolute alarm skipped", "uid", out.ID, "trigger", trig.Value)
				continue
			}
			lead, err := LeadMinutes(trig.Value)
			if err != nil {
				appLog.Warn("ics alarm skipped", "uid", out.ID, "trigger", trig.Value, "err", err)
				continue
			}
			out.Reminders = append(out.Reminders, lead)
		}
	}

	return out, nil
}

// parseICSTime parses a DATE or DATE-TIME value using its TZID/VALUE
// parameters. Values without zone information are read in loc.
func parseICSTime(v string, params map[string][]string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if tzs, ok := params["TZID"]; ok && len(tzs) > 0 {
		tz, err := time.LoadLocation(strings.Trim(tzs[0], `"`))
		if err != nil {
			appLog.Warn("ics unknown TZID, using default zone", "tzid", tzs[0], "zone", loc.String())
		} else {
			loc = tz
		}
	}

	// Date-only (all-day), e.g., 20250101
	if paramIs(params, "VALUE", "DATE") || !strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	}

	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

func paramIs(params map[string][]string, key, want string) bool {
	vs, ok := params[key]
	return ok && len(vs) > 0 && strings.EqualFold(vs[0], want)
}

// untilDate maps an RRULE UNTIL onto a calendar date in zone. A bare DATE
// comes back from the rrule parser as UTC midnight and keeps its date;
// date-times are converted first.
func untilDate(u time.Time, zone *time.Location) time.Time {
	if u.Location() == time.UTC && u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 {
		y, m, d := u.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, zone)
	}
	y, m, d := u.In(zone).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, zone)
}

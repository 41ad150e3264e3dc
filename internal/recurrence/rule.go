// Package recurrence expands recurring calendar rules into concrete
// occurrence dates.
//
// All arithmetic is done on calendar dates in the anchor's location: adding a
// day means moving to the next date, never adding 24h. Every series is phase
// aligned to its anchor, so the same rule yields the same dates no matter
// which window is asked for.
package recurrence

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency is the repetition unit of a rule.
type Frequency int

const (
	FreqNone Frequency = iota
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

var frequencyNames = [...]string{"none", "daily", "weekly", "monthly", "yearly"}

func (f Frequency) String() string {
	if f < FreqNone || f > FreqYearly {
		return fmt.Sprintf("Frequency(%d)", int(f))
	}
	return frequencyNames[f]
}

// ParseFrequency accepts the lowercase names produced by String. An empty
// string is FreqNone.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FreqNone, nil
	}
	for i, name := range frequencyNames {
		if name == s {
			return Frequency(i), nil
		}
	}
	return FreqNone, fmt.Errorf("recurrence: unknown frequency %q", s)
}

func (f Frequency) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// LastWeek selects the last matching weekday of a month in MonthlyOnWeekday.
const LastWeek = -1

// date is a calendar date without location, used for exception lookup.
type date struct {
	y int
	m time.Month
	d int
}

func dateKey(t time.Time) date {
	y, m, d := t.Date()
	return date{y, m, d}
}

// Rule is an immutable recurrence rule. Build one with Daily, Weekly,
// MonthlyOnDay, MonthlyOnWeekday, Yearly or Spec.Compile; the zero Rule does
// not repeat. Methods named With* return modified copies.
type Rule struct {
	freq      Frequency
	interval  int
	weekdays  []time.Weekday
	weekStart time.Weekday

	// Monthly: monthDay > 0 selects an absolute day, otherwise monthWeek and
	// monthWeekday select the nth weekday.
	monthDay     int
	monthWeek    int
	monthWeekday time.Weekday

	until      time.Time
	count      int
	exceptions map[date]struct{}
}

// Daily repeats every interval days.
func Daily(interval int) Rule {
	return Rule{freq: FreqDaily, interval: interval, weekStart: time.Monday}
}

// Weekly repeats in blocks of interval weeks on the given weekdays. With no
// weekdays the anchor's own weekday is used.
func Weekly(interval int, days ...time.Weekday) Rule {
	return Rule{freq: FreqWeekly, interval: interval, weekdays: normalizeWeekdays(days), weekStart: time.Monday}
}

// MonthlyOnDay repeats every interval months on day (1-31), clamped to the
// length of shorter months.
func MonthlyOnDay(interval, day int) Rule {
	return Rule{freq: FreqMonthly, interval: interval, monthDay: day, weekStart: time.Monday}
}

// MonthlyOnWeekday repeats every interval months on the week-th weekday
// (1-4, or LastWeek).
func MonthlyOnWeekday(interval, week int, wd time.Weekday) Rule {
	return Rule{freq: FreqMonthly, interval: interval, monthWeek: week, monthWeekday: wd, weekStart: time.Monday}
}

// Yearly repeats every interval years on the anchor's month and day.
func Yearly(interval int) Rule {
	return Rule{freq: FreqYearly, interval: interval, weekStart: time.Monday}
}

// WithEndDate ends the series after the given date (inclusive). It replaces
// any occurrence count.
func (r Rule) WithEndDate(t time.Time) Rule {
	r.until = t
	if !t.IsZero() {
		r.count = 0
	}
	return r
}

// WithCount ends the series after n occurrences counted from the anchor. It
// replaces any end date.
func (r Rule) WithCount(n int) Rule {
	r.count = n
	if n > 0 {
		r.until = time.Time{}
	}
	return r
}

// WithExceptions suppresses the given dates. Only the calendar date of each
// value matters.
func (r Rule) WithExceptions(dates ...time.Time) Rule {
	ex := make(map[date]struct{}, len(r.exceptions)+len(dates))
	for k := range r.exceptions {
		ex[k] = struct{}{}
	}
	for _, d := range dates {
		if !d.IsZero() {
			ex[dateKey(d)] = struct{}{}
		}
	}
	r.exceptions = ex
	return r
}

// WithWeekStart sets the first day of the week used to align weekly blocks.
func (r Rule) WithWeekStart(wd time.Weekday) Rule {
	r.weekStart = wd
	return r
}

func (r Rule) Frequency() Frequency { return r.freq }

// Interval reports the step size. The zero Rule reports 1.
func (r Rule) Interval() int {
	if r.freq == FreqNone && r.interval == 0 {
		return 1
	}
	return r.interval
}

func (r Rule) Weekdays() []time.Weekday { return append([]time.Weekday(nil), r.weekdays...) }
func (r Rule) WeekStart() time.Weekday  { return r.weekStart }
func (r Rule) MonthDay() int            { return r.monthDay }

// MonthWeekday reports the nth-weekday selection; ok is false for other rules.
func (r Rule) MonthWeekday() (week int, wd time.Weekday, ok bool) {
	if r.freq != FreqMonthly || r.monthDay != 0 {
		return 0, 0, false
	}
	return r.monthWeek, r.monthWeekday, true
}

func (r Rule) EndDate() time.Time { return r.until }
func (r Rule) Count() int         { return r.count }

// Exceptions returns the suppressed dates in ascending order, at midnight UTC.
func (r Rule) Exceptions() []time.Time {
	out := make([]time.Time, 0, len(r.exceptions))
	for k := range r.exceptions {
		out = append(out, time.Date(k.y, k.m, k.d, 0, 0, 0, 0, time.UTC))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// Repeats reports whether the rule produces more than the anchor.
func (r Rule) Repeats() bool { return r.freq != FreqNone }

func (r Rule) isException(t time.Time) bool {
	if len(r.exceptions) == 0 {
		return false
	}
	_, ok := r.exceptions[dateKey(t)]
	return ok
}

// Check reports ErrInvalidRule problems that constructors cannot rule out
// by type alone, such as an interval below one.
func (r Rule) Check() error {
	if r.freq == FreqNone {
		return nil
	}
	var probs []FieldError
	if r.interval < 1 || r.interval > MaxInterval {
		probs = append(probs, FieldError{Field: "interval", Message: fmt.Sprintf("interval must be between 1 and %d", MaxInterval)})
	}
	if r.freq < FreqNone || r.freq > FreqYearly {
		probs = append(probs, FieldError{Field: "frequency", Message: "unknown frequency"})
	}
	if !r.until.IsZero() && r.count > 0 {
		probs = append(probs, FieldError{Field: "endAfter", Message: "set either an end date or an occurrence count, not both"})
	}
	if r.count < 0 || r.count > MaxCount {
		probs = append(probs, FieldError{Field: "endAfter", Message: fmt.Sprintf("occurrence count must be between 1 and %d", MaxCount)})
	}
	if !validWeekday(r.weekStart) {
		probs = append(probs, FieldError{Field: "weekStart", Message: "week start must be a weekday 0-6"})
	}
	for _, wd := range r.weekdays {
		if !validWeekday(wd) {
			probs = append(probs, FieldError{Field: "weekdays", Message: "weekdays must be values 0-6"})
			break
		}
	}
	if r.freq == FreqMonthly {
		if r.monthDay != 0 {
			if r.monthDay < 1 || r.monthDay > 31 {
				probs = append(probs, FieldError{Field: "monthDay", Message: "day of month must be between 1 and 31"})
			}
		} else {
			probs = append(probs, checkMonthWeek(r.monthWeek, r.monthWeekday)...)
		}
	}
	if len(probs) > 0 {
		return &RuleError{Problems: probs}
	}
	return nil
}

func checkMonthWeek(week int, wd time.Weekday) []FieldError {
	var probs []FieldError
	switch week {
	case 1, 2, 3, 4, LastWeek:
	default:
		probs = append(probs, FieldError{Field: "monthWeek", Message: "week of month must be 1-4 or -1 (last)"})
	}
	if !validWeekday(wd) {
		probs = append(probs, FieldError{Field: "monthWeekday", Message: "weekday must be a value 0-6"})
	}
	return probs
}

func validWeekday(wd time.Weekday) bool { return wd >= time.Sunday && wd <= time.Saturday }

func normalizeWeekdays(days []time.Weekday) []time.Weekday {
	if len(days) == 0 {
		return nil
	}
	seen := make(map[time.Weekday]bool, len(days))
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var toRRuleDay = [...]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

// rrule-go numbers weekdays from Monday.
func fromRRuleDay(w rrule.Weekday) time.Weekday {
	return time.Weekday((w.Day() + 1) % 7)
}

// ROption maps r onto an rrule-go option set anchored at dtstart. Monthly
// absolute days above 28 are exported verbatim: RFC 5545 skips short months
// where this package clamps, so such exports are lossy.
func (r Rule) ROption(dtstart time.Time) (rrule.ROption, error) {
	if err := r.Check(); err != nil {
		return rrule.ROption{}, err
	}
	opt := rrule.ROption{
		Dtstart:  dtstart,
		Interval: r.interval,
		Wkst:     toRRuleDay[r.weekStart],
		Count:    r.count,
	}
	switch r.freq {
	case FreqNone:
		return rrule.ROption{}, fmt.Errorf("%w: rule does not repeat", ErrUnsupportedRRule)
	case FreqDaily:
		opt.Freq = rrule.DAILY
	case FreqWeekly:
		opt.Freq = rrule.WEEKLY
		for _, wd := range r.weekdays {
			opt.Byweekday = append(opt.Byweekday, toRRuleDay[wd])
		}
	case FreqMonthly:
		opt.Freq = rrule.MONTHLY
		if r.monthDay != 0 {
			opt.Bymonthday = []int{r.monthDay}
		} else {
			wd := toRRuleDay[r.monthWeekday]
			opt.Byweekday = []rrule.Weekday{wd.Nth(r.monthWeek)}
		}
	case FreqYearly:
		opt.Freq = rrule.YEARLY
	}
	if !r.until.IsZero() {
		y, m, d := r.until.Date()
		loc := dtstart.Location()
		opt.Until = time.Date(y, m, d, 23, 59, 59, 0, loc)
	}
	return opt, nil
}

// RRule renders r as an RFC 5545 RRULE value (without the "RRULE:" prefix).
// The anchor only matters for UNTIL's location.
func (r Rule) RRule(anchor time.Time) (string, error) {
	opt, err := r.ROption(anchor)
	if err != nil {
		return "", err
	}
	opt.Dtstart = time.Time{}
	return opt.RRuleString(), nil
}

// FromRRule parses an RRULE value into a Rule. Only FREQ, INTERVAL, BYDAY,
// BYMONTHDAY, COUNT, UNTIL and WKST are understood.
func FromRRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "RRULE:")
	opt, err := rrule.StrToROption(s)
	if err != nil {
		return Rule{}, fmt.Errorf("%w: %v", ErrUnsupportedRRule, err)
	}
	if len(opt.Bysetpos) > 0 || len(opt.Byyearday) > 0 || len(opt.Byweekno) > 0 ||
		len(opt.Bymonth) > 0 || len(opt.Byhour) > 0 || len(opt.Byminute) > 0 ||
		len(opt.Bysecond) > 0 || len(opt.Byeaster) > 0 {
		return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
	}
	iv := opt.Interval
	if iv == 0 {
		iv = 1
	}

	var r Rule
	switch opt.Freq {
	case rrule.DAILY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 {
			return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
		}
		r = Daily(iv)
	case rrule.WEEKLY:
		if len(opt.Bymonthday) > 0 {
			return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
		}
		days := make([]time.Weekday, 0, len(opt.Byweekday))
		for _, w := range opt.Byweekday {
			if w.N() != 0 {
				return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
			}
			days = append(days, fromRRuleDay(w))
		}
		r = Weekly(iv, days...)
	case rrule.MONTHLY:
		switch {
		case len(opt.Bymonthday) == 1 && len(opt.Byweekday) == 0 && opt.Bymonthday[0] > 0:
			r = MonthlyOnDay(iv, opt.Bymonthday[0])
		case len(opt.Byweekday) == 1 && len(opt.Bymonthday) == 0:
			w := opt.Byweekday[0]
			r = MonthlyOnWeekday(iv, w.N(), fromRRuleDay(w))
		default:
			return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
		}
	case rrule.YEARLY:
		if len(opt.Byweekday) > 0 || len(opt.Bymonthday) > 0 {
			return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
		}
		r = Yearly(iv)
	default:
		return Rule{}, fmt.Errorf("%w: %s", ErrUnsupportedRRule, s)
	}

	r = r.WithWeekStart(fromRRuleDay(opt.Wkst))
	if opt.Count > 0 {
		r = r.WithCount(opt.Count)
	}
	if !opt.Until.IsZero() {
		r = r.WithEndDate(opt.Until)
	}
	if err := r.Check(); err != nil {
		return Rule{}, err
	}
	return r, nil
}

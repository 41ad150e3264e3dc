package recurrence

import (
	"sort"
	"time"
)

// cursor is a position in the raw series, before exceptions are removed.
// raw is the 0-based index of date counted from the anchor.
type cursor struct {
	date   time.Time
	raw    int
	period int
	slot   int
}

// series generates the raw dates of a rule in closed form.
type series interface {
	// seek returns the first raw date not before x. x must not be before the
	// anchor.
	seek(x time.Time) cursor
	next(c cursor) cursor
}

func newSeries(anchor time.Time, r Rule) series {
	iv := r.interval
	switch r.freq {
	case FreqDaily:
		return dailySeries{anchor: anchor, step: iv}
	case FreqWeekly:
		return newWeeklySeries(anchor, r)
	case FreqMonthly:
		if r.monthDay != 0 {
			day := r.monthDay
			return newMonthlySeries(anchor, iv, func(y int, m time.Month) time.Time {
				return clampedDay(y, m, day, anchor.Location())
			})
		}
		week, wd := r.monthWeek, r.monthWeekday
		return newMonthlySeries(anchor, iv, func(y int, m time.Month) time.Time {
			return nthWeekday(y, m, week, wd, anchor.Location())
		})
	case FreqYearly:
		day := anchor.Day()
		return newMonthlySeries(anchor, 12*iv, func(y int, m time.Month) time.Time {
			return clampedDay(y, m, day, anchor.Location())
		})
	}
	return nil
}

type dailySeries struct {
	anchor time.Time
	step   int
}

func (s dailySeries) at(p int) cursor {
	return cursor{date: addDays(s.anchor, p*s.step), raw: p, period: p}
}

func (s dailySeries) seek(x time.Time) cursor {
	return s.at(ceilDiv(daysBetween(s.anchor, x), s.step))
}

func (s dailySeries) next(c cursor) cursor { return s.at(c.period + 1) }

// weeklySeries lays the series out in blocks of interval weeks starting at
// the week containing the anchor. Only the first week of each block is
// eligible; inside it every selected weekday occurs in order.
type weeklySeries struct {
	weekZero time.Time // first day of the anchor's week
	interval int
	offsets  []int // selected weekdays as days from the week start, ascending
	lead     int   // selected days of the anchor's week that fall before it
}

func newWeeklySeries(anchor time.Time, r Rule) weeklySeries {
	ws := r.weekStart
	offset := func(wd time.Weekday) int { return (int(wd) - int(ws) + 7) % 7 }

	days := r.weekdays
	if len(days) == 0 {
		days = []time.Weekday{anchor.Weekday()}
	}
	offs := make([]int, 0, len(days))
	for _, d := range days {
		offs = append(offs, offset(d))
	}
	sort.Ints(offs)

	anchorOff := offset(anchor.Weekday())
	lead := 0
	for _, o := range offs {
		if o < anchorOff {
			lead++
		}
	}
	return weeklySeries{
		weekZero: addDays(anchor, -anchorOff),
		interval: r.interval,
		offsets:  offs,
		lead:     lead,
	}
}

func (s weeklySeries) at(block, slot int) cursor {
	return cursor{
		date:   addDays(s.weekZero, 7*block*s.interval+s.offsets[slot]),
		raw:    block*len(s.offsets) + slot - s.lead,
		period: block,
		slot:   slot,
	}
}

func (s weeklySeries) seek(x time.Time) cursor {
	d := daysBetween(s.weekZero, x)
	week := d / 7
	block := ceilDiv(week, s.interval)
	if block*s.interval != week {
		return s.at(block, 0)
	}
	rem := d - 7*week
	for i, o := range s.offsets {
		if o >= rem {
			return s.at(block, i)
		}
	}
	return s.at(block+1, 0)
}

func (s weeklySeries) next(c cursor) cursor {
	if c.slot+1 < len(s.offsets) {
		return s.at(c.period, c.slot+1)
	}
	return s.at(c.period+1, 0)
}

// monthlySeries covers absolute-day and nth-weekday monthly rules and, with
// a step of 12*interval months, yearly rules. pick resolves the date inside a
// target month.
type monthlySeries struct {
	anchor    time.Time
	step      int
	pick      func(y int, m time.Month) time.Time
	skipFirst bool // the anchor month's date falls before the anchor
}

func newMonthlySeries(anchor time.Time, step int, pick func(y int, m time.Month) time.Time) monthlySeries {
	s := monthlySeries{anchor: anchor, step: step, pick: pick}
	s.skipFirst = s.dateAt(0).Before(anchor)
	return s
}

func (s monthlySeries) dateAt(p int) time.Time {
	y, m := monthStart(s.anchor, p*s.step)
	return s.pick(y, m)
}

func (s monthlySeries) at(p int) cursor {
	raw := p
	if s.skipFirst {
		raw--
	}
	return cursor{date: s.dateAt(p), raw: raw, period: p}
}

func (s monthlySeries) seek(x time.Time) cursor {
	p := ceilDiv(monthsBetween(s.anchor, x), s.step)
	if s.dateAt(p).Before(x) {
		p++
	}
	return s.at(p)
}

func (s monthlySeries) next(c cursor) cursor { return s.at(c.period + 1) }

package recurrence

import (
	"errors"
	"time"
)

// DefaultMaxOccurrences is the ExpandLimit cap used when the caller passes
// no positive limit.
const DefaultMaxOccurrences = 5000

var errWindow = errors.New("recurrence: window end is before start")

// Occurrence is one concrete date of a series. Index is its 0-based position
// in the whole series counted from the anchor, with exceptions removed.
type Occurrence struct {
	Date  time.Time
	Index int
}

// Expand returns the occurrence dates of rule anchored at anchor that fall in
// the half-open window [start, end). Dates are midnights in the anchor's
// location, ascending and free of duplicates.
func Expand(anchor time.Time, rule Rule, start, end time.Time) ([]time.Time, error) {
	occ, err := ExpandOccurrences(anchor, rule, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, len(occ))
	for i, o := range occ {
		out[i] = o.Date
	}
	return out, nil
}

// ExpandOccurrences is Expand with series indexes. Every occurrence in the
// window is returned; callers that need a bound use ExpandLimit.
func ExpandOccurrences(anchor time.Time, rule Rule, start, end time.Time) ([]Occurrence, error) {
	occ, _, err := expand(anchor, rule, start, end, 0)
	return occ, err
}

// ExpandLimit expands at most limit occurrences and reports whether more
// remained inside the window. A limit <= 0 means DefaultMaxOccurrences.
func ExpandLimit(anchor time.Time, rule Rule, start, end time.Time, limit int) ([]Occurrence, bool, error) {
	if limit <= 0 {
		limit = DefaultMaxOccurrences
	}
	return expand(anchor, rule, start, end, limit)
}

// expand walks the window, stopping after limit occurrences when limit > 0.
func expand(anchor time.Time, rule Rule, start, end time.Time, limit int) ([]Occurrence, bool, error) {
	if err := rule.Check(); err != nil {
		return nil, false, err
	}
	if anchor.IsZero() {
		return nil, false, ErrZeroAnchor
	}
	if end.Before(start) {
		return nil, false, errWindow
	}

	var (
		out       []Occurrence
		truncated bool
	)
	walk(midnight(anchor), rule, start, func(o Occurrence) bool {
		if !o.Date.Before(end) {
			return false
		}
		if limit > 0 && len(out) >= limit {
			truncated = true
			return false
		}
		out = append(out, o)
		return true
	})
	return out, truncated, nil
}

// Next returns the first occurrence on or after t. ok is false when the
// series has ended.
func Next(anchor time.Time, rule Rule, t time.Time) (Occurrence, bool, error) {
	if err := rule.Check(); err != nil {
		return Occurrence{}, false, err
	}
	if anchor.IsZero() {
		return Occurrence{}, false, ErrZeroAnchor
	}
	var (
		found Occurrence
		ok    bool
	)
	walk(midnight(anchor), rule, t, func(o Occurrence) bool {
		found, ok = o, true
		return false
	})
	return found, ok, nil
}

// walk yields the series occurrences not before from, in order, until yield
// returns false or the rule's end condition is met. anchor must be a
// midnight.
func walk(anchor time.Time, r Rule, from time.Time, yield func(Occurrence) bool) {
	loc := anchor.Location()
	lo := anchor
	if f := ceilDay(from, loc); f.After(lo) {
		lo = f
	}

	if r.freq == FreqNone {
		if !anchor.Before(lo) {
			yield(Occurrence{Date: anchor, Index: 0})
		}
		return
	}

	var until time.Time
	if !r.until.IsZero() {
		y, m, d := r.until.Date()
		until = time.Date(y, m, d, 0, 0, 0, 0, loc)
	}

	s := newSeries(anchor, r)
	c := s.seek(lo)
	emitted := c.raw - r.exceptionsBefore(s, anchor, c.date)

	for {
		if !until.IsZero() && c.date.After(until) {
			return
		}
		if r.isException(c.date) {
			c = s.next(c)
			continue
		}
		if r.count > 0 && emitted >= r.count {
			return
		}
		if !yield(Occurrence{Date: c.date, Index: emitted}) {
			return
		}
		emitted++
		c = s.next(c)
	}
}

// exceptionsBefore counts exception dates that are real series dates in
// [anchor, limit). Those are skipped raw positions, so subtracting them from
// a raw index gives the number of occurrences actually produced.
func (r Rule) exceptionsBefore(s series, anchor, limit time.Time) int {
	n := 0
	loc := anchor.Location()
	for k := range r.exceptions {
		d := time.Date(k.y, k.m, k.d, 0, 0, 0, 0, loc)
		if d.Before(anchor) || !d.Before(limit) {
			continue
		}
		if s.seek(d).date.Equal(d) {
			n++
		}
	}
	return n
}

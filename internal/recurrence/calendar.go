package recurrence

import "time"

// midnight returns t's calendar date at 00:00 in t's location.
func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ceilDay returns the first midnight in loc that is not before t.
func ceilDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	d := midnight(t)
	if d.Before(t) {
		d = addDays(d, 1)
	}
	return d
}

func addDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring time of day and
// daylight-saving transitions.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func monthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ceilDiv is ceil(a/b) for a >= 0, b > 0.
func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// monthStart returns the first day of the month that is n months after t's.
func monthStart(t time.Time, n int) (int, time.Month) {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	return first.Year(), first.Month()
}

// clampedDay returns day in the given month, or the month's last day when
// the month is shorter.
func clampedDay(year int, month time.Month, day int, loc *time.Location) time.Time {
	if n := daysIn(year, month); day > n {
		day = n
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// nthWeekday returns the week-th wd of the month (1-4), or the last one for
// LastWeek.
func nthWeekday(year int, month time.Month, week int, wd time.Weekday, loc *time.Location) time.Time {
	if week == LastWeek {
		last := daysIn(year, month)
		lastWd := time.Date(year, month, last, 0, 0, 0, 0, time.UTC).Weekday()
		back := (int(lastWd) - int(wd) + 7) % 7
		return time.Date(year, month, last-back, 0, 0, 0, 0, loc)
	}
	firstWd := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Weekday()
	day := 1 + (int(wd)-int(firstWd)+7)%7 + 7*(week-1)
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

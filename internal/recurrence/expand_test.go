package recurrence

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dates(ts ...time.Time) []time.Time { return ts }

func mustExpand(t *testing.T, anchor time.Time, r Rule, start, end time.Time) []time.Time {
	t.Helper()
	got, err := Expand(anchor, r, start, end)
	if err != nil {
		t.Fatalf("Expand error: %v", err)
	}
	return got
}

func assertDates(t *testing.T, got, want []time.Time) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d dates %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Fatalf("date[%d] = %s, want %s (all: %v)", i, got[i].Format(time.DateOnly), want[i].Format(time.DateOnly), got)
		}
	}
}

func TestExpandTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		anchor time.Time
		rule   Rule
		start  time.Time
		end    time.Time
		want   []time.Time
	}{
		{
			name:   "non-recurring returns anchor",
			anchor: day(2025, 3, 4),
			rule:   Rule{},
			start:  day(2025, 3, 1),
			end:    day(2025, 4, 1),
			want:   dates(day(2025, 3, 4)),
		},
		{
			name:   "non-recurring outside window",
			anchor: day(2025, 3, 4),
			rule:   Rule{},
			start:  day(2025, 3, 5),
			end:    day(2025, 4, 1),
			want:   nil,
		},
		{
			name:   "daily phase alignment",
			anchor: day(2025, 1, 1),
			rule:   Daily(3),
			start:  day(2025, 1, 11),
			end:    day(2025, 1, 21),
			want:   dates(day(2025, 1, 13), day(2025, 1, 16), day(2025, 1, 19)),
		},
		{
			name:   "weekly without weekdays uses anchor weekday",
			anchor: day(2025, 1, 8), // Wednesday
			rule:   Weekly(2),
			start:  day(2025, 1, 9),
			end:    day(2025, 2, 20),
			want:   dates(day(2025, 1, 22), day(2025, 2, 5), day(2025, 2, 19)),
		},
		{
			name:   "weekly selected days skip off blocks",
			anchor: day(2025, 1, 8), // Wednesday
			rule:   Weekly(2, time.Monday, time.Thursday),
			start:  day(2025, 1, 1),
			end:    day(2025, 2, 1),
			want:   dates(day(2025, 1, 9), day(2025, 1, 20), day(2025, 1, 23)),
		},
		{
			name:   "weekly window starting mid block",
			anchor: day(2025, 1, 6),
			rule:   Weekly(1, time.Monday, time.Wednesday, time.Friday),
			start:  day(2025, 1, 16),
			end:    day(2025, 1, 22),
			want:   dates(day(2025, 1, 17), day(2025, 1, 20)),
		},
		{
			name:   "weekly sunday week start",
			anchor: day(2025, 1, 5), // Sunday
			rule:   Weekly(2, time.Sunday, time.Saturday).WithWeekStart(time.Sunday),
			start:  day(2025, 1, 5),
			end:    day(2025, 1, 26),
			want:   dates(day(2025, 1, 5), day(2025, 1, 11), day(2025, 1, 19), day(2025, 1, 25)),
		},
		{
			name:   "monthly day clamps to short months",
			anchor: day(2025, 1, 31),
			rule:   MonthlyOnDay(1, 31),
			start:  day(2025, 1, 1),
			end:    day(2025, 5, 1),
			want:   dates(day(2025, 1, 31), day(2025, 2, 28), day(2025, 3, 31), day(2025, 4, 30)),
		},
		{
			name:   "monthly day clamps to leap february",
			anchor: day(2024, 1, 31),
			rule:   MonthlyOnDay(1, 31),
			start:  day(2024, 2, 1),
			end:    day(2024, 3, 1),
			want:   dates(day(2024, 2, 29)),
		},
		{
			name:   "monthly day before anchor day starts next cycle",
			anchor: day(2025, 1, 20),
			rule:   MonthlyOnDay(2, 15),
			start:  day(2025, 1, 1),
			end:    day(2025, 8, 1),
			want:   dates(day(2025, 3, 15), day(2025, 5, 15), day(2025, 7, 15)),
		},
		{
			name:   "monthly interval fast forward",
			anchor: day(2020, 2, 10),
			rule:   MonthlyOnDay(5, 10),
			start:  day(2025, 1, 1),
			end:    day(2026, 1, 1),
			want:   dates(day(2025, 2, 10), day(2025, 7, 10), day(2025, 12, 10)),
		},
		{
			name:   "second tuesday",
			anchor: day(2025, 1, 14),
			rule:   MonthlyOnWeekday(1, 2, time.Tuesday),
			start:  day(2025, 1, 1),
			end:    day(2025, 4, 1),
			want:   dates(day(2025, 1, 14), day(2025, 2, 11), day(2025, 3, 11)),
		},
		{
			name:   "last friday picks fifth friday",
			anchor: day(2025, 1, 31), // January 2025 has five Fridays
			rule:   MonthlyOnWeekday(1, LastWeek, time.Friday),
			start:  day(2025, 1, 1),
			end:    day(2025, 4, 1),
			want:   dates(day(2025, 1, 31), day(2025, 2, 28), day(2025, 3, 28)),
		},
		{
			name:   "yearly leap day clamps",
			anchor: day(2024, 2, 29),
			rule:   Yearly(1),
			start:  day(2024, 1, 1),
			end:    day(2029, 1, 1),
			want:   dates(day(2024, 2, 29), day(2025, 2, 28), day(2026, 2, 28), day(2027, 2, 28), day(2028, 2, 29)),
		},
		{
			name:   "yearly interval",
			anchor: day(2010, 6, 1),
			rule:   Yearly(4),
			start:  day(2020, 1, 1),
			end:    day(2030, 1, 1),
			want:   dates(day(2022, 6, 1), day(2026, 6, 1)),
		},
		{
			name:   "exceptions are skipped",
			anchor: day(2025, 1, 1),
			rule:   Daily(1).WithExceptions(day(2025, 1, 2), time.Date(2025, 1, 4, 18, 30, 0, 0, time.UTC)),
			start:  day(2025, 1, 1),
			end:    day(2025, 1, 6),
			want:   dates(day(2025, 1, 1), day(2025, 1, 3), day(2025, 1, 5)),
		},
		{
			name:   "end date is inclusive",
			anchor: day(2025, 1, 1),
			rule:   Weekly(1).WithEndDate(day(2025, 1, 15)),
			start:  day(2025, 1, 1),
			end:    day(2025, 3, 1),
			want:   dates(day(2025, 1, 1), day(2025, 1, 8), day(2025, 1, 15)),
		},
		{
			name:   "window start with time of day rounds up",
			anchor: day(2025, 1, 1),
			rule:   Daily(1),
			start:  time.Date(2025, 1, 3, 8, 0, 0, 0, time.UTC),
			end:    day(2025, 1, 6),
			want:   dates(day(2025, 1, 4), day(2025, 1, 5)),
		},
		{
			name:   "window before anchor",
			anchor: day(2025, 6, 1),
			rule:   Daily(1),
			start:  day(2025, 1, 1),
			end:    day(2025, 6, 1),
			want:   nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := mustExpand(t, tt.anchor, tt.rule, tt.start, tt.end)
			assertDates(t, got, tt.want)
		})
	}
}

func TestExpandWeeklyEndToEnd(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 6)
	r := Weekly(1, time.Monday, time.Wednesday)
	got := mustExpand(t, anchor, r, day(2025, 1, 6), day(2025, 1, 20))
	assertDates(t, got, dates(day(2025, 1, 6), day(2025, 1, 8), day(2025, 1, 13), day(2025, 1, 15)))
}

func TestExpandIsIdempotent(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 31)
	r := MonthlyOnWeekday(2, LastWeek, time.Friday).WithExceptions(day(2025, 5, 30))
	a := mustExpand(t, anchor, r, day(2025, 1, 1), day(2027, 1, 1))
	b := mustExpand(t, anchor, r, day(2025, 1, 1), day(2027, 1, 1))
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("repeated calls differ:\n%v\n%v", a, b)
	}
}

func TestExpandWindowInvariant(t *testing.T) {
	t.Parallel()
	anchor := day(2024, 12, 30)
	ex := []time.Time{day(2025, 1, 1), day(2025, 1, 8)}
	rules := []Rule{
		Daily(2).WithExceptions(ex...),
		Weekly(3, time.Monday, time.Wednesday, time.Sunday).WithExceptions(ex...),
		MonthlyOnDay(1, 30).WithExceptions(ex...),
		MonthlyOnWeekday(1, 1, time.Wednesday).WithExceptions(ex...),
		Yearly(1).WithExceptions(ex...),
	}
	start, end := day(2025, 1, 1), day(2026, 1, 1)
	for _, r := range rules {
		got := mustExpand(t, anchor, r, start, end)
		for i, d := range got {
			if d.Before(start) || !d.Before(end) {
				t.Fatalf("%s: %s outside window", Summary(r), d)
			}
			if r.isException(d) {
				t.Fatalf("%s: exception %s returned", Summary(r), d)
			}
			if i > 0 && !got[i-1].Before(d) {
				t.Fatalf("%s: not strictly ascending at %d", Summary(r), i)
			}
		}
	}
}

func TestWindowsPartitionTheSeries(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 8)
	r := Weekly(2, time.Monday, time.Thursday, time.Saturday).WithExceptions(day(2025, 2, 3))
	whole := mustExpand(t, anchor, r, day(2025, 1, 1), day(2025, 7, 1))

	var pieced []time.Time
	for s := day(2025, 1, 1); s.Before(day(2025, 7, 1)); s = s.AddDate(0, 0, 9) {
		e := s.AddDate(0, 0, 9)
		if e.After(day(2025, 7, 1)) {
			e = day(2025, 7, 1)
		}
		pieced = append(pieced, mustExpand(t, anchor, r, s, e)...)
	}
	assertDates(t, pieced, whole)
}

func TestCountIsAnchoredToSeries(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 1)
	r := Daily(2).WithCount(3) // Jan 1, 3, 5

	full := mustExpand(t, anchor, r, day(2024, 12, 1), day(2026, 1, 1))
	assertDates(t, full, dates(day(2025, 1, 1), day(2025, 1, 3), day(2025, 1, 5)))

	tail := mustExpand(t, anchor, r, day(2025, 1, 4), day(2026, 1, 1))
	assertDates(t, tail, dates(day(2025, 1, 5)))

	after := mustExpand(t, anchor, r, day(2025, 1, 6), day(2026, 1, 1))
	assertDates(t, after, nil)

	total := 0
	for s := day(2024, 12, 30); s.Before(day(2025, 2, 1)); s = s.AddDate(0, 0, 1) {
		total += len(mustExpand(t, anchor, r, s, s.AddDate(0, 0, 1)))
	}
	if total != 3 {
		t.Fatalf("day-by-day windows produced %d occurrences, want 3", total)
	}
}

func TestCountSkipsExceptionsBeforeWindow(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 6)
	// Jan 13 is suppressed and does not consume the count, so the four
	// occurrences are Jan 6, 20, 27 and Feb 3.
	r := Weekly(1).WithCount(4).WithExceptions(day(2025, 1, 13), day(2025, 1, 14))

	full, err := ExpandOccurrences(anchor, r, day(2025, 1, 1), day(2025, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 4 || !full[3].Date.Equal(day(2025, 2, 3)) || full[3].Index != 3 {
		t.Fatalf("unexpected series: %+v", full)
	}

	tail, err := ExpandOccurrences(anchor, r, day(2025, 1, 21), day(2025, 3, 1))
	if err != nil {
		t.Fatal(err)
	}
	want := []Occurrence{{Date: day(2025, 1, 27), Index: 2}, {Date: day(2025, 2, 3), Index: 3}}
	if !reflect.DeepEqual(tail, want) {
		t.Fatalf("tail = %+v, want %+v", tail, want)
	}
}

func TestOccurrenceIndexesMatchAcrossWindows(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 20)
	r := MonthlyOnDay(1, 15)
	all, err := ExpandOccurrences(anchor, r, day(2025, 1, 1), day(2026, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	late, err := ExpandOccurrences(anchor, r, day(2025, 9, 1), day(2026, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(late) == 0 {
		t.Fatal("expected occurrences")
	}
	for _, o := range late {
		if !all[o.Index].Date.Equal(o.Date) {
			t.Fatalf("index %d maps to %s in the full series, %s in the window", o.Index, all[o.Index].Date, o.Date)
		}
	}
}

func TestExpandHonoursAnchorLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable:", err)
	}
	anchor := time.Date(2025, 3, 28, 0, 0, 0, 0, loc)
	got := mustExpand(t, anchor, Daily(1), anchor, time.Date(2025, 4, 1, 0, 0, 0, 0, loc))
	if len(got) != 4 {
		t.Fatalf("got %d days across the DST switch, want 4: %v", len(got), got)
	}
	for _, d := range got {
		if d.Hour() != 0 || d.Location() != loc {
			t.Fatalf("%v is not a local midnight", d)
		}
	}
}

func TestExpandLimitReportsTruncation(t *testing.T) {
	t.Parallel()
	occ, truncated, err := ExpandLimit(day(2025, 1, 1), Daily(1), day(2025, 1, 1), day(2026, 1, 1), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != 10 || !truncated {
		t.Fatalf("len=%d truncated=%v, want 10 true", len(occ), truncated)
	}
	occ, truncated, err = ExpandLimit(day(2025, 1, 1), Daily(1), day(2025, 1, 1), day(2025, 1, 11), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != 10 || truncated {
		t.Fatalf("len=%d truncated=%v, want 10 false", len(occ), truncated)
	}
}

func TestExpandReturnsWholeWindow(t *testing.T) {
	t.Parallel()
	got := mustExpand(t, day(2000, 1, 1), Daily(1), day(2000, 1, 1), day(2030, 1, 1))
	if len(got) != 10958 {
		t.Fatalf("len=%d, want 10958", len(got))
	}
	if last := got[len(got)-1]; !last.Equal(day(2029, 12, 31)) {
		t.Fatalf("last=%v, want 2029-12-31", last)
	}
	occ, truncated, err := ExpandLimit(day(2000, 1, 1), Daily(1), day(2000, 1, 1), day(2030, 1, 1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(occ) != DefaultMaxOccurrences || !truncated {
		t.Fatalf("ExpandLimit len=%d truncated=%v, want %d true", len(occ), truncated, DefaultMaxOccurrences)
	}
}

func TestExpandErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		anchor time.Time
		rule   Rule
		start  time.Time
		end    time.Time
		want   error
	}{
		{"zero interval", day(2025, 1, 1), Daily(0), day(2025, 1, 1), day(2025, 2, 1), ErrInvalidRule},
		{"bad month week", day(2025, 1, 1), MonthlyOnWeekday(1, 5, time.Monday), day(2025, 1, 1), day(2025, 2, 1), ErrInvalidRule},
		{"bad month day", day(2025, 1, 1), MonthlyOnDay(1, 32), day(2025, 1, 1), day(2025, 2, 1), ErrInvalidRule},
		{"zero anchor", time.Time{}, Daily(1), day(2025, 1, 1), day(2025, 2, 1), ErrZeroAnchor},
		{"inverted window", day(2025, 1, 1), Daily(1), day(2025, 2, 1), day(2025, 1, 1), errWindow},
	}
	for _, tt := range tests {
		_, err := Expand(tt.anchor, tt.rule, tt.start, tt.end)
		if !errors.Is(err, tt.want) {
			t.Fatalf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestNext(t *testing.T) {
	t.Parallel()
	anchor := day(2025, 1, 6)
	r := Weekly(1, time.Monday, time.Wednesday).WithCount(3)

	o, ok, err := Next(anchor, r, day(2025, 1, 9))
	if err != nil || !ok {
		t.Fatalf("Next: ok=%v err=%v", ok, err)
	}
	if !o.Date.Equal(day(2025, 1, 13)) || o.Index != 2 {
		t.Fatalf("Next = %+v", o)
	}
	if _, ok, _ := Next(anchor, r, day(2025, 1, 14)); ok {
		t.Fatal("series with count 3 should be exhausted after Jan 13")
	}
}

package recurrence

import (
	"fmt"
	"time"
)

// Limits accepted by Validate.
const (
	MaxInterval = 999
	MaxCount    = 1000
)

// Spec is the editable form of a rule as it arrives from a form, a config
// file or an iCalendar import. It may be invalid; Compile turns it into a
// Rule or reports every problem.
type Spec struct {
	Frequency Frequency `yaml:"frequency" json:"frequency"`
	// Interval 0 means 1.
	Interval int `yaml:"interval,omitempty" json:"interval,omitempty"`

	// Weekly only.
	Weekdays  []time.Weekday `yaml:"weekdays,omitempty" json:"weekdays,omitempty"`
	WeekStart *time.Weekday  `yaml:"week_start,omitempty" json:"week_start,omitempty"`

	// Monthly only: MonthDay, or MonthWeek together with MonthWeekday.
	MonthDay     int           `yaml:"month_day,omitempty" json:"month_day,omitempty"`
	MonthWeek    int           `yaml:"month_week,omitempty" json:"month_week,omitempty"`
	MonthWeekday *time.Weekday `yaml:"month_weekday,omitempty" json:"month_weekday,omitempty"`

	EndDate    *time.Time  `yaml:"end_date,omitempty" json:"end_date,omitempty"`
	EndAfter   int         `yaml:"end_after,omitempty" json:"end_after,omitempty"`
	Exceptions []time.Time `yaml:"exceptions,omitempty" json:"exceptions,omitempty"`
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

// Validate checks s against the rule invariants.
func Validate(s Spec) Result {
	probs := s.problems()
	return Result{Valid: len(probs) == 0, Errors: probs}
}

// ValidateAt is Validate plus the form-level check that an end date lies in
// the future relative to now.
func ValidateAt(s Spec, now time.Time) Result {
	probs := s.problems()
	if s.Frequency != FreqNone && s.EndDate != nil && !s.EndDate.After(now) {
		probs = append(probs, FieldError{Field: "endDate", Message: "end date must be in the future"})
	}
	return Result{Valid: len(probs) == 0, Errors: probs}
}

func (s Spec) interval() int {
	if s.Interval == 0 {
		return 1
	}
	return s.Interval
}

func (s Spec) problems() []FieldError {
	if s.Frequency == FreqNone {
		return nil
	}
	var probs []FieldError
	if s.Frequency < FreqNone || s.Frequency > FreqYearly {
		return append(probs, FieldError{Field: "frequency", Message: "unknown frequency"})
	}
	if iv := s.interval(); iv < 1 || iv > MaxInterval {
		probs = append(probs, FieldError{Field: "interval", Message: fmt.Sprintf("interval must be between 1 and %d", MaxInterval)})
	}
	if s.EndDate != nil && s.EndAfter != 0 {
		probs = append(probs, FieldError{Field: "endAfter", Message: "set either an end date or an occurrence count, not both"})
	}
	if s.EndAfter < 0 || s.EndAfter > MaxCount {
		probs = append(probs, FieldError{Field: "endAfter", Message: fmt.Sprintf("occurrence count must be between 1 and %d", MaxCount)})
	}
	if s.WeekStart != nil && !validWeekday(*s.WeekStart) {
		probs = append(probs, FieldError{Field: "weekStart", Message: "week start must be a weekday 0-6"})
	}

	switch s.Frequency {
	case FreqWeekly:
		for _, wd := range s.Weekdays {
			if !validWeekday(wd) {
				probs = append(probs, FieldError{Field: "weekdays", Message: "weekdays must be values 0-6"})
				break
			}
		}
	case FreqMonthly:
		byDay := s.MonthDay != 0
		byWeek := s.MonthWeek != 0 || s.MonthWeekday != nil
		switch {
		case byDay && byWeek:
			probs = append(probs, FieldError{Field: "monthDay", Message: "choose either a day of month or an nth weekday, not both"})
		case !byDay && !byWeek:
			probs = append(probs, FieldError{Field: "monthDay", Message: "monthly rule needs a day of month or an nth weekday"})
		case byDay:
			if s.MonthDay < 1 || s.MonthDay > 31 {
				probs = append(probs, FieldError{Field: "monthDay", Message: "day of month must be between 1 and 31"})
			}
		default:
			if s.MonthWeekday == nil {
				probs = append(probs, FieldError{Field: "monthWeekday", Message: "nth weekday rule needs a weekday"})
				break
			}
			probs = append(probs, checkMonthWeek(s.MonthWeek, *s.MonthWeekday)...)
		}
	}
	return probs
}

// Compile validates s and builds the corresponding Rule. Fields that do not
// apply to the frequency are ignored.
func (s Spec) Compile() (Rule, error) {
	if probs := s.problems(); len(probs) > 0 {
		return Rule{}, &RuleError{Problems: probs}
	}
	iv := s.interval()
	var r Rule
	switch s.Frequency {
	case FreqNone:
		return Rule{}, nil
	case FreqDaily:
		r = Daily(iv)
	case FreqWeekly:
		r = Weekly(iv, s.Weekdays...)
	case FreqMonthly:
		if s.MonthDay != 0 {
			r = MonthlyOnDay(iv, s.MonthDay)
		} else {
			r = MonthlyOnWeekday(iv, s.MonthWeek, *s.MonthWeekday)
		}
	case FreqYearly:
		r = Yearly(iv)
	}
	if s.WeekStart != nil {
		r = r.WithWeekStart(*s.WeekStart)
	}
	if s.EndDate != nil {
		r = r.WithEndDate(*s.EndDate)
	}
	if s.EndAfter > 0 {
		r = r.WithCount(s.EndAfter)
	}
	if len(s.Exceptions) > 0 {
		r = r.WithExceptions(s.Exceptions...)
	}
	return r, nil
}

// Spec converts r back into its editable form.
func (r Rule) Spec() Spec {
	s := Spec{Frequency: r.freq}
	if r.freq == FreqNone {
		return s
	}
	s.Interval = r.interval
	if r.weekStart != time.Monday {
		ws := r.weekStart
		s.WeekStart = &ws
	}
	switch r.freq {
	case FreqWeekly:
		s.Weekdays = r.Weekdays()
	case FreqMonthly:
		if r.monthDay != 0 {
			s.MonthDay = r.monthDay
		} else {
			wd := r.monthWeekday
			s.MonthWeek = r.monthWeek
			s.MonthWeekday = &wd
		}
	}
	if !r.until.IsZero() {
		u := r.until
		s.EndDate = &u
	}
	s.EndAfter = r.count
	if len(r.exceptions) > 0 {
		s.Exceptions = r.Exceptions()
	}
	return s
}

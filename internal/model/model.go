package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"loopr/internal/recurrence"
)

// ErrInvalidEvent reports an event whose anchor cannot be resolved.
var ErrInvalidEvent = errors.New("invalid event")

// Event is the descriptor the application hands to the expander and the
// reminder scheduler. It seeds a (possibly recurring) series.
type Event struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Location    string `yaml:"location,omitempty" json:"location,omitempty"`

	// Date is the anchor date; its time of day is ignored and its location
	// is the calendar the series is expanded in.
	Date time.Time `yaml:"date" json:"date"`
	// Time is the optional start time as "HH:MM". Empty means the event has
	// no time and reminders count back from midnight.
	Time   string `yaml:"time,omitempty" json:"time,omitempty"`
	AllDay bool   `yaml:"all_day,omitempty" json:"all_day,omitempty"`

	Recurrence recurrence.Spec `yaml:"recurrence,omitempty" json:"recurrence,omitempty"`

	// Reminders are lead times in minutes before each occurrence.
	Reminders []int `yaml:"reminders,omitempty" json:"reminders,omitempty"`
}

// Anchor returns the first occurrence date at midnight in the event's
// location.
func (e Event) Anchor() (time.Time, error) {
	if e.Date.IsZero() {
		return time.Time{}, fmt.Errorf("%w: event %q has no date", ErrInvalidEvent, e.ID)
	}
	y, m, d := e.Date.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, e.Date.Location()), nil
}

// Rule compiles the event's recurrence.
func (e Event) Rule() (recurrence.Rule, error) {
	return e.Recurrence.Compile()
}

// Timed reports whether occurrences start at a specific time of day.
func (e Event) Timed() bool {
	return !e.AllDay && strings.TrimSpace(e.Time) != ""
}

// EffectiveTime returns when the occurrence on day starts: day at e.Time, or
// the day's midnight for all-day and untimed events.
func (e Event) EffectiveTime(day time.Time) (time.Time, error) {
	y, m, d := day.Date()
	loc := day.Location()
	if !e.Timed() {
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	h, min, err := ParseHHMM(e.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: event %q: %v", ErrInvalidEvent, e.ID, err)
	}
	return time.Date(y, m, d, h, min, 0, 0, loc), nil
}

// Check resolves the anchor and start time without expanding anything.
func (e Event) Check() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	a, err := e.Anchor()
	if err != nil {
		return err
	}
	_, err = e.EffectiveTime(a)
	return err
}

// ParseHHMM parses "HH:MM" in 24h form. Both fields are exactly two ASCII
// digits.
func ParseHHMM(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || !twoDigits(parts[0]) || !twoDigits(parts[1]) {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	h, _ := strconv.Atoi(parts[0])
	if h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, _ := strconv.Atoi(parts[1])
	if m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

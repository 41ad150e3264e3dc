package reminder

import (
	"errors"
	"fmt"
	"time"

	"loopr/internal/clock"
	"loopr/internal/model"
	"loopr/internal/recurrence"
)

var (
	// ErrInvalidOffset reports a negative lead time or a non-positive snooze delay.
	ErrInvalidOffset = errors.New("invalid reminder offset")
	// ErrInvalidEvent is model.ErrInvalidEvent, re-exported for callers that
	// only import this package.
	ErrInvalidEvent = model.ErrInvalidEvent
)

// Preset lead times in minutes.
const (
	AtTime         = 0
	FiveMinutes    = 5
	FifteenMinutes = 15
	ThirtyMinutes  = 30
	OneHour        = 60
	TwoHours       = 120
	OneDay         = 1440
	OneWeek        = 10080
)

// DefaultReminders is used by hosts for events that carry no reminders.
var DefaultReminders = []int{FifteenMinutes}

// Key identifies a trigger. Regular triggers are unique per event,
// occurrence index and offset; snoozed triggers additionally carry a unique
// Snooze token and have no offset binding.
type Key struct {
	EventID string
	Index   int
	Offset  int
	Snooze  string
}

func (k Key) String() string {
	if k.Snooze != "" {
		return fmt.Sprintf("%s#%d~snooze:%s", k.EventID, k.Index, k.Snooze)
	}
	return fmt.Sprintf("%s#%d-%dm", k.EventID, k.Index, k.Offset)
}

// Trigger is a snapshot of one armed reminder as handed to hosts.
type Trigger struct {
	Key        Key
	Event      model.Event
	Occurrence recurrence.Occurrence
	// Offset is the lead time in minutes; 0 for snoozed triggers.
	Offset int
	// Start is when the occurrence begins; FireAt is when the reminder goes off.
	Start  time.Time
	FireAt time.Time
}

// Snoozed reports whether t was created by Snooze.
func (t Trigger) Snoozed() bool { return t.Key.Snooze != "" }

// entry is the table's record of an armed trigger. Entries are never reused:
// rearming an identity stores a new entry, so a late timer callback can
// detect that it was superseded by pointer identity.
type entry struct {
	trig  Trigger
	timer clock.Timer
}

// Window is a half-open range of occurrence dates.
type Window struct {
	Start time.Time
	End   time.Time
}

// Stats summarises the trigger table.
type Stats struct {
	Armed    int
	Snoozed  int
	NextFire time.Time
}

// FormatLeadTime renders a lead time for display: "now", "5 minutes",
// "2 hours", "1 day".
func FormatLeadTime(minutes int) string {
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	switch {
	case minutes <= 0:
		return "now"
	case minutes < 60:
		return plural(minutes, "minute")
	case minutes < 1440:
		return plural(minutes/60, "hour")
	default:
		return plural(minutes/1440, "day")
	}
}

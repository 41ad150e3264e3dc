package reminder

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"loopr/internal/clock"
	appLog "loopr/internal/log"
	"loopr/internal/model"
	"loopr/internal/recurrence"
)

// DefaultLookahead bounds how far ahead in-memory timers are armed. Hosts
// re-run Schedule/Reschedule periodically to arm what comes into range.
const DefaultLookahead = 7 * 24 * time.Hour

// FireFunc receives a trigger when it goes off. Returned errors and panics
// are reported through ErrorFunc; the trigger is removed either way.
type FireFunc func(t Trigger) error

// ErrorFunc is the host-supplied sink for OnFire failures.
type ErrorFunc func(t Trigger, err error)

// Options configures a Scheduler. Zero fields take defaults.
type Options struct {
	Clock     clock.Clock
	Lookahead time.Duration
	OnFire    FireFunc
	OnError   ErrorFunc
}

// Scheduler owns the trigger table. All methods are safe for concurrent use;
// timer callbacks may run on any goroutine.
//
// A trigger is either armed (present in the table) or gone. Firing removes
// it from the table under the lock before OnFire runs, so a concurrent
// Cancel either wins and the callback is skipped, or finds nothing to do.
// In the second case the callback may already be running: a Cancel may still
// be followed by at most one in-flight OnFire for a trigger that fired just
// before it. OnFire runs without the lock held and may call back into the
// Scheduler.
type Scheduler struct {
	mu    sync.Mutex
	table map[Key]*entry
	// snoozed remembers regular triggers replaced by a snooze so a later
	// Schedule does not arm them again. Values are the original fire times.
	snoozed map[Key]time.Time

	clock     clock.Clock
	lookahead time.Duration
	onFire    FireFunc
	onError   ErrorFunc
}

func New(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	return &Scheduler{
		table:     map[Key]*entry{},
		snoozed:   map[Key]time.Time{},
		clock:     opts.Clock,
		lookahead: opts.Lookahead,
		onFire:    opts.OnFire,
		onError:   opts.OnError,
	}
}

// Lookahead reports the arming horizon.
func (s *Scheduler) Lookahead() time.Duration { return s.lookahead }

// Schedule arms a trigger for every reminder offset of every occurrence of ev
// inside w and the lookahead horizon. Only occurrences starting before the
// horizon are considered. Reminders whose fire time is not
// strictly in the future are skipped. A zero window means from today to the
// horizon. Either every eligible trigger is armed or, on error, none is.
// Triggers that were snoozed stay replaced by their snooze. It returns the
// number of triggers armed.
func (s *Scheduler) Schedule(ev model.Event, w Window) (int, error) {
	now := s.clock.Now()
	plan, err := s.plan(ev, w, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, at := range s.snoozed {
		if !at.After(now) {
			delete(s.snoozed, k)
		}
	}
	n := 0
	for _, t := range plan {
		if _, ok := s.snoozed[t.Key]; ok {
			continue
		}
		s.armLocked(t, now)
		n++
	}
	if n > 0 {
		appLog.Debug("reminders scheduled", "event", ev.ID, "armed", n)
	}
	return n, nil
}

// Reschedule replaces every trigger of ev.ID with the triggers of the edited
// event in one step. On error the existing triggers are left untouched.
func (s *Scheduler) Reschedule(ev model.Event, w Window) (int, error) {
	now := s.clock.Now()
	plan, err := s.plan(ev, w, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.cancelLocked(ev.ID)
	for _, t := range plan {
		s.armLocked(t, now)
	}
	appLog.Debug("reminders rescheduled", "event", ev.ID, "removed", removed, "armed", len(plan))
	return len(plan), nil
}

// Cancel disarms every trigger of the event, snoozed ones included. It is
// idempotent and returns how many triggers were removed.
func (s *Scheduler) Cancel(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.cancelLocked(eventID)
	if n > 0 {
		appLog.Debug("reminders cancelled", "event", eventID, "removed", n)
	}
	return n
}

// CancelAll disarms the whole table.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.table)
	for k, e := range s.table {
		e.timer.Stop()
		delete(s.table, k)
	}
	clear(s.snoozed)
	if n > 0 {
		appLog.Debug("all reminders cancelled", "removed", n)
	}
	return n
}

// Snooze disarms t (if it is still armed) and arms a one-off copy that fires
// delayMinutes from now. Every call yields a fresh identity.
func (s *Scheduler) Snooze(t Trigger, delayMinutes int) (Trigger, error) {
	if delayMinutes < 1 {
		return Trigger{}, fmt.Errorf("%w: snooze delay %d minutes", ErrInvalidOffset, delayMinutes)
	}
	now := s.clock.Now()

	nt := t
	nt.Key = Key{EventID: t.Key.EventID, Index: t.Key.Index, Snooze: uuid.NewString()}
	nt.Offset = 0
	nt.FireAt = now.Add(time.Duration(delayMinutes) * time.Minute)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.table[t.Key]; ok {
		e.timer.Stop()
		delete(s.table, t.Key)
	}
	if t.Key.Snooze == "" && t.FireAt.After(now) {
		s.snoozed[t.Key] = t.FireAt
	}
	s.armLocked(nt, now)
	appLog.Debug("reminder snoozed", "from", t.Key.String(), "to", nt.Key.String(), "fire_at", nt.FireAt)
	return nt, nil
}

// Pending lists the armed triggers of an event ordered by fire time.
func (s *Scheduler) Pending(eventID string) []Trigger {
	s.mu.Lock()
	out := make([]Trigger, 0)
	for k, e := range s.table {
		if k.EventID == eventID {
			out = append(out, e.trig)
		}
	}
	s.mu.Unlock()
	sortTriggers(out)
	return out
}

// Stats reports the size of the trigger table.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Armed: len(s.table)}
	for k, e := range s.table {
		if k.Snooze != "" {
			st.Snoozed++
		}
		if st.NextFire.IsZero() || e.trig.FireAt.Before(st.NextFire) {
			st.NextFire = e.trig.FireAt
		}
	}
	return st
}

// plan computes the triggers Schedule would arm without touching the table.
func (s *Scheduler) plan(ev model.Event, w Window, now time.Time) ([]Trigger, error) {
	if err := ev.Check(); err != nil {
		return nil, err
	}
	offsets, err := normalizeOffsets(ev)
	if err != nil {
		return nil, err
	}
	rule, err := ev.Rule()
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", ev.ID, err)
	}
	anchor, _ := ev.Anchor()
	if len(offsets) == 0 {
		return nil, nil
	}

	loc := anchor.Location()
	ny, nm, nd := now.In(loc).Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, loc)
	start := w.Start
	if start.IsZero() || start.Before(today) {
		start = today
	}
	end := now.Add(s.lookahead)
	if !w.End.IsZero() && w.End.Before(end) {
		end = w.End
	}
	if !end.After(start) {
		return nil, nil
	}

	occs, err := recurrence.ExpandOccurrences(anchor, rule, start, end)
	if err != nil {
		return nil, fmt.Errorf("event %q: %w", ev.ID, err)
	}

	plan := make([]Trigger, 0, len(occs)*len(offsets))
	for _, occ := range occs {
		begin, err := ev.EffectiveTime(occ.Date)
		if err != nil {
			return nil, err
		}
		if !begin.Before(end) {
			continue
		}
		for _, off := range offsets {
			fireAt := begin.Add(-time.Duration(off) * time.Minute)
			if !fireAt.After(now) {
				continue
			}
			plan = append(plan, Trigger{
				Key:        Key{EventID: ev.ID, Index: occ.Index, Offset: off},
				Event:      ev,
				Occurrence: occ,
				Offset:     off,
				Start:      begin,
				FireAt:     fireAt,
			})
		}
	}
	return plan, nil
}

func normalizeOffsets(ev model.Event) ([]int, error) {
	seen := make(map[int]bool, len(ev.Reminders))
	out := make([]int, 0, len(ev.Reminders))
	for _, off := range ev.Reminders {
		if off < 0 {
			return nil, fmt.Errorf("%w: %d minutes on event %q", ErrInvalidOffset, off, ev.ID)
		}
		if seen[off] {
			continue
		}
		seen[off] = true
		out = append(out, off)
	}
	return out, nil
}

// armLocked stores t, replacing (and disarming) any trigger with the same key.
func (s *Scheduler) armLocked(t Trigger, now time.Time) {
	if old, ok := s.table[t.Key]; ok {
		old.timer.Stop()
	}
	e := &entry{trig: t}
	e.timer = s.clock.AfterFunc(t.FireAt.Sub(now), func() { s.fire(e) })
	s.table[t.Key] = e
}

func (s *Scheduler) cancelLocked(eventID string) int {
	for k := range s.snoozed {
		if k.EventID == eventID {
			delete(s.snoozed, k)
		}
	}
	n := 0
	for k, e := range s.table {
		if k.EventID != eventID {
			continue
		}
		e.timer.Stop()
		delete(s.table, k)
		n++
	}
	return n
}

// fire is the timer callback. Stale callbacks (cancelled or replaced
// entries) find a different entry, or none, under their key and return.
func (s *Scheduler) fire(e *entry) {
	s.mu.Lock()
	cur, ok := s.table[e.trig.Key]
	if !ok || cur != e {
		s.mu.Unlock()
		return
	}
	delete(s.table, e.trig.Key)
	s.mu.Unlock()

	s.deliver(e.trig)
}

func (s *Scheduler) deliver(t Trigger) {
	defer func() {
		if r := recover(); r != nil {
			s.report(t, fmt.Errorf("reminder callback panicked: %v", r))
		}
	}()

	appLog.Info("reminder fired",
		"key", t.Key.String(),
		"event", t.Event.ID,
		"title", t.Event.Title,
		"lead", FormatLeadTime(t.Offset),
		"start", t.Start,
	)
	if s.onFire == nil {
		return
	}
	if err := s.onFire(t); err != nil {
		s.report(t, err)
	}
}

func (s *Scheduler) report(t Trigger, err error) {
	appLog.Error("reminder callback failed", err, "key", t.Key.String(), "event", t.Event.ID)
	if s.onError != nil {
		s.onError(t, err)
	}
}

func sortTriggers(ts []Trigger) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].FireAt.Equal(ts[j].FireAt) {
			return ts[i].FireAt.Before(ts[j].FireAt)
		}
		return ts[i].Key.String() < ts[j].Key.String()
	})
}

package agenda

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"

	appLog "loopr/internal/log"
	"loopr/internal/model"
	"loopr/internal/recurrence"
	"loopr/internal/reminder"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
	defaultRefreshCron            = "*/15 * * * *"
)

// Options configures a Service.
type Options struct {
	Scheduler *reminder.Scheduler

	// Location is the display zone entries are converted into and the zone
	// the refresh schedule runs in. If nil, time.Local is used.
	Location *time.Location

	// WeekStart, if set, is applied to weekly rules that do not set their own.
	WeekStart *time.Weekday

	// RefreshCron is the cron-style schedule for re-arming reminders.
	RefreshCron string

	// DefaultReminders are applied to events whose Reminders is nil.
	DefaultReminders []int

	// MaxOccurrencesPerEvent is a safety cap for Occurrences. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Entry is one occurrence of one event, ready for display.
type Entry struct {
	EventID  string
	Title    string
	Location string
	AllDay   bool
	// Date is the occurrence date in the event's zone; Start is when it
	// begins, converted into the display zone.
	Date  time.Time
	Start time.Time
	Index int
	// InstanceKey is a stable per-instance key.
	InstanceKey string
}

// Result wraps the expanded entries and the events that hit the cap.
type Result struct {
	Entries []Entry
	// TruncatedEvents records IDs that hit MaxOccurrencesPerEvent.
	TruncatedEvents []string
}

// Service holds the event set and keeps the reminder scheduler in step with
// it. Reminders are armed only inside the scheduler's lookahead, so a cron
// job re-runs Schedule for every event as time moves on.
type Service struct {
	mu     sync.RWMutex
	events map[string]model.Event

	sched *reminder.Scheduler
	opts  Options

	cronMu sync.Mutex
	cron   *cron.Cron
}

func New(opts Options) *Service {
	if opts.Scheduler == nil {
		opts.Scheduler = reminder.New(reminder.Options{})
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.RefreshCron == "" {
		opts.RefreshCron = defaultRefreshCron
	}
	if opts.MaxOccurrencesPerEvent <= 0 {
		opts.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}
	return &Service{
		events: map[string]model.Event{},
		sched:  opts.Scheduler,
		opts:   opts,
	}
}

// Scheduler exposes the underlying reminder scheduler (for snoozing).
func (s *Service) Scheduler() *reminder.Scheduler { return s.sched }

// Upsert stores ev and replaces its reminders. An invalid event is rejected
// and leaves both the event set and the armed reminders untouched.
func (s *Service) Upsert(ev model.Event) (int, error) {
	ev = s.withDefaults(ev)

	s.mu.Lock()
	defer s.mu.Unlock()
	n, err := s.sched.Reschedule(ev, reminder.Window{})
	if err != nil {
		return 0, err
	}
	s.events[ev.ID] = ev
	return n, nil
}

// Remove drops the event and cancels its reminders.
func (s *Service) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.events[id]
	delete(s.events, id)
	s.sched.Cancel(id)
	return ok
}

func (s *Service) Get(id string) (model.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	return ev, ok
}

// Events returns the event set ordered by ID.
func (s *Service) Events() []model.Event {
	s.mu.RLock()
	out := make([]model.Event, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Replace swaps the whole event set, typically after the backing file was
// reloaded. Events missing from the new set are cancelled and edited ones
// are rescheduled. Unchanged events only get newly visible reminders armed,
// so their snoozes survive a reload. Invalid events are skipped and reported
// together.
func (s *Service) Replace(events []model.Event) error {
	next := make(map[string]model.Event, len(events))
	var result *multierror.Error
	for _, ev := range events {
		if _, dup := next[ev.ID]; dup {
			result = multierror.Append(result, fmt.Errorf("event %q: duplicate id", ev.ID))
			continue
		}
		next[ev.ID] = s.withDefaults(ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.events {
		if _, ok := next[id]; !ok {
			s.sched.Cancel(id)
		}
	}
	kept := make(map[string]model.Event, len(next))
	for id, ev := range next {
		arm := s.sched.Reschedule
		if old, ok := s.events[id]; ok && sameEvent(old, ev) {
			arm = s.sched.Schedule
		}
		if _, err := arm(ev, reminder.Window{}); err != nil {
			s.sched.Cancel(id)
			result = multierror.Append(result, err)
			continue
		}
		kept[id] = ev
	}
	s.events = kept

	appLog.Info("event set replaced", "events", len(kept), "rejected", len(events)-len(kept))
	return result.ErrorOrNil()
}

// Refresh arms reminders that moved into the lookahead since the last run.
// Already armed and snoozed triggers are left in place.
func (s *Service) Refresh() error {
	var result *multierror.Error
	armed := 0
	events := s.Events()
	for _, ev := range events {
		n, err := s.sched.Schedule(ev, reminder.Window{})
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		armed += n
	}
	st := s.sched.Stats()
	appLog.Debug("reminders refreshed", "events", len(events), "armed", st.Armed, "scheduled", armed)
	return result.ErrorOrNil()
}

// Occurrences expands every event inside [start, end) and returns the
// entries ordered by start time.
func (s *Service) Occurrences(start, end time.Time) (Result, error) {
	var result Result
	if end.Before(start) {
		return result, errors.New("agenda: end is before start")
	}

	entries := make([]Entry, 0)
	for _, ev := range s.Events() {
		anchor, err := ev.Anchor()
		if err != nil {
			continue
		}
		rule, err := ev.Rule()
		if err != nil {
			appLog.Error("agenda: skipping event with invalid recurrence", err, "event", ev.ID)
			continue
		}
		occs, truncated, err := recurrence.ExpandLimit(anchor, rule, start, end, s.opts.MaxOccurrencesPerEvent)
		if err != nil {
			return Result{}, fmt.Errorf("agenda: event %q: %w", ev.ID, err)
		}
		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, ev.ID)
			appLog.Error("agenda: truncated occurrences for event due to cap",
				errors.New("max occurrences reached"),
				"event", ev.ID,
				"cap", s.opts.MaxOccurrencesPerEvent,
			)
		}
		for _, occ := range occs {
			entries = append(entries, s.makeEntry(ev, occ))
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Start.Equal(entries[j].Start) {
			return entries[i].Start.Before(entries[j].Start)
		}
		return entries[i].EventID < entries[j].EventID
	})
	result.Entries = entries
	return result, nil
}

// Start registers the refresh job and runs one refresh immediately. The job
// stops when ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()
	if s.cron != nil {
		return errors.New("agenda: already started")
	}

	c := cron.New(cron.WithLocation(s.opts.Location))
	if _, err := c.AddFunc(s.opts.RefreshCron, s.refreshJob); err != nil {
		return fmt.Errorf("agenda: refresh schedule %q: %w", s.opts.RefreshCron, err)
	}
	s.cron = c
	s.refreshJob()
	c.Start()
	appLog.Info("agenda refresh scheduled", "cron", s.opts.RefreshCron, "timezone", s.opts.Location.String())

	go func() {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(stopCtx)
	}()
	return nil
}

// Stop halts the refresh job, waits for a running refresh to finish (or ctx
// to expire) and disarms every reminder. It is safe to call more than once.
func (s *Service) Stop(ctx context.Context) error {
	s.cronMu.Lock()
	c := s.cron
	s.cron = nil
	s.cronMu.Unlock()
	if c == nil {
		return nil
	}

	var err error
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		err = ctx.Err()
	}
	n := s.sched.CancelAll()
	appLog.Info("agenda stopped", "cancelled", n)
	return err
}

func (s *Service) refreshJob() {
	if err := s.Refresh(); err != nil {
		appLog.Error("agenda: refresh failed", err)
	}
}

// sameEvent reports whether a and b describe the same series. Zone names are
// compared separately because JSON only keeps the offset.
func sameEvent(a, b model.Event) bool {
	if a.Date.Location().String() != b.Date.Location().String() {
		return false
	}
	ja, err := json.Marshal(a)
	if err != nil {
		return false
	}
	jb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func (s *Service) withDefaults(ev model.Event) model.Event {
	if ev.Reminders == nil {
		ev.Reminders = append([]int(nil), s.opts.DefaultReminders...)
	}
	if s.opts.WeekStart != nil && ev.Recurrence.Frequency == recurrence.FreqWeekly && ev.Recurrence.WeekStart == nil {
		wd := *s.opts.WeekStart
		ev.Recurrence.WeekStart = &wd
	}
	return ev
}

func (s *Service) makeEntry(ev model.Event, occ recurrence.Occurrence) Entry {
	start, err := ev.EffectiveTime(occ.Date)
	if err != nil {
		start = occ.Date
	}
	startLocal := start.In(s.opts.Location)
	return Entry{
		EventID:     ev.ID,
		Title:       ev.Title,
		Location:    ev.Location,
		AllDay:      ev.AllDay,
		Date:        occ.Date,
		Start:       startLocal,
		Index:       occ.Index,
		InstanceKey: fmt.Sprintf("%s@%s", ev.ID, startLocal.Format(time.RFC3339Nano)),
	}
}

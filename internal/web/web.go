package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"loopr/internal/agenda"
	"loopr/internal/config"
	"loopr/internal/ics"
	appLog "loopr/internal/log"
	"loopr/internal/model"
	"loopr/internal/recurrence"
	"loopr/internal/reminder"
)

// PersistFunc writes the current event set back to storage after an edit.
type PersistFunc func(events []model.Event) error

// Server provides the HTTP API over an agenda: expanded occurrences, event
// edits, rule validation and the armed reminders.
type Server struct {
	cfg     *config.Config
	svc     *agenda.Service
	persist PersistFunc
	mux     *http.ServeMux
	now     func() time.Time

	// limiter paces write requests.
	limiter *rate.Limiter
}

// NewServer constructs a new Server. persist may be nil, in which case edits
// only live in memory.
func NewServer(cfg *config.Config, svc *agenda.Service, persist PersistFunc) *Server {
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		persist: persist,
		mux:     http.NewServeMux(),
		now:     time.Now,
	}
	rps := 10
	if cfg != nil && cfg.APIRatePerSec > 0 {
		rps = cfg.APIRatePerSec
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// An empty username or password disables auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="loopr", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Serve listens on cfg.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/agenda", s.handleAgenda)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.limited(s.handlePutEvent))
	s.mux.HandleFunc("DELETE /api/events/{id}", s.limited(s.handleDeleteEvent))
	s.mux.HandleFunc("GET /api/events.ics", s.handleCalendar)
	s.mux.HandleFunc("POST /api/validate", s.handleValidate)
	s.mux.HandleFunc("GET /api/reminders", s.handleReminders)
	s.mux.HandleFunc("POST /api/reminders/snooze", s.limited(s.handleSnooze))
}

// limited rejects requests with 429 once the write rate is exceeded.
func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		h(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	Occurrences     []occurrenceDTO `json:"occurrences"`
	TruncatedIDs    []string        `json:"truncated_ids,omitempty"`
	RangeStart      time.Time       `json:"range_start"`
	RangeEnd        time.Time       `json:"range_end"`
	DisplayTimeZone string          `json:"display_timezone"`
	WeekStart       string          `json:"week_start"`
}

// occurrenceDTO is a JSON-friendly view of agenda entries.
type occurrenceDTO struct {
	EventID     string    `json:"event_id"`
	InstanceKey string    `json:"instance_key"`
	Index       int       `json:"index"`
	Title       string    `json:"title"`
	Location    string    `json:"location,omitempty"`
	AllDay      bool      `json:"all_day"`
	Date        string    `json:"date"`
	Start       time.Time `json:"start"`
}

// handleAgenda returns expanded occurrences for a range of days.
//
// GET /api/agenda?from=2025-01-06&days=7
//   - from: first day, in the display timezone (default today)
//   - days: number of days (default 7)
func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}

	loc := resolveLocationOrLocal(s.cfg.Timezone)
	now := s.now().In(loc)
	rangeStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if from := q.Get("from"); from != "" {
		t, err := time.ParseInLocation("2006-01-02", from, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		rangeStart = t
	}
	rangeEnd := rangeStart.AddDate(0, 0, days)

	appLog.Debug("api agenda request",
		"days", days,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
	)

	res, err := s.svc.Occurrences(rangeStart, rangeEnd)
	if err != nil {
		appLog.Error("api agenda: expand failed", err)
		writeError(w, http.StatusInternalServerError, "failed to expand events")
		return
	}

	dtos := make([]occurrenceDTO, 0, len(res.Entries))
	for _, en := range res.Entries {
		dtos = append(dtos, occurrenceDTO{
			EventID:     en.EventID,
			InstanceKey: en.InstanceKey,
			Index:       en.Index,
			Title:       en.Title,
			Location:    en.Location,
			AllDay:      en.AllDay,
			Date:        en.Date.Format("2006-01-02"),
			Start:       en.Start,
		})
	}

	writeJSON(w, http.StatusOK, agendaResponse{
		Occurrences:     dtos,
		TruncatedIDs:    res.TruncatedEvents,
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: loc.String(),
		WeekStart:       s.cfg.WeekStart,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Events())
}

type putEventResponse struct {
	Event   model.Event `json:"event"`
	Armed   int         `json:"armed"`
	Summary string      `json:"summary"`
}

// handlePutEvent creates or replaces one event. Invalid recurrence settings
// are answered with 422 and the per-field problems.
func (s *Server) handlePutEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if res := recurrence.ValidateAt(ev.Recurrence, s.now()); !res.Valid {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	if err := ev.Check(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	n, err := s.svc.Upsert(ev)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !s.save() {
		writeError(w, http.StatusInternalServerError, "failed to persist events")
		return
	}

	stored, _ := s.svc.Get(ev.ID)
	resp := putEventResponse{Event: stored, Armed: n}
	if rule, err := stored.Rule(); err == nil {
		resp.Summary = recurrence.Summary(rule)
	}
	appLog.Info("event stored", "id", ev.ID, "armed", n)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.svc.Remove(id) {
		writeError(w, http.StatusNotFound, "no such event")
		return
	}
	if !s.save() {
		writeError(w, http.StatusInternalServerError, "failed to persist events")
		return
	}
	appLog.Info("event removed", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	body, err := ics.Encode(s.svc.Events(), ics.EncodeOptions{Stamp: s.now()})
	if err != nil {
		appLog.Error("api calendar: encode failed", err)
		writeError(w, http.StatusInternalServerError, "failed to encode calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type validateResponse struct {
	recurrence.Result
	Summary string             `json:"summary,omitempty"`
	Tokens  []recurrence.Token `json:"tokens,omitempty"`
}

// handleValidate checks a recurrence form without storing anything.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var spec recurrence.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	resp := validateResponse{Result: recurrence.ValidateAt(spec, s.now())}
	if resp.Valid {
		if rule, err := spec.Compile(); err == nil {
			resp.Summary = recurrence.Summary(rule)
			resp.Tokens = recurrence.Describe(rule)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type reminderDTO struct {
	Key     string    `json:"key"`
	EventID string    `json:"event_id"`
	Title   string    `json:"title"`
	Index   int       `json:"index"`
	Offset  int       `json:"offset"`
	Lead    string    `json:"lead"`
	Snoozed bool      `json:"snoozed"`
	Start   time.Time `json:"start"`
	FireAt  time.Time `json:"fire_at"`
}

type remindersResponse struct {
	Reminders []reminderDTO `json:"reminders"`
	Armed     int           `json:"armed"`
	Snoozed   int           `json:"snoozed"`
	NextFire  *time.Time    `json:"next_fire,omitempty"`
}

func toReminderDTO(t reminder.Trigger) reminderDTO {
	return reminderDTO{
		Key:     t.Key.String(),
		EventID: t.Key.EventID,
		Title:   t.Event.Title,
		Index:   t.Key.Index,
		Offset:  t.Offset,
		Lead:    reminder.FormatLeadTime(t.Offset),
		Snoozed: t.Snoozed(),
		Start:   t.Start,
		FireAt:  t.FireAt,
	}
}

// handleReminders lists every armed reminder ordered by fire time.
func (s *Server) handleReminders(w http.ResponseWriter, _ *http.Request) {
	sched := s.svc.Scheduler()
	resp := remindersResponse{Reminders: []reminderDTO{}}
	for _, ev := range s.svc.Events() {
		for _, t := range sched.Pending(ev.ID) {
			resp.Reminders = append(resp.Reminders, toReminderDTO(t))
		}
	}
	sortReminders(resp.Reminders)

	st := sched.Stats()
	resp.Armed = st.Armed
	resp.Snoozed = st.Snoozed
	if !st.NextFire.IsZero() {
		next := st.NextFire
		resp.NextFire = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

type snoozeRequest struct {
	EventID string `json:"event_id"`
	Key     string `json:"key"`
	Minutes int    `json:"minutes"`
}

// handleSnooze postpones one armed reminder. Minutes defaults to the
// configured snooze delay.
func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Minutes == 0 {
		req.Minutes = s.cfg.SnoozeMinutes
	}

	sched := s.svc.Scheduler()
	var found *reminder.Trigger
	for _, t := range sched.Pending(req.EventID) {
		if t.Key.String() == req.Key {
			found = &t
			break
		}
	}
	if found == nil {
		writeError(w, http.StatusNotFound, "no such reminder")
		return
	}

	nt, err := sched.Snooze(*found, req.Minutes)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toReminderDTO(nt))
}

// save runs the persist hook and reports whether it succeeded.
func (s *Server) save() bool {
	if s.persist == nil {
		return true
	}
	if err := s.persist(s.svc.Events()); err != nil {
		appLog.Error("persist events failed", err)
		return false
	}
	return true
}

func sortReminders(rs []reminderDTO) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].FireAt.Before(rs[j].FireAt) })
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

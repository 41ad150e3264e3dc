package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"loopr/internal/agenda"
	"loopr/internal/config"
	"loopr/internal/ics"
	appLog "loopr/internal/log"
	"loopr/internal/model"
	"loopr/internal/recurrence"
	"loopr/internal/reminder"
	"loopr/internal/web"
)

var (
	fromDate string
	days     int
)

var rangeFlags = []cli.Flag{
	cli.StringFlag{
		Name:        "from, f",
		Usage:       "first day to list (YYYY-MM-DD, default today)",
		Destination: &fromDate,
	},
	cli.IntFlag{
		Name:        "days, d",
		Usage:       "number of days to list",
		Value:       7,
		Destination: &days,
	},
}

// env is the resolved configuration shared by all commands.
type env struct {
	cfg        *config.Config
	configPath string
	eventsPath string
	loc        *time.Location
	fs         afero.Fs
}

func loadEnv(ctx *cli.Context) (*env, error) {
	path := ctx.GlobalString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	events := ctx.GlobalString("events")
	if events == "" {
		events = cfg.EventsPath(path)
	}
	return &env{cfg: cfg, configPath: path, eventsPath: events, loc: loc, fs: afero.NewOsFs()}, nil
}

// readEvents loads the event file. A missing file is an empty event set.
func (e *env) readEvents() ([]model.Event, error) {
	return ics.LoadFile(e.fs, e.eventsPath, e.loc)
}

// writeEvents stores the event set edited through the API.
func (e *env) writeEvents(events []model.Event) error {
	return ics.SaveFile(e.fs, e.eventsPath, events)
}

func (e *env) newService(opts reminder.Options) *agenda.Service {
	opts.Lookahead = e.cfg.Lookahead()
	ws := e.cfg.WeekStartDay()
	return agenda.New(agenda.Options{
		Scheduler:        reminder.New(opts),
		Location:         e.loc,
		WeekStart:        &ws,
		RefreshCron:      e.cfg.RefreshCron,
		DefaultReminders: e.cfg.DefaultReminders,
	})
}

func run(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	appLog.Info("loopr starting", "version", version)
	appLog.Info("effective config",
		"config_path", e.configPath,
		"events_path", e.eventsPath,
		"timezone", e.cfg.Timezone,
		"week_start", e.cfg.WeekStart,
		"refresh", e.cfg.RefreshCron,
		"lookahead", e.cfg.Lookahead(),
		"snooze", e.cfg.Snooze(),
		"listen", e.cfg.Listen,
	)

	svc := e.newService(reminder.Options{OnFire: notify})

	events, err := e.readEvents()
	if err != nil {
		return err
	}
	if err := svc.Replace(events); err != nil {
		appLog.Error("some events were rejected", err, "path", e.eventsPath)
	}

	// Root context with cancellation on SIGINT/SIGTERM.
	root, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := svc.Start(root); err != nil {
		return err
	}

	go func() {
		err := config.WatchFile(root, e.eventsPath, config.DefaultDebounce, func() {
			events, err := e.readEvents()
			if err != nil {
				appLog.Error("events reload failed", err, "path", e.eventsPath)
				return
			}
			if err := svc.Replace(events); err != nil {
				appLog.Error("some events were rejected", err, "path", e.eventsPath)
			}
		})
		if err != nil {
			appLog.Error("events watch stopped", err, "path", e.eventsPath)
		}
	}()

	serverDone := make(chan struct{})
	if e.cfg.Listen != "" {
		srv := web.NewServer(e.cfg, svc, e.writeEvents)
		go func() {
			defer close(serverDone)
			if err := srv.Serve(root); err != nil {
				appLog.Error("HTTP server error", err)
				cancel()
			}
		}()
	} else {
		close(serverDone)
	}

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLog.Warn("systemd notify failed", "err", err)
	} else if ok {
		appLog.Debug("systemd notified ready")
	}

	<-root.Done()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	<-serverDone

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := svc.Stop(stopCtx); err != nil {
		appLog.Warn("agenda stop timed out", "err", err)
	}
	appLog.Info("loopr exiting")
	return nil
}

// notify is the daemon's delivery: one line on stdout per reminder.
func notify(t reminder.Trigger) error {
	when := t.Start.Format("Mon 15:04")
	if !t.Event.Timed() {
		when = t.Start.Format("Mon Jan 2")
	}
	lead := "starts " + reminder.FormatLeadTime(t.Offset)
	if t.Offset > 0 {
		lead = "in " + reminder.FormatLeadTime(t.Offset)
	}
	_, err := fmt.Fprintf(os.Stdout, "[reminder] %s (%s) %s\n", t.Event.Title, when, lead)
	return err
}

func agendaCmd(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	start := time.Now().In(e.loc)
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, e.loc)
	if fromDate != "" {
		if start, err = time.ParseInLocation("2006-01-02", fromDate, e.loc); err != nil {
			return fmt.Errorf("--from: %w", err)
		}
	}
	if days < 1 {
		return fmt.Errorf("--days must be positive, got %d", days)
	}
	end := start.AddDate(0, 0, days)

	svc := e.newService(reminder.Options{})
	defer svc.Scheduler().CancelAll()
	events, err := e.readEvents()
	if err != nil {
		return err
	}
	if err := svc.Replace(events); err != nil {
		appLog.Warn("some events were rejected", "err", err)
	}

	res, err := svc.Occurrences(start, end)
	if err != nil {
		return err
	}
	if len(res.Entries) == 0 {
		fmt.Println("loopr: nothing scheduled")
		return nil
	}
	for _, en := range res.Entries {
		when := en.Start.Format("Mon 2006-01-02 15:04")
		if ev, ok := svc.Get(en.EventID); ok && !ev.Timed() {
			when = en.Start.Format("Mon 2006-01-02") + " all day"
		}
		fmt.Printf("%-26s %s\n", when, en.Title)
	}
	for _, id := range res.TruncatedEvents {
		fmt.Printf("loopr: %s has more occurrences than shown\n", id)
	}
	return nil
}

func pending(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	svc := e.newService(reminder.Options{})
	sched := svc.Scheduler()
	defer sched.CancelAll()

	events, err := e.readEvents()
	if err != nil {
		return err
	}
	if err := svc.Replace(events); err != nil {
		appLog.Warn("some events were rejected", "err", err)
	}

	var all []reminder.Trigger
	for _, ev := range svc.Events() {
		all = append(all, sched.Pending(ev.ID)...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FireAt.Before(all[j].FireAt) })

	now := time.Now()
	for _, t := range all {
		fmt.Printf("%-16s %-30s %s before\n",
			humanize.RelTime(now, t.FireAt, "ago", "from now"),
			t.Event.Title,
			reminder.FormatLeadTime(t.Offset),
		)
	}
	st := sched.Stats()
	fmt.Printf("loopr: %d reminders within %s\n", st.Armed, e.cfg.Lookahead())
	return nil
}

func validate(ctx *cli.Context) error {
	e, err := loadEnv(ctx)
	if err != nil {
		return err
	}
	events, err := e.readEvents()
	if err != nil {
		return err
	}

	now := time.Now()
	bad := 0
	for _, ev := range events {
		if err := ev.Check(); err != nil {
			fmt.Printf("%s: %v\n", ev.ID, err)
			bad++
			continue
		}
		res := recurrence.ValidateAt(ev.Recurrence, now)
		if !res.Valid {
			bad++
			for _, fe := range res.Errors {
				fmt.Printf("%s: %s\n", ev.ID, fe)
			}
			continue
		}
		rule, err := ev.Rule()
		if err != nil {
			fmt.Printf("%s: %v\n", ev.ID, err)
			bad++
			continue
		}
		fmt.Printf("%s: %s\n", ev.ID, recurrence.Summary(rule))
	}
	if bad > 0 {
		return fmt.Errorf("%d of %d events are invalid", bad, len(events))
	}
	return nil
}

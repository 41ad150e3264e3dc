package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()

	cfg, err := LoadFS(fsys, "/etc/loopr/config.yaml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.RefreshCron != "*/15 * * * *" || cfg.SnoozeMinutes != 5 || cfg.WeekStart != "monday" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	info, err := fsys.Stat("/etc/loopr/config.yaml")
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}
	leftovers, _ := afero.Glob(fsys, "/etc/loopr/.loopr-*")
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestLoadNormalizesPartialConfig(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	body := "timezone: Europe/Berlin\nweek_start: Sunday\ndefault_reminders: [30, -5, 0]\nsnooze_minutes: 0\n"
	if err := afero.WriteFile(fsys, "/c.yaml", []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFS(fsys, "/c.yaml")
	if err != nil {
		t.Fatalf("LoadFS: %v", err)
	}
	if cfg.WeekStartDay() != time.Sunday {
		t.Fatalf("week start = %v", cfg.WeekStartDay())
	}
	if got := cfg.DefaultReminders; len(got) != 2 || got[0] != 30 || got[1] != 0 {
		t.Fatalf("default reminders = %v", got)
	}
	if cfg.Snooze() != 5*time.Minute || cfg.Lookahead() != 168*time.Hour {
		t.Fatalf("snooze=%v lookahead=%v", cfg.Snooze(), cfg.Lookahead())
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "Europe/Berlin" {
		t.Fatalf("location = %v, %v", loc, err)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"yaml":     "timezone: [unterminated\n",
		"timezone": "timezone: Mars/Olympus\n",
	}
	for name, body := range tests {
		fsys := afero.NewMemMapFs()
		_ = afero.WriteFile(fsys, "/c.yaml", []byte(body), 0o600)
		if _, err := LoadFS(fsys, "/c.yaml"); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := LoadFS(afero.NewMemMapFs(), ""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()
	fsys := afero.NewMemMapFs()
	cfg := DefaultConfig()
	cfg.Timezone = "Asia/Seoul"
	cfg.DefaultReminders = []int{60, 1440}
	cfg.EventsFile = "/var/lib/loopr/events.ics"
	if err := SaveFS(fsys, "/c.yaml", cfg); err != nil {
		t.Fatalf("SaveFS: %v", err)
	}
	got, err := LoadFS(fsys, "/c.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if got.Timezone != "Asia/Seoul" || len(got.DefaultReminders) != 2 || got.EventsPath("/c.yaml") != "/var/lib/loopr/events.ics" {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestEventsPathRelative(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	if got := cfg.EventsPath("/home/me/.config/loopr/config.yaml"); got != "/home/me/.config/loopr/events.ics" {
		t.Fatalf("EventsPath = %q", got)
	}
}

func TestWatchFileDebounces(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.ics")
	if err := os.WriteFile(path, []byte("a"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- WatchFile(ctx, path, 50*time.Millisecond, func() { changed <- struct{}{} })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte{byte('b' + i)}, 0o600); err != nil {
			t.Fatal(err)
		}
	}
	_ = os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600)

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	select {
	case <-changed:
		t.Fatal("burst of writes was not debounced")
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("WatchFile: %v", err)
	}
}

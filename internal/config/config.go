package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimezone       = "UTC"
	defaultWeekStart      = "monday"
	defaultRefreshCron    = "*/15 * * * *"
	defaultLookaheadHours = 7 * 24
	defaultSnoozeMinutes  = 5
	defaultLogLevel       = "info"
	defaultEventsFile     = "events.ics"
	defaultAPIRatePerSec  = 10
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level configuration of the reminder daemon.
type Config struct {
	// Listen is the HTTP listen address for the API. Empty disables it.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone events without an explicit zone are
	// expanded in (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart aligns weekly series with an interval above one.
	// Supported values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for re-arming reminders as occurrences come into the lookahead.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LookaheadHours bounds how far ahead reminder timers are armed.
	LookaheadHours int `yaml:"lookahead_hours" json:"lookahead_hours"`

	// DefaultReminders are lead times in minutes applied to events that
	// carry none.
	DefaultReminders []int `yaml:"default_reminders" json:"default_reminders"`

	// SnoozeMinutes is the delay used when a reminder is snoozed without an
	// explicit value.
	SnoozeMinutes int `yaml:"snooze_minutes" json:"snooze_minutes"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	// EventsFile is the .ics file holding the event set. Relative paths are
	// resolved against the config file's directory.
	EventsFile string `yaml:"events_file" json:"events_file"`

	// APIRatePerSec caps event and snooze writes through the API. Bursts of
	// the same size are allowed.
	APIRatePerSec int `yaml:"api_rate_per_sec" json:"api_rate_per_sec"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:         defaultTimezone,
		WeekStart:        defaultWeekStart,
		RefreshCron:      defaultRefreshCron,
		LookaheadHours:   defaultLookaheadHours,
		DefaultReminders: []int{15},
		SnoozeMinutes:    defaultSnoozeMinutes,
		LogLevel:         defaultLogLevel,
		EventsFile:       defaultEventsFile,
		APIRatePerSec:    defaultAPIRatePerSec,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		c.WeekStart = defaultWeekStart
	}
	if strings.TrimSpace(c.RefreshCron) == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.LookaheadHours <= 0 {
		c.LookaheadHours = defaultLookaheadHours
	}
	if c.DefaultReminders == nil {
		c.DefaultReminders = []int{15}
	}
	kept := c.DefaultReminders[:0]
	for _, m := range c.DefaultReminders {
		if m >= 0 {
			kept = append(kept, m)
		}
	}
	c.DefaultReminders = kept
	if c.SnoozeMinutes < 1 {
		c.SnoozeMinutes = defaultSnoozeMinutes
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.EventsFile == "" {
		c.EventsFile = defaultEventsFile
	}
	if c.APIRatePerSec <= 0 {
		c.APIRatePerSec = defaultAPIRatePerSec
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WeekStartDay maps WeekStart to a weekday.
func (c *Config) WeekStartDay() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

func (c *Config) Lookahead() time.Duration {
	return time.Duration(c.LookaheadHours) * time.Hour
}

func (c *Config) Snooze() time.Duration {
	return time.Duration(c.SnoozeMinutes) * time.Minute
}

// EventsPath returns EventsFile resolved against the directory of the
// config file at configPath.
func (c *Config) EventsPath(configPath string) string {
	if filepath.IsAbs(c.EventsFile) {
		return c.EventsFile
	}
	return filepath.Join(filepath.Dir(configPath), c.EventsFile)
}

// Load loads configuration from the given YAML path on the OS filesystem.
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS loads configuration from path on fsys.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func LoadFS(fsys afero.Fs, path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := SaveFS(fsys, path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if _, err := cfg.Location(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path on the OS filesystem.
func Save(path string, cfg *Config) error {
	return SaveFS(afero.NewOsFs(), path, cfg)
}

// SaveFS writes the given configuration to path on fsys.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func SaveFS(fsys afero.Fs, path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	if err := fsys.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteAtomic(fsys, path, data, 0o600)
}

// WriteAtomic replaces path with data via a temp file in the same directory
// and a rename, so readers and file watchers never see a partial write.
func WriteAtomic(fsys afero.Fs, path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(fsys, dir, ".loopr-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer fsys.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := fsys.Chmod(tmpName, perm); err != nil {
		return err
	}
	return fsys.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

package ics

import (
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"loopr/internal/config"
	appLog "loopr/internal/log"
	"loopr/internal/model"
)

// LoadFile reads and parses the event file at path. A missing file is an
// empty event set.
func LoadFile(fsys afero.Fs, path string, loc *time.Location) ([]model.Event, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("events file not found, starting empty", "path", path)
			return nil, nil
		}
		return nil, err
	}
	return Parse(data, loc)
}

// SaveFile encodes events and atomically replaces the file at path.
func SaveFile(fsys afero.Fs, path string, events []model.Event) error {
	body, err := Encode(events, EncodeOptions{})
	if err != nil {
		return err
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := config.WriteAtomic(fsys, path, body, 0o644); err != nil {
		return err
	}
	appLog.Debug("events file written", "path", path, "events", len(events))
	return nil
}

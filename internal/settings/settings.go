// Package settings serves user settings from a JSON file and reloads
// them when the file changes, so toggling auto-mark takes effect in
// the middle of an episode.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Values are the user-facing toggles.
type Values struct {
	AutoMarkEnabled bool `json:"autoMarkEnabled"`
	Debug           bool `json:"debug"`
}

// Service watches the settings file.
type Service struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Values

	watcher *fsnotify.Watcher
}

// New loads the settings file and starts watching it. A missing file
// is not an error; defaults apply until it appears.
func New(path string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{path: path, logger: logger}
	if err := s.reload(); err != nil {
		logger.Warn("settings file unreadable, using defaults", "path", path, "error", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("settings watcher: %w", err)
	}

	// Watch the directory, not the file: editors and atomic writes
	// replace the inode.
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("settings watch: %w", err)
	}

	s.watcher = watcher
	go s.watch()

	return s, nil
}

func (s *Service) watch() {
	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Warn("settings reload failed", "error", err)
				continue
			}
			s.logger.Debug("settings reloaded", "values", s.Get())
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("settings watcher error", "error", err)
		}
	}
}

func (s *Service) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.current = Values{}
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var v Values
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("parsing %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
	return nil
}

// Get returns the current settings snapshot.
func (s *Service) Get() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// AutoMarkEnabled satisfies the marker's enabled check.
func (s *Service) AutoMarkEnabled(ctx context.Context) (bool, error) {
	return s.Get().AutoMarkEnabled, nil
}

// Set persists new settings atomically and updates the snapshot
// without waiting for the watcher to fire.
func (s *Service) Set(v Values) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("writing settings: %w", err)
	}

	s.mu.Lock()
	s.current = v
	s.mu.Unlock()
	return nil
}

// Close stops the watcher.
func (s *Service) Close() error {
	if s.watcher == nil {
		return nil
	}
	return s.watcher.Close()
}

// Package prefs persists small operator preferences to a JSON file.
package prefs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// data is the on-disk shape. Unknown fields from newer versions are
// dropped on rewrite; nothing here is precious.
type data struct {
	Favorites   []string `json:"favorites,omitempty"`
	LastRunID   string   `json:"last_run_id,omitempty"`
	PageSize    int      `json:"page_size,omitempty"`
	LastOpened  string   `json:"last_opened,omitempty"`
	ThemeDark   bool     `json:"theme_dark,omitempty"`
	SidebarOpen *bool    `json:"sidebar_open,omitempty"`
}

// Store holds preferences in memory and writes through to disk.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	d    data
	favs map[string]struct{}
}

// Open loads preferences from path, creating parent directories as
// needed. A missing or corrupt file yields defaults.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create prefs dir: %w", err)
	}

	s := &Store{path: path, logger: logger, favs: make(map[string]struct{})}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("read prefs: %w", err)
	default:
		if err := json.Unmarshal(raw, &s.d); err != nil {
			logger.Warn("prefs file is corrupt, starting fresh", "path", path, "error", err)
			s.d = data{}
		}
	}
	for _, id := range s.d.Favorites {
		s.favs[id] = struct{}{}
	}
	return s, nil
}

// flushLocked writes the current state to disk atomically.
func (s *Store) flushLocked() {
	s.d.Favorites = s.d.Favorites[:0]
	for id := range s.favs {
		s.d.Favorites = append(s.d.Favorites, id)
	}
	sort.Strings(s.d.Favorites)

	raw, err := json.MarshalIndent(s.d, "", "  ")
	if err != nil {
		s.logger.Error("marshal prefs", "error", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		s.logger.Error("write prefs", "path", s.path, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("replace prefs", "path", s.path, "error", err)
	}
}

// ToggleFavorite flips a workflow's favorite flag and reports the new
// state.
func (s *Store) ToggleFavorite(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.favs[workflowID]; ok {
		delete(s.favs, workflowID)
		s.flushLocked()
		return false
	}
	s.favs[workflowID] = struct{}{}
	s.flushLocked()
	return true
}

// IsFavorite reports whether a workflow is starred.
func (s *Store) IsFavorite(workflowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.favs[workflowID]
	return ok
}

// Favorites returns all starred workflow ids, sorted.
func (s *Store) Favorites() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.favs))
	for id := range s.favs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetLastRunID records the most recent execution for reopening the
// monitor panel.
func (s *Store) SetLastRunID(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.LastRunID = executionID
	s.flushLocked()
}

// LastRunID returns the most recent execution id, if any.
func (s *Store) LastRunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.LastRunID
}

// SetPageSize records the history page size preference.
func (s *Store) SetPageSize(n int) {
	if n < 1 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.PageSize = n
	s.flushLocked()
}

// PageSize returns the preferred history page size, or fallback.
func (s *Store) PageSize(fallback int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.d.PageSize < 1 {
		return fallback
	}
	return s.d.PageSize
}

// SetLastOpened records the workflow last loaded into the editor.
func (s *Store) SetLastOpened(workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.LastOpened = workflowID
	s.flushLocked()
}

// LastOpened returns the workflow last loaded into the editor.
func (s *Store) LastOpened() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.LastOpened
}

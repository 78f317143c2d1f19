package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/casedesk/internal/types"
)

// DefaultWatchSchedule refreshes a watched case every minute.
const DefaultWatchSchedule = "@every 1m"

// Watch is a case whose thread is refreshed on a schedule.
type Watch struct {
	Kind     types.CaseKind `json:"kind"`
	Case     types.CaseID   `json:"case"`
	Schedule string         `json:"schedule"`
	Enabled  bool           `json:"enabled"`
	AddedAt  time.Time      `json:"added_at"`
}

// Name identifies the watch, e.g. "request:42".
func (w *Watch) Name() string {
	return WatchName(w.Kind, w.Case)
}

func WatchName(kind types.CaseKind, id types.CaseID) string {
	return string(kind) + ":" + string(id)
}

// WatchStore is a JSON-file-backed store for watches.
type WatchStore struct {
	path string
	mu   sync.RWMutex
}

// NewWatchStore creates a new file-backed WatchStore at the given file path.
func NewWatchStore(path string) *WatchStore {
	return &WatchStore{path: path}
}

// Path returns the file path used by this store.
func (s *WatchStore) Path() string {
	return s.path
}

// List returns all watches. Returns an empty slice if the file doesn't exist.
func (s *WatchStore) List() ([]*Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches, err := s.load()
	if err != nil {
		return nil, err
	}
	if watches == nil {
		return []*Watch{}, nil
	}
	return watches, nil
}

// Get finds a watch by name. Returns an error if not found.
func (s *WatchStore) Get(name string) (*Watch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	watches, err := s.load()
	if err != nil {
		return nil, err
	}

	for _, w := range watches {
		if w.Name() == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("watch not found: %s", name)
}

// Add appends a watch. An empty schedule gets DefaultWatchSchedule.
// Returns an error if the case is already watched.
func (s *WatchStore) Add(w *Watch) error {
	if !w.Kind.Valid() || w.Case == "" {
		return fmt.Errorf("invalid watch %q", w.Name())
	}
	if w.Schedule == "" {
		w.Schedule = DefaultWatchSchedule
	}
	if w.AddedAt.IsZero() {
		w.AddedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}

	for _, existing := range watches {
		if existing.Name() == w.Name() {
			return fmt.Errorf("watch already exists: %s", w.Name())
		}
	}

	watches = append(watches, w)
	return s.save(watches)
}

// Remove deletes a watch by name. Returns an error if not found.
func (s *WatchStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}

	for i, w := range watches {
		if w.Name() == name {
			watches = append(watches[:i], watches[i+1:]...)
			return s.save(watches)
		}
	}
	return fmt.Errorf("watch not found: %s", name)
}

// SetEnabled toggles the enabled flag for a watch. Returns an error if not found.
func (s *WatchStore) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	watches, err := s.load()
	if err != nil {
		return err
	}

	for _, w := range watches {
		if w.Name() == name {
			w.Enabled = enabled
			return s.save(watches)
		}
	}
	return fmt.Errorf("watch not found: %s", name)
}

// load reads the JSON file and returns the watch list. Returns nil if the file doesn't exist.
func (s *WatchStore) load() ([]*Watch, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read watches file: %w", err)
	}

	var watches []*Watch
	if err := json.Unmarshal(data, &watches); err != nil {
		return nil, fmt.Errorf("unmarshal watches: %w", err)
	}
	return watches, nil
}

// save writes the watch list to disk using atomic write (temp file + rename).
func (s *WatchStore) save(watches []*Watch) error {
	data, err := json.MarshalIndent(watches, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watches: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watches dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp watches file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp watches file: %w", err)
	}
	return nil
}

package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/keyhaven-io/keyhaven-walletd/internal/constants"
)

// Store is a single-writer JSON snapshot file. The lifecycle manager owns all
// writes; the only read happens at process start.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore creates a store backed by state.json under the app config dir.
func NewStore() (*Store, error) {
	dir, err := ConfigDir(constants.AppName)
	if err != nil {
		return nil, err
	}
	return NewStoreAt(filepath.Join(dir, constants.StateFile)), nil
}

// NewStoreAt creates a store at an explicit path.
func NewStoreAt(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Save replaces the snapshot on disk. The write is atomic: readers never see
// a partially written snapshot.
func (s *Store) Save(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return AtomicWriteFile(s.path, b, constants.FilePerm)
}

// Load reads the snapshot into out. A missing file leaves out untouched and
// returns found=false (first run).
func (s *Store) Load(out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read snapshot: %w", err)
	}

	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("parse snapshot: %w", err)
	}
	return true, nil
}

// Package snapshot persists orchestrator state to disk atomically and
// reloads it on restart.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/orkestra-dev/orkestra/pkg/types"
)

// Store writes and reads the orchestrator's state snapshot file.
type Store struct {
	path string
}

// New creates a Store writing to path.
func New(path string) *Store {
	return &Store{path: path}
}

// Save atomically writes state to the store's path: write to a
// temp file in the same directory, then rename, so a crash never
// leaves a partially written snapshot.
func (s *Store) Save(state *types.SystemState) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("snapshot: rename into place: %w", err)
	}
	return nil
}

// Load reads and decodes the snapshot file. Returns an error
// satisfying os.IsNotExist when no snapshot exists yet.
func (s *Store) Load() (*types.SystemState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	var state types.SystemState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", s.path, err)
	}
	return &state, nil
}

// Exists reports whether a snapshot file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

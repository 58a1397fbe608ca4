package position

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists positions as a JSON file. Writes go to a temp file in
// the same directory followed by a rename, so a crash mid-write never leaves
// a truncated state file.
type FileStore struct {
	path string
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Save(positions []Position) error {
	data, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling positions: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".positions-*.tmp")
	if err != nil {
		return fmt.Errorf("error creating temp state file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error writing state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("error syncing state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error closing state file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("error replacing state file: %w", err)
	}
	return nil
}

// Load reads the state file. A missing file is an empty ledger; malformed
// JSON is an error the caller must treat as fatal.
func (s *FileStore) Load() ([]Position, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading state file: %w", err)
	}

	var positions []Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("error parsing state file %s: %w", s.path, err)
	}
	return positions, nil
}

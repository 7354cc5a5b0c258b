package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/baouih/binance-sub015/internal/trailing"
)

// FileBackend stores snapshots as JSON files. Writes go through a temp file
// and rename so a crash mid-write never leaves a truncated snapshot.
type FileBackend struct {
	stateFile     string
	positionsFile string
}

// NewFileBackend creates a file backend writing the two snapshot files.
func NewFileBackend(stateFile, positionsFile string) *FileBackend {
	return &FileBackend{stateFile: stateFile, positionsFile: positionsFile}
}

// SaveState writes the combined manager state snapshot.
func (f *FileBackend) SaveState(state State) error {
	return writeJSON(f.stateFile, state)
}

// LoadState reads the last state snapshot. A missing file is not an error.
func (f *FileBackend) LoadState() (*State, error) {
	data, err := os.ReadFile(f.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &state, nil
}

// SavePositions writes the tracked position snapshot.
func (f *FileBackend) SavePositions(positions []trailing.Position) error {
	return writeJSON(f.positionsFile, positions)
}

// LoadPositions reads the last position snapshot. A missing file is not an
// error.
func (f *FileBackend) LoadPositions() ([]trailing.Position, error) {
	data, err := os.ReadFile(f.positionsFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read positions file: %w", err)
	}

	var positions []trailing.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, fmt.Errorf("failed to parse positions file: %w", err)
	}
	return positions, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

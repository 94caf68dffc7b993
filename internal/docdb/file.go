// Handles reading and rewriting one JSON array file.

package docdb

import (
	"encoding/json"
	"fmt"
	"os"
)

// jsonFile is one of a collection's persisted logs. The whole array is
// rewritten on every change.
type jsonFile[T any] struct {
	path string
}

// load returns the rows in the file. A missing file has no rows.
func (f jsonFile[T]) load() ([]T, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", f.path, err)
	}
	return rows, nil
}

// replace writes rows to a temporary file and renames it over the target.
func (f jsonFile[T]) replace(rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	data, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "marshal", Path: f.path, Err: err}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil { //nolint:gosec // G306: data files are not secret
		return &PersistenceError{Op: "write", Path: tmp, Err: err}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return &PersistenceError{Op: "rename", Path: f.path, Err: err}
	}
	return nil
}

func (f jsonFile[T]) remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return &PersistenceError{Op: "remove", Path: f.path, Err: err}
	}
	return nil
}

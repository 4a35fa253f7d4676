package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the learning store and mission trace to the two JSON
// files named in spec §6 (memory.json, trace.json), writing atomically via
// temp-file-plus-rename exactly as the teacher's pattern for durable writes
// (see resilience.ReconcilePendingWrites, which treats a write as safe only
// once committed) implies for on-disk state: never leave a half-written
// file for the next startup to trip over.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: failed to create %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// LoadJSON decodes name into v. A missing file is not an error: v is left
// unmodified so the caller starts from zero value, matching spec §4.5's
// "merge memory and trace files (if present), ignoring parse errors."
func (f *FileStore) LoadJSON(name string, v interface{}) error {
	path := filepath.Join(f.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil // ignore parse/read errors per spec §4.5
	}
	_ = json.Unmarshal(data, v) // ignore parse errors per spec §4.5
	return nil
}

// SaveJSON writes v to name atomically: marshal to a temp file in the same
// directory, fsync, then rename over the target. Rename is atomic on the
// same filesystem, so a concurrent reader never observes a partial file.
func (f *FileStore) SaveJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: failed to marshal %s: %w", name, err)
	}

	path := filepath.Join(f.dir, name)
	tmp, err := os.CreateTemp(f.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("filestore: failed to create temp file for %s: %w", name, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: failed to write temp file for %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: failed to sync temp file for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: failed to close temp file for %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("filestore: failed to rename temp file for %s: %w", name, err)
	}
	return nil
}

package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"LegSentinel/internal/model"
)

// FileStore keeps the snapshot in a JSON file. Writes go to a temp file
// that is renamed over the target; the previous version is kept as .bak.
type FileStore struct {
	path string
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create state dir")
		}
	}
	return &FileStore{path: path}, nil
}

// Save writes the snapshot atomically.
func (f *FileStore) Save(s *model.Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "write snapshot")
	}
	if _, err := os.Stat(f.path); err == nil {
		if err := copyFile(f.path, f.path+".bak"); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return errors.Wrap(err, "replace snapshot")
	}
	return nil
}

// Load reads the snapshot, falling back to the backup if the main file is
// unreadable.
func (f *FileStore) Load() (*model.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "read snapshot")
	}
	s, err := decode(data)
	if err == nil {
		return s, nil
	}
	backup, berr := os.ReadFile(f.path + ".bak")
	if berr != nil {
		return nil, err
	}
	return decode(backup)
}

// Close is a no-op.
func (f *FileStore) Close() error { return nil }

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return errors.Wrap(err, "read previous snapshot")
	}
	return errors.Wrap(os.WriteFile(dst, data, 0o644), "write backup")
}

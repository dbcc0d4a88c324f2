package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// FileStore keeps bundles on local disk as <dir>/<version>/<kind>.json.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) path(version, kind string) string {
	return filepath.Join(s.dir, version, kind+".json")
}

// Has reports whether every blob of version is present.
func (s *FileStore) Has(version string) bool {
	for _, kind := range Kinds {
		if _, err := os.Stat(s.path(version, kind)); err != nil {
			return false
		}
	}
	return true
}

// Read loads every blob of version.
func (s *FileStore) Read(version string) (map[string][]byte, error) {
	blobs := make(map[string][]byte, len(Kinds))
	for _, kind := range Kinds {
		data, err := os.ReadFile(s.path(version, kind))
		if err != nil {
			return nil, err
		}
		blobs[kind] = data
	}
	return blobs, nil
}

// WriteBlob stores one blob, replacing any previous copy atomically.
func (s *FileStore) WriteBlob(version, kind string, data []byte) error {
	if err := os.MkdirAll(filepath.Join(s.dir, version), 0o755); err != nil {
		return err
	}
	dst := s.path(version, kind)
	tmp, err := os.CreateTemp(filepath.Dir(dst), kind+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Write stores every blob of a bundle.
func (s *FileStore) Write(version string, blobs map[string][]byte) error {
	for _, kind := range Kinds {
		data, ok := blobs[kind]
		if !ok {
			return fmt.Errorf("missing %s blob", kind)
		}
		if err := s.WriteBlob(version, kind, data); err != nil {
			return fmt.Errorf("write %s: %w", kind, err)
		}
	}
	return nil
}

// Versions lists complete local bundles in lexical order.
func (s *FileStore) Versions() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && s.Has(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

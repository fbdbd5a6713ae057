package storage

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	fileFormatVersion = "1"
	lockTimeout       = 5 * time.Second
)

// FileStore is a DocumentStore held in memory and written to a single JSON
// file after every mutation. An advisory lock next to the file keeps a second
// process out while the store is open.
type FileStore struct {
	*MemoryStore
	path string
	lock *FileLock
}

// fileData is the top-level JSON structure.
type fileData struct {
	Version     string                         `json:"version"`
	UpdatedAt   time.Time                      `json:"updated_at"`
	Collections map[string]map[string]Document `json:"collections"`
}

// NewFileStore opens the store at path, creating the file if it doesn't exist.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}

	s := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
		lock:        NewFileLock(path),
	}

	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}

	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	s.MemoryStore.persist = s.save

	return s, nil
}

// load reads the JSON file into memory. A missing file is written empty right
// away to surface permission errors at open time.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.save(s.MemoryStore.data)
		}
		return &StorageError{Op: "read", Entity: "store", ID: s.path, Err: err}
	}

	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return &StorageError{Op: "read", Entity: "store", ID: s.path, Err: ErrStorageCorrupt}
	}
	if fd.Collections != nil {
		s.MemoryStore.data = fd.Collections
	}
	return nil
}

// save persists the tree atomically.
func (s *FileStore) save(tree map[string]map[string]Document) error {
	return writeFileAtomic(s.path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(fileData{
			Version:     fileFormatVersion,
			UpdatedAt:   time.Now().UTC(),
			Collections: tree,
		})
	})
}

// Close releases the file lock.
func (s *FileStore) Close() error {
	if err := s.MemoryStore.Close(); err != nil {
		return err
	}
	return s.lock.Unlock()
}

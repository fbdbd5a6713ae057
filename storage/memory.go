package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-process DocumentStore. It backs tests and debug runs,
// and FileStore persists its tree after every mutation.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[string]Document
	closed bool

	// persist, when set, runs under the write lock after each mutation. A
	// failure is returned to the caller; the in-memory change stays.
	persist func(map[string]map[string]Document) error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]Document)}
}

func (s *MemoryStore) Get(ctx context.Context, path string) (Document, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return nil, &StorageError{Op: "get", Entity: path, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &StorageError{Op: "get", Entity: collection, ID: id, Err: ErrClosed}
	}
	doc, ok := s.data[collection][id]
	if !ok {
		return nil, &StorageError{Op: "get", Entity: collection, ID: id, Err: ErrNotFound}
	}
	// Stored documents are normalized, so a copy cannot fail.
	out, _ := normalize(doc)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, doc Document, opts ...SetOption) error {
	o := applySetOptions(opts)
	return s.mutate("set", path, func(existing Document, found bool) (Document, error) {
		in, err := normalize(doc)
		if err != nil {
			return nil, err
		}
		if o.merge && found {
			mergeInto(existing, in)
			return existing, nil
		}
		return in, nil
	})
}

func (s *MemoryStore) Update(ctx context.Context, path string, fields Document) error {
	return s.mutate("update", path, func(existing Document, found bool) (Document, error) {
		if !found {
			return nil, ErrNotFound
		}
		in, err := normalize(fields)
		if err != nil {
			return nil, err
		}
		mergeInto(existing, in)
		return existing, nil
	})
}

func (s *MemoryStore) ArrayUnion(ctx context.Context, path, field string, values ...any) error {
	return s.mutate("union", path, func(existing Document, found bool) (Document, error) {
		in, err := normalizeValues(values)
		if err != nil {
			return nil, err
		}
		if !found {
			existing = Document{}
		}
		unionInto(existing, field, in)
		return existing, nil
	})
}

func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return &StorageError{Op: "delete", Entity: path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StorageError{Op: "delete", Entity: collection, ID: id, Err: ErrClosed}
	}
	if _, ok := s.data[collection][id]; !ok {
		return nil
	}
	delete(s.data[collection], id)
	return s.save("delete", collection, id)
}

func (s *MemoryStore) List(ctx context.Context, collection string) (map[string]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, &StorageError{Op: "list", Entity: collection, Err: ErrClosed}
	}
	out := make(map[string]Document, len(s.data[collection]))
	for id, doc := range s.data[collection] {
		out[id], _ = normalize(doc)
	}
	return out, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// mutate applies fn to the document at path under the write lock. fn receives
// a private copy and returns the document to store.
func (s *MemoryStore) mutate(op, path string, fn func(existing Document, found bool) (Document, error)) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return &StorageError{Op: op, Entity: path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &StorageError{Op: op, Entity: collection, ID: id, Err: ErrClosed}
	}

	existing, found := s.data[collection][id]
	if found {
		existing, _ = normalize(existing)
	}
	next, err := fn(existing, found)
	if err != nil {
		return &StorageError{Op: op, Entity: collection, ID: id, Err: err}
	}

	if s.data[collection] == nil {
		s.data[collection] = make(map[string]Document)
	}
	s.data[collection][id] = next
	return s.save(op, collection, id)
}

func (s *MemoryStore) save(op, collection, id string) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist(s.data); err != nil {
		return &StorageError{Op: op, Entity: collection, ID: id, Err: err}
	}
	return nil
}

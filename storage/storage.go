// Package storage provides the document-store contract the ingestion pipeline
// writes through, the typed records it persists, and the backends that hold
// them.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested document was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("storage: store closed")
)

// StorageError wraps storage errors with operation and path context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("get", "set", "update", "union", "delete", "list").
	Op string
	// Entity is the collection ("videos", "playlists", "meta").
	Entity string
	// ID is the document ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s/%s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// Document is a schemaless record. Values use JSON types: string, float64,
// bool, nil, []any and map[string]any.
type Document = map[string]any

// Collection names.
const (
	Videos    = "videos"
	Playlists = "playlists"
	Meta      = "meta"
)

// VideoPath returns the document path of a video record.
func VideoPath(id string) string { return Videos + "/" + id }

// PlaylistPath returns the document path of a playlist record.
func PlaylistPath(id string) string { return Playlists + "/" + id }

// RunMetaPath is the path of the run metadata singleton.
const RunMetaPath = Meta + "/run"

// SplitPath splits "collection/id" into its parts.
func SplitPath(path string) (collection, id string, err error) {
	collection, id, ok := strings.Cut(path, "/")
	if !ok || collection == "" || id == "" || strings.Contains(id, "/") {
		return "", "", fmt.Errorf("%w: path %q", ErrInvalidInput, path)
	}
	return collection, id, nil
}

// SetOption adjusts a Set call.
type SetOption func(*setOptions)

type setOptions struct {
	merge bool
}

// Merge makes Set merge the given fields into an existing document instead of
// replacing it. Nested maps are merged recursively; every other value,
// including arrays, replaces the stored value.
func Merge() SetOption {
	return func(o *setOptions) { o.merge = true }
}

func applySetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DocumentStore is the contract every backend implements. Paths are
// "collection/id". Implementations must be safe for concurrent use.
type DocumentStore interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)
	// Set replaces the document at path, or merges into it with Merge().
	Set(ctx context.Context, path string, doc Document, opts ...SetOption) error
	// Update merges fields into an existing document; ErrNotFound if absent.
	Update(ctx context.Context, path string, fields Document) error
	// ArrayUnion appends values missing from the array field, creating the
	// document or field when absent.
	ArrayUnion(ctx context.Context, path, field string, values ...any) error
	// Delete removes the document at path. Deleting a missing document is not an error.
	Delete(ctx context.Context, path string) error
	// List returns every document of a collection keyed by document ID.
	List(ctx context.Context, collection string) (map[string]Document, error)
	// Close releases any resources held by the store.
	Close() error
}

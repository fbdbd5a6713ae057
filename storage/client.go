package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ytingest/quota"
)

// Client gates every store call through the run's quota counters: reads
// count against quota.Read and writes against quota.Write, before the call
// reaches the store. A breached ceiling returns a quota error and the store
// is not touched.
//
// The Untracked variants skip counting. They are reserved for run metadata,
// which must be written even after the budget is spent.
type Client struct {
	store    DocumentStore
	counters *quota.Counters

	// metaMu scopes the load-mutate-store of the run metadata singleton.
	metaMu sync.Mutex
}

// NewClient wraps store. A nil counters value disables quota tracking.
func NewClient(store DocumentStore, counters *quota.Counters) *Client {
	return &Client{store: store, counters: counters}
}

// Store returns the wrapped backend.
func (c *Client) Store() DocumentStore { return c.store }

// Counters returns the run's quota counters.
func (c *Client) Counters() *quota.Counters { return c.counters }

func (c *Client) read() error  { return c.counters.Increment(quota.Read, 1) }
func (c *Client) write() error { return c.counters.Increment(quota.Write, 1) }

// Get reads the document at path.
func (c *Client) Get(ctx context.Context, path string) (Document, error) {
	if err := c.read(); err != nil {
		return nil, err
	}
	return c.store.Get(ctx, path)
}

// Set writes the document at path.
func (c *Client) Set(ctx context.Context, path string, doc Document, opts ...SetOption) error {
	if err := c.write(); err != nil {
		return err
	}
	return c.store.Set(ctx, path, doc, opts...)
}

// Update merges fields into the existing document at path.
func (c *Client) Update(ctx context.Context, path string, fields Document) error {
	if err := c.write(); err != nil {
		return err
	}
	return c.store.Update(ctx, path, fields)
}

// ArrayUnion appends values missing from the array field at path.
func (c *Client) ArrayUnion(ctx context.Context, path, field string, values ...any) error {
	if err := c.write(); err != nil {
		return err
	}
	return c.store.ArrayUnion(ctx, path, field, values...)
}

// Delete removes the document at path.
func (c *Client) Delete(ctx context.Context, path string) error {
	if err := c.write(); err != nil {
		return err
	}
	return c.store.Delete(ctx, path)
}

// List enumerates a collection. It counts as one read.
func (c *Client) List(ctx context.Context, collection string) (map[string]Document, error) {
	if err := c.read(); err != nil {
		return nil, err
	}
	return c.store.List(ctx, collection)
}

// GetUntracked reads without counting.
func (c *Client) GetUntracked(ctx context.Context, path string) (Document, error) {
	return c.store.Get(ctx, path)
}

// SetUntracked writes without counting.
func (c *Client) SetUntracked(ctx context.Context, path string, doc Document, opts ...SetOption) error {
	return c.store.Set(ctx, path, doc, opts...)
}

// GetVideo returns the stored video record, or an error matching ErrNotFound.
func (c *Client) GetVideo(ctx context.Context, id string) (*Video, error) {
	doc, err := c.Get(ctx, VideoPath(id))
	if err != nil {
		return nil, err
	}
	var v Video
	if err := FromDocument(doc, &v); err != nil {
		return nil, &StorageError{Op: "get", Entity: Videos, ID: id, Err: err}
	}
	return &v, nil
}

// MergeVideo merge-writes v. Empty omitempty fields, notably the transcript
// and membership arrays, keep their stored values.
func (c *Client) MergeVideo(ctx context.Context, v *Video) error {
	doc, err := ToDocument(v)
	if err != nil {
		return &StorageError{Op: "set", Entity: Videos, ID: v.ID, Err: err}
	}
	delete(doc, "playlists")
	delete(doc, "related")
	return c.Set(ctx, VideoPath(v.ID), doc, Merge())
}

// AddVideoPlaylists unions playlist IDs into a video's membership.
func (c *Client) AddVideoPlaylists(ctx context.Context, videoID string, playlistIDs ...string) error {
	return c.ArrayUnion(ctx, VideoPath(videoID), "playlists", toAny(playlistIDs)...)
}

// AddRelatedVideos unions related video IDs into a video's related field.
func (c *Client) AddRelatedVideos(ctx context.Context, videoID string, related ...string) error {
	return c.ArrayUnion(ctx, VideoPath(videoID), "related", toAny(related)...)
}

// SetPlaylist writes a playlist record, replacing the previous one.
func (c *Client) SetPlaylist(ctx context.Context, p *Playlist) error {
	doc, err := ToDocument(p)
	if err != nil {
		return &StorageError{Op: "set", Entity: Playlists, ID: p.ID, Err: err}
	}
	return c.Set(ctx, PlaylistPath(p.ID), doc)
}

// PlaylistExists reports whether a playlist record is stored. It counts as a
// read.
func (c *Client) PlaylistExists(ctx context.Context, id string) (bool, error) {
	_, err := c.Get(ctx, PlaylistPath(id))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	}
	return false, err
}

// GetRunMeta reads the run metadata without counting. A missing record
// yields an empty RunMeta.
func (c *Client) GetRunMeta(ctx context.Context) (*RunMeta, error) {
	doc, err := c.GetUntracked(ctx, RunMetaPath)
	if errors.Is(err, ErrNotFound) {
		return &RunMeta{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m RunMeta
	if err := FromDocument(doc, &m); err != nil {
		return nil, &StorageError{Op: "get", Entity: Meta, ID: "run", Err: err}
	}
	return &m, nil
}

// EditRunMeta loads the run metadata, applies fn and stores the result, all
// under one lock and without counting against quota. An error from fn leaves
// the stored record untouched.
func (c *Client) EditRunMeta(ctx context.Context, fn func(*RunMeta) error) error {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	m, err := c.GetRunMeta(ctx)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return fmt.Errorf("edit run metadata: %w", err)
	}
	doc, err := ToDocument(m)
	if err != nil {
		return &StorageError{Op: "set", Entity: Meta, ID: "run", Err: err}
	}
	return c.SetUntracked(ctx, RunMetaPath, doc)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

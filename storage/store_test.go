package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the DocumentStore contract against a backend.
func runStoreContract(t *testing.T, open func(t *testing.T) DocumentStore) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		s := open(t)
		_, err := s.Get(ctx, "videos/nope")
		assert.ErrorIs(t, err, ErrNotFound)

		var storErr *StorageError
		require.ErrorAs(t, err, &storErr)
		assert.Equal(t, "videos", storErr.Entity)
		assert.Equal(t, "nope", storErr.ID)
	})

	t.Run("invalid path", func(t *testing.T) {
		s := open(t)
		for _, p := range []string{"videos", "/x", "videos/", "a/b/c"} {
			_, err := s.Get(ctx, p)
			assert.ErrorIs(t, err, ErrInvalidInput, p)
		}
	})

	t.Run("set replaces", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "videos/v1", Document{"title": "a", "tags": []string{"x"}}))
		require.NoError(t, s.Set(ctx, "videos/v1", Document{"title": "b"}))

		doc, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		assert.Equal(t, Document{"title": "b"}, doc)
	})

	t.Run("set merge keeps other fields", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "videos/v1", Document{
			"title":     "a",
			"playlists": []any{"p1"},
			"stats":     map[string]any{"views": 1, "likes": 2},
		}))
		require.NoError(t, s.Set(ctx, "videos/v1", Document{
			"title": "b",
			"stats": map[string]any{"views": 5},
		}, Merge()))

		doc, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		assert.Equal(t, "b", doc["title"])
		assert.Equal(t, []any{"p1"}, doc["playlists"])
		assert.Equal(t, map[string]any{"views": float64(5), "likes": float64(2)}, doc["stats"])
	})

	t.Run("merge creates", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "playlists/p1", Document{"title": "x"}, Merge()))
		doc, err := s.Get(ctx, "playlists/p1")
		require.NoError(t, err)
		assert.Equal(t, "x", doc["title"])
	})

	t.Run("update requires existing", func(t *testing.T) {
		s := open(t)
		assert.ErrorIs(t, s.Update(ctx, "videos/v1", Document{"title": "x"}), ErrNotFound)

		require.NoError(t, s.Set(ctx, "videos/v1", Document{"title": "a", "slug": "a"}))
		require.NoError(t, s.Update(ctx, "videos/v1", Document{"title": "b"}))
		doc, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		assert.Equal(t, Document{"title": "b", "slug": "a"}, doc)
	})

	t.Run("array union", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.ArrayUnion(ctx, "videos/v1", "playlists", "p1", "p2"))
		require.NoError(t, s.ArrayUnion(ctx, "videos/v1", "playlists", "p2", "p3", "p3"))

		doc, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		assert.ElementsMatch(t, []any{"p1", "p2", "p3"}, doc["playlists"])
	})

	t.Run("delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "videos/v1", Document{"title": "a"}))
		require.NoError(t, s.Delete(ctx, "videos/v1"))
		require.NoError(t, s.Delete(ctx, "videos/v1"))
		_, err := s.Get(ctx, "videos/v1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Set(ctx, "videos/v1", Document{"title": "a"}))
		require.NoError(t, s.Set(ctx, "videos/v2", Document{"title": "b"}))
		require.NoError(t, s.Set(ctx, "playlists/p1", Document{"title": "c"}))

		docs, err := s.List(ctx, "videos")
		require.NoError(t, err)
		assert.Len(t, docs, 2)
		assert.Equal(t, "b", docs["v2"]["title"])

		empty, err := s.List(ctx, "nothing")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("returned documents are copies", func(t *testing.T) {
		s := open(t)
		in := Document{"title": "a"}
		require.NoError(t, s.Set(ctx, "videos/v1", in))
		in["title"] = "mutated"

		doc, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		doc["title"] = "also mutated"

		again, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		assert.Equal(t, "a", again["title"])
	})

	t.Run("concurrent unions", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, s.ArrayUnion(ctx, "videos/v1", "related", i%5))
			}(i)
		}
		wg.Wait()

		doc, err := s.Get(ctx, "videos/v1")
		require.NoError(t, err)
		assert.Len(t, doc["related"], 5)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) DocumentStore {
		s := NewMemoryStore()
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMemoryStoreClosed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Set(context.Background(), "videos/v1", Document{}), ErrClosed)
}

func TestFileStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) DocumentStore {
		s, err := NewFileStore(filepath.Join(t.TempDir(), "store.json"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestFileStoreReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s, err := NewFileStore(path)
	require.NoError(t, err)
	_, err = os.Stat(path)
	require.NoError(t, err, "store file was not created")

	require.NoError(t, s.Set(ctx, "videos/v1", Document{"title": "a"}))
	require.NoError(t, s.ArrayUnion(ctx, "videos/v1", "playlists", "p1"))
	require.NoError(t, s.Close())

	s2, err := NewFileStore(path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.Get(ctx, "videos/v1")
	require.NoError(t, err)
	assert.Equal(t, Document{"title": "a", "playlists": []any{"p1"}}, doc)
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := NewFileStore(path)
	assert.True(t, errors.Is(err, ErrStorageCorrupt), "got %v", err)
}

func TestSplitPath(t *testing.T) {
	c, id, err := SplitPath(VideoPath("abc"))
	require.NoError(t, err)
	assert.Equal(t, "videos", c)
	assert.Equal(t, "abc", id)

	c, id, err = SplitPath(RunMetaPath)
	require.NoError(t, err)
	assert.Equal(t, "meta", c)
	assert.Equal(t, "run", id)
}

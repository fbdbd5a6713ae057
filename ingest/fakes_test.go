package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"time"

	yt "google.golang.org/api/youtube/v3"

	"ytingest/quota"
	"ytingest/storage"
	"ytingest/youtube"
)

const (
	targetChannel = "UCtarget"
	targetTitle   = "Target"
	uploadsID     = "UUtarget"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		ChannelID:         targetChannel,
		ChannelName:       targetTitle,
		DescriptionMarker: "---",
	}
}

// fakeMetadata is an in-memory channel. Once quotaAfter calls have been
// made, every further call fails with a quota error.
type fakeMetadata struct {
	uploads   string
	sections  []string
	owned     []string
	playlists map[string]*yt.Playlist
	items     map[string][]*yt.PlaylistItem
	videos    map[string]*yt.Video
	related   map[string][]*yt.SearchResult
	unchanged map[string]bool
	fatal     map[string]error

	mu         sync.Mutex
	calls      int
	quotaAfter int
	videoCalls map[string]int
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{
		uploads:    uploadsID,
		playlists:  make(map[string]*yt.Playlist),
		items:      make(map[string][]*yt.PlaylistItem),
		videos:     make(map[string]*yt.Video),
		related:    make(map[string][]*yt.SearchResult),
		unchanged:  make(map[string]bool),
		fatal:      make(map[string]error),
		videoCalls: make(map[string]int),
	}
}

// clone copies the channel with fresh call counters.
func (f *fakeMetadata) clone() *fakeMetadata {
	c := newFakeMetadata()
	c.uploads = f.uploads
	c.sections = f.sections
	c.owned = f.owned
	c.playlists = f.playlists
	c.items = f.items
	c.videos = f.videos
	c.related = f.related
	c.unchanged = f.unchanged
	c.fatal = f.fatal
	return c
}

func publishedAt(n int) string {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * 24 * time.Hour).Format(time.RFC3339)
}

// addVideo registers a target-channel video. Its number orders publish dates.
func (f *fakeMetadata) addVideo(id string, n int) {
	f.videos[id] = &yt.Video{
		Id: id,
		Snippet: &yt.VideoSnippet{
			Title:        "Video " + id,
			Description:  "About " + id + "\n---\nLinks",
			ChannelId:    targetChannel,
			ChannelTitle: targetTitle,
			PublishedAt:  publishedAt(n),
		},
		ContentDetails: &yt.VideoContentDetails{Duration: "PT1M30S"},
		Statistics:     &yt.VideoStatistics{ViewCount: uint64(100 + n), LikeCount: uint64(n)},
	}
}

func (f *fakeMetadata) addPlaylist(id, title string, videoIDs ...string) {
	f.playlists[id] = &yt.Playlist{
		Id: id,
		Snippet: &yt.PlaylistSnippet{
			Title:        title,
			ChannelId:    targetChannel,
			ChannelTitle: targetTitle,
		},
	}
	for _, vid := range videoIDs {
		owner := targetChannel
		published := ""
		if v, ok := f.videos[vid]; ok {
			owner = v.Snippet.ChannelId
			published = v.Snippet.PublishedAt
		}
		f.items[id] = append(f.items[id], &yt.PlaylistItem{
			Snippet: &yt.PlaylistItemSnippet{
				ChannelId:           targetChannel,
				VideoOwnerChannelId: owner,
			},
			ContentDetails: &yt.PlaylistItemContentDetails{
				VideoId:          vid,
				VideoPublishedAt: published,
			},
		})
	}
}

// sevenAndBest is a channel with seven uploads, three of which are also in
// the "Best" playlist, listed both as a section and as an owned playlist.
func sevenAndBest() *fakeMetadata {
	f := newFakeMetadata()
	var ids []string
	for i := 1; i <= 7; i++ {
		id := fmt.Sprintf("v%d", i)
		f.addVideo(id, i)
		ids = append(ids, id)
	}
	f.addPlaylist(uploadsID, youtube.UploadsTitle(targetTitle), ids...)
	f.addPlaylist("PLbest", "Best", "v1", "v2", "v3")
	f.sections = []string{"PLbest"}
	f.owned = []string{"PLbest"}
	return f
}

func (f *fakeMetadata) tick() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.quotaAfter > 0 && f.calls >= f.quotaAfter {
		return &quota.ExceededError{Kind: quota.API, Used: int64(f.calls), Limit: int64(f.quotaAfter - 1)}
	}
	return nil
}

func (f *fakeMetadata) videoCallCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.videoCalls[id]
}

func seq[T any](items []T, err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if err != nil {
			var zero T
			yield(zero, err)
			return
		}
		for _, it := range items {
			if !yield(it, nil) {
				return
			}
		}
	}
}

func (f *fakeMetadata) Channel(ctx context.Context, channelID string) (*yt.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.tick(); err != nil {
		return nil, err
	}
	if channelID != targetChannel {
		return nil, youtube.ErrChannelNotFound
	}
	return &yt.Channel{
		Id:      targetChannel,
		Snippet: &yt.ChannelSnippet{Title: targetTitle},
		ContentDetails: &yt.ChannelContentDetails{
			RelatedPlaylists: &yt.ChannelContentDetailsRelatedPlaylists{Uploads: f.uploads},
		},
	}, nil
}

func (f *fakeMetadata) ChannelSectionPlaylists(ctx context.Context, channelID string) iter.Seq2[string, error] {
	return seq(f.sections, f.tick())
}

func (f *fakeMetadata) ChannelPlaylists(ctx context.Context, channelID string) iter.Seq2[string, error] {
	return seq(f.owned, f.tick())
}

func (f *fakeMetadata) Playlist(ctx context.Context, playlistID string) (*yt.Playlist, error) {
	if err := f.tick(); err != nil {
		return nil, err
	}
	pl, ok := f.playlists[playlistID]
	if !ok {
		return nil, youtube.ErrPlaylistNotFound
	}
	return pl, nil
}

func (f *fakeMetadata) PlaylistItems(ctx context.Context, playlistID string) (iter.Seq2[*yt.PlaylistItem, error], bool, error) {
	if err := f.tick(); err != nil {
		return nil, false, err
	}
	return seq(f.items[playlistID], nil), f.unchanged[playlistID], nil
}

func (f *fakeMetadata) Video(ctx context.Context, videoID string) (*yt.Video, error) {
	f.mu.Lock()
	f.videoCalls[videoID]++
	f.mu.Unlock()
	if err := f.tick(); err != nil {
		return nil, err
	}
	if err, ok := f.fatal[videoID]; ok {
		return nil, err
	}
	v, ok := f.videos[videoID]
	if !ok {
		return nil, youtube.ErrVideoNotFound
	}
	return v, nil
}

func (f *fakeMetadata) RelatedVideos(ctx context.Context, videoID string) iter.Seq2[*yt.SearchResult, error] {
	return seq(f.related[videoID], f.tick())
}

func searchResult(videoID, channelID string) *yt.SearchResult {
	return &yt.SearchResult{
		Id:      &yt.ResourceId{VideoId: videoID},
		Snippet: &yt.SearchResultSnippet{ChannelId: channelID},
	}
}

// fakeTranscripts returns "transcript of <id>" unless an error is set.
type fakeTranscripts struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

func newFakeTranscripts() *fakeTranscripts {
	return &fakeTranscripts{errs: make(map[string]error), calls: make(map[string]int)}
}

func (f *fakeTranscripts) Resolve(ctx context.Context, videoID string) (youtube.Outcome, error) {
	f.mu.Lock()
	f.calls[videoID]++
	err := f.errs[videoID]
	f.mu.Unlock()
	if err != nil {
		return youtube.Classify("", err), nil
	}
	return youtube.Classify("transcript of "+videoID, nil), nil
}

func (f *fakeTranscripts) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

// orderedStore records membership unions that arrive before the video's
// metadata was written.
type orderedStore struct {
	*storage.MemoryStore

	mu         sync.Mutex
	written    map[string]bool
	violations []string
}

func newOrderedStore() *orderedStore {
	return &orderedStore{MemoryStore: storage.NewMemoryStore(), written: make(map[string]bool)}
}

func (s *orderedStore) Set(ctx context.Context, path string, doc storage.Document, opts ...storage.SetOption) error {
	if err := s.MemoryStore.Set(ctx, path, doc, opts...); err != nil {
		return err
	}
	if _, ok := doc["title"]; ok {
		s.mu.Lock()
		s.written[path] = true
		s.mu.Unlock()
	}
	return nil
}

func (s *orderedStore) ArrayUnion(ctx context.Context, path, field string, values ...any) error {
	if field == "playlists" {
		s.mu.Lock()
		if !s.written[path] {
			s.violations = append(s.violations, path)
		}
		s.mu.Unlock()
	}
	return s.MemoryStore.ArrayUnion(ctx, path, field, values...)
}

func (s *orderedStore) orderViolations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.violations...)
}

// failingStore fails every write with err.
type failingStore struct {
	*storage.MemoryStore
	err error
}

func (s *failingStore) Set(context.Context, string, storage.Document, ...storage.SetOption) error {
	return s.err
}

func (s *failingStore) ArrayUnion(context.Context, string, string, ...any) error {
	return s.err
}

func newTestClient(store storage.DocumentStore, limits quota.Limits) *storage.Client {
	return storage.NewClient(store, quota.New(limits))
}

var errBoom = errors.New("boom")

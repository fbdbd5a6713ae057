package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/url"
	"time"

	yt "google.golang.org/api/youtube/v3"
)

// Metadata exposes the Data API endpoints used by ingestion as typed
// lookups. Item shapes are the google.golang.org/api/youtube/v3 types.
type Metadata struct {
	src *Source
}

// NewMetadata wraps a source.
func NewMetadata(src *Source) *Metadata {
	return &Metadata{src: src}
}

// Source returns the underlying source.
func (m *Metadata) Source() *Source { return m.src }

// Channel fetches snippet and content details of a channel.
func (m *Metadata) Channel(ctx context.Context, channelID string) (*yt.Channel, error) {
	raw, err := m.single(ctx, "channels", url.Values{
		"part": {"snippet,contentDetails"},
		"id":   {channelID},
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrChannelNotFound
	}
	var c yt.Channel
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("youtube: decode channel: %w", err)
	}
	return &c, nil
}

// ChannelSectionPlaylists yields the playlist ids referenced by the channel's
// sections, in section order.
func (m *Metadata) ChannelSectionPlaylists(ctx context.Context, channelID string) iter.Seq2[string, error] {
	sections := decode[yt.ChannelSection](m.list(ctx, "channelSections", url.Values{
		"part":      {"contentDetails"},
		"channelId": {channelID},
	}))
	return func(yield func(string, error) bool) {
		for s, err := range sections {
			if err != nil {
				yield("", err)
				return
			}
			if s.ContentDetails == nil {
				continue
			}
			for _, id := range s.ContentDetails.Playlists {
				if !yield(id, nil) {
					return
				}
			}
		}
	}
}

// ChannelPlaylists yields the ids of every playlist the channel owns.
func (m *Metadata) ChannelPlaylists(ctx context.Context, channelID string) iter.Seq2[string, error] {
	playlists := decode[yt.Playlist](m.list(ctx, "playlists", url.Values{
		"part":       {"id"},
		"channelId":  {channelID},
		"maxResults": {MaxResults},
	}))
	return func(yield func(string, error) bool) {
		for p, err := range playlists {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(p.Id, nil) {
				return
			}
		}
	}
}

// Playlist fetches one playlist's snippet and content details.
func (m *Metadata) Playlist(ctx context.Context, playlistID string) (*yt.Playlist, error) {
	raw, err := m.single(ctx, "playlists", url.Values{
		"part": {"snippet,contentDetails"},
		"id":   {playlistID},
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrPlaylistNotFound
	}
	var p yt.Playlist
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("youtube: decode playlist: %w", err)
	}
	return &p, nil
}

// PlaylistItems lists a playlist's members. When the listing is unchanged
// since the last complete enumeration, notModified is true and the members
// are replayed from the cache, so callers still see every item.
func (m *Metadata) PlaylistItems(ctx context.Context, playlistID string) (items iter.Seq2[*yt.PlaylistItem, error], notModified bool, err error) {
	raw, notModified, err := m.request(ctx, "playlistItems", url.Values{
		"part":       {"snippet,contentDetails"},
		"playlistId": {playlistID},
		"maxResults": {MaxResults},
	})
	if err != nil {
		return nil, false, err
	}
	return decode[yt.PlaylistItem](raw), notModified, nil
}

// Video fetches snippet, content details and statistics of one video. An
// unchanged video is served from the cached page.
func (m *Metadata) Video(ctx context.Context, videoID string) (*yt.Video, error) {
	raw, err := m.single(ctx, "videos", url.Values{
		"part": {"snippet,contentDetails,statistics"},
		"id":   {videoID},
	})
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrVideoNotFound
	}
	var v yt.Video
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("youtube: decode video: %w", err)
	}
	return &v, nil
}

// RelatedVideos yields search results related to videoID. Each page costs
// a search call.
func (m *Metadata) RelatedVideos(ctx context.Context, videoID string) iter.Seq2[*yt.SearchResult, error] {
	return decode[yt.SearchResult](m.list(ctx, "search", url.Values{
		"part":             {"snippet"},
		"relatedToVideoId": {videoID},
		"type":             {"video"},
		"maxResults":       {MaxResults},
	}))
}

// request issues a conditional query. A 304 replays the cached pages, or
// repeats the query unconditionally when no page is cached.
func (m *Metadata) request(ctx context.Context, endpoint string, params url.Values) (iter.Seq2[json.RawMessage, error], bool, error) {
	res, err := m.src.Request(ctx, endpoint, params)
	if err != nil {
		return nil, false, err
	}
	if !res.NotModified() {
		return res.Items(ctx), false, nil
	}
	if cached := res.Cached(); cached != nil && cached.PageCount > 0 {
		return CachedItems(cached), true, nil
	}
	res, err = m.src.RequestFresh(ctx, endpoint, params)
	if err != nil {
		return nil, false, err
	}
	return res.Items(ctx), false, nil
}

// single returns the first item of a lookup, or nil when there is none.
func (m *Metadata) single(ctx context.Context, endpoint string, params url.Values) (json.RawMessage, error) {
	items, _, err := m.request(ctx, endpoint, params)
	if err != nil {
		return nil, err
	}
	for item, err := range items {
		if err != nil {
			return nil, err
		}
		return item, nil
	}
	return nil, nil
}

// list defers the request until the sequence is ranged over.
func (m *Metadata) list(ctx context.Context, endpoint string, params url.Values) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		items, _, err := m.request(ctx, endpoint, params)
		if err != nil {
			yield(nil, err)
			return
		}
		for item, err := range items {
			if !yield(item, err) || err != nil {
				return
			}
		}
	}
}

func decode[T any](items iter.Seq2[json.RawMessage, error]) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		for raw, err := range items {
			if err != nil {
				yield(nil, err)
				return
			}
			v := new(T)
			if err := json.Unmarshal(raw, v); err != nil {
				yield(nil, fmt.Errorf("youtube: decode item: %w", err))
				return
			}
			if !yield(v, nil) {
				return
			}
		}
	}
}

// UploadsTitle is the title the API gives a channel's uploads playlist.
func UploadsTitle(channelTitle string) string {
	return "Uploads from " + channelTitle
}

// UploadsPlaylistID returns the channel's uploads playlist id, or "".
func UploadsPlaylistID(c *yt.Channel) string {
	if c == nil || c.ContentDetails == nil || c.ContentDetails.RelatedPlaylists == nil {
		return ""
	}
	return c.ContentDetails.RelatedPlaylists.Uploads
}

// ItemVideoID returns the video a playlist item points at.
func ItemVideoID(item *yt.PlaylistItem) string {
	if item.ContentDetails != nil && item.ContentDetails.VideoId != "" {
		return item.ContentDetails.VideoId
	}
	if item.Snippet != nil && item.Snippet.ResourceId != nil {
		return item.Snippet.ResourceId.VideoId
	}
	return ""
}

// ItemChannelID returns the channel owning the item's video. Deleted and
// private videos carry no owner and fall back to the playlist's channel.
func ItemChannelID(item *yt.PlaylistItem) string {
	if item.Snippet == nil {
		return ""
	}
	if item.Snippet.VideoOwnerChannelId != "" {
		return item.Snippet.VideoOwnerChannelId
	}
	return item.Snippet.ChannelId
}

// ItemPublishedAt returns the video's publish time, or the time it was added
// to the playlist when the former is missing.
func ItemPublishedAt(item *yt.PlaylistItem) (time.Time, bool) {
	var raw string
	if item.ContentDetails != nil {
		raw = item.ContentDetails.VideoPublishedAt
	}
	if raw == "" && item.Snippet != nil {
		raw = item.Snippet.PublishedAt
	}
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

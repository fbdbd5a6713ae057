package storage

import (
	"encoding/json"
	"time"
)

// TranscriptStatus records where a video stands on transcript retrieval.
type TranscriptStatus string

const (
	// TranscriptPending means not attempted yet or rate limited; retried next run.
	TranscriptPending TranscriptStatus = "pending"
	// TranscriptDownloaded means the transcript text is stored.
	TranscriptDownloaded TranscriptStatus = "downloaded"
	// TranscriptUnavailable means the video has no retrievable transcript.
	TranscriptUnavailable TranscriptStatus = "unavailable"
)

// Terminal reports whether the status rules out another download attempt.
func (s TranscriptStatus) Terminal() bool {
	return s == TranscriptDownloaded || s == TranscriptUnavailable
}

// Video is the record stored at videos/{id}.
//
// Transcript fields, playlists and related are omitted when empty so a
// merge-write of fresh metadata leaves them untouched. Statistics are always
// written so a count that drops to zero is recorded.
type Video struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	TrimmedDescription string    `json:"trimmed_description"`
	Slug               string    `json:"slug"`
	PublishedAt        time.Time `json:"published_at"`
	ChannelID          string    `json:"channel_id"`
	ChannelTitle       string    `json:"channel_title"`
	Tags               []string  `json:"tags,omitempty"`
	ThumbnailURL       string    `json:"thumbnail_url,omitempty"`
	// DurationSeconds is the parsed ISO-8601 content duration.
	DurationSeconds int64 `json:"duration_seconds"`
	ViewCount       int64 `json:"view_count"`
	LikeCount       int64 `json:"like_count"`
	CommentCount    int64 `json:"comment_count"`
	FavoriteCount   int64 `json:"favorite_count"`

	Transcript       string           `json:"transcript,omitempty"`
	TranscriptStatus TranscriptStatus `json:"transcript_status,omitempty"`

	// Playlists is written only by the membership union, never by a merge.
	Playlists []string `json:"playlists,omitempty"`
	// Related holds same-channel related video IDs.
	Related []string `json:"related,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NeedsTranscript reports whether a download should be attempted.
func (v *Video) NeedsTranscript() bool {
	return v == nil || !v.TranscriptStatus.Terminal()
}

// Playlist is the record stored at playlists/{id}.
type Playlist struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	ChannelID    string `json:"channel_id"`
	ChannelTitle string `json:"channel_title"`
	Slug         string `json:"slug"`
	// VideoCount is the number of retained same-channel items.
	VideoCount int `json:"video_count"`
	// LastUpdated is the newest retained item's publish time; absent when
	// the playlist has no retained items.
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	// Raw is the upstream playlist resource as returned by the API.
	Raw       json.RawMessage `json:"raw,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RunMeta is the singleton stored at meta/run.
type RunMeta struct {
	// VideoIDs is the union of every video ID seen across runs.
	VideoIDs    []string  `json:"video_ids"`
	LastUpdated time.Time `json:"last_updated"`
	LastRunID   string    `json:"last_run_id,omitempty"`
}

// AddVideoIDs unions ids into the known set, keeping first-seen order.
func (m *RunMeta) AddVideoIDs(ids ...string) int {
	seen := make(map[string]struct{}, len(m.VideoIDs))
	for _, id := range m.VideoIDs {
		seen[id] = struct{}{}
	}
	added := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		m.VideoIDs = append(m.VideoIDs, id)
		added++
	}
	return added
}

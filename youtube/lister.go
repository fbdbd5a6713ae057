// Package youtube is the metadata source for ingestion: paged Data API v3
// requests with ETag caching, typed accessors for channels, playlists and
// videos, and the transcript resolver.
package youtube

import "errors"

// Sentinel errors for metadata and transcript lookups.
var (
	ErrChannelNotFound  = errors.New("youtube: channel not found")
	ErrPlaylistNotFound = errors.New("youtube: playlist not found")
	ErrVideoNotFound    = errors.New("youtube: video not found")
	ErrCacheMiss        = errors.New("youtube: cache miss")

	// ErrTranscriptRateLimited means the caption endpoint throttled us or
	// failed upstream; the video stays eligible for a later run.
	ErrTranscriptRateLimited = errors.New("youtube: transcript rate limited")
	// ErrTranscriptUnavailable means the video has no retrievable transcript.
	ErrTranscriptUnavailable = errors.New("youtube: transcript unavailable")
	// ErrResolverClosed is returned by Resolve after Close.
	ErrResolverClosed = errors.New("youtube: transcript resolver closed")
)

// RequestError wraps a failed upstream request with the endpoint it targeted.
//
//	var reqErr *youtube.RequestError
//	if errors.As(err, &reqErr) {
//		fmt.Println(reqErr.Endpoint)
//	}
type RequestError struct {
	Endpoint string
	Err      error
}

func (e *RequestError) Error() string {
	return "youtube: " + e.Endpoint + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *RequestError) Unwrap() error { return e.Err }

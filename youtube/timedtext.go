package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	httpclient "ytingest/http"
)

// DefaultTimedtextURL is YouTube's caption endpoint.
const DefaultTimedtextURL = "https://www.youtube.com/api/timedtext"

// Getter performs plain GETs.
type Getter interface {
	Get(ctx context.Context, url string) (*httpclient.Response, error)
}

// TimedtextClient fetches captions from the timedtext endpoint. It is the
// default Fetcher.
type TimedtextClient struct {
	client   Getter
	baseURL  string
	language string
}

// NewTimedtextClient creates a timedtext client. Empty baseURL and language
// default to the public endpoint and "en".
func NewTimedtextClient(client Getter, baseURL, language string) *TimedtextClient {
	if baseURL == "" {
		baseURL = DefaultTimedtextURL
	}
	if language == "" {
		language = "en"
	}
	return &TimedtextClient{client: client, baseURL: baseURL, language: language}
}

// timedtextResponse is the json3 caption format.
type timedtextResponse struct {
	Events []timedtextEvent `json:"events"`
}

type timedtextEvent struct {
	TStartMs  int64              `json:"tStartMs"`
	DDuration int64              `json:"dDurationMs"`
	Segs      []timedtextSegment `json:"segs,omitempty"`
}

type timedtextSegment struct {
	UTF8 string `json:"utf8"`
}

// TranscriptEntry is one caption line.
type TranscriptEntry struct {
	Start    float64
	Duration float64
	Text     string
}

// Fetch returns the video's transcript as plain text.
func (tc *TimedtextClient) Fetch(ctx context.Context, videoID string) (string, error) {
	entries, err := tc.FetchCaptions(ctx, videoID)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		if text := strings.TrimSpace(e.Text); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: %s has empty captions", ErrTranscriptUnavailable, videoID)
	}
	return strings.Join(lines, " "), nil
}

// FetchCaptions returns the caption events for videoID in the client's
// language.
func (tc *TimedtextClient) FetchCaptions(ctx context.Context, videoID string) ([]TranscriptEntry, error) {
	if videoID == "" {
		return nil, fmt.Errorf("video ID is required")
	}

	params := url.Values{}
	params.Set("v", videoID)
	params.Set("lang", tc.language)
	params.Set("fmt", "json3")

	response, err := tc.client.Get(ctx, tc.baseURL+"?"+params.Encode())
	if err != nil {
		return nil, classifyTimedtextError(videoID, err)
	}

	// The endpoint answers 200 with an empty body when no track exists.
	if len(strings.TrimSpace(string(response.Body))) == 0 {
		return nil, fmt.Errorf("%w: no %s captions for %s", ErrTranscriptUnavailable, tc.language, videoID)
	}

	entries, err := parseTimedtext(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse timedtext response: %w", ErrTranscriptUnavailable, err)
	}
	return entries, nil
}

func classifyTimedtextError(videoID string, err error) error {
	if transientCaptionError(err) {
		return fmt.Errorf("%w: %s: %w", ErrTranscriptRateLimited, videoID, err)
	}
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) && httpclient.IsClientError(httpErr.StatusCode) {
		return fmt.Errorf("%w: %s: %w", ErrTranscriptUnavailable, videoID, err)
	}
	return fmt.Errorf("timedtext request failed: %w", err)
}

// transientCaptionError reports whether a caption fetch failed for reasons
// that say nothing about the video: throttling, 5xx answers, transport
// failures and an open circuit.
func transientCaptionError(err error) bool {
	if errors.Is(err, httpclient.ErrCircuitOpen) || errors.Is(err, httpclient.ErrRequestFailed) {
		return true
	}
	var rateErr *httpclient.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var httpErr *httpclient.HTTPError
	return errors.As(err, &httpErr) && httpclient.IsServerError(httpErr.StatusCode)
}

// parseTimedtext parses the json3 caption document.
func parseTimedtext(data []byte) ([]TranscriptEntry, error) {
	var resp timedtextResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal timedtext JSON: %w", err)
	}

	var entries []TranscriptEntry
	for _, event := range resp.Events {
		// Window and style events carry no segments.
		if len(event.Segs) == 0 {
			continue
		}

		var text strings.Builder
		for _, seg := range event.Segs {
			text.WriteString(seg.UTF8)
		}

		entries = append(entries, TranscriptEntry{
			Start:    float64(event.TStartMs) / 1000.0,
			Duration: float64(event.DDuration) / 1000.0,
			Text:     text.String(),
		})
	}
	return entries, nil
}

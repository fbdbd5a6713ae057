package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"time"

	httpclient "ytingest/http"
	"ytingest/quota"
)

// DefaultBaseURL is the Data API v3 root.
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// MaxResults is the page size requested from list endpoints.
const MaxResults = "50"

var errConsumed = errors.New("youtube: result already consumed")

// Requester performs conditional GETs. *http.Client from ytingest/http
// satisfies it.
type Requester interface {
	GetConditional(ctx context.Context, url, etag string) (*httpclient.Response, error)
}

// SourceConfig configures a Source.
type SourceConfig struct {
	BaseURL  string
	APIKey   string
	Cache    Cache
	Counters *quota.Counters
	Logger   *slog.Logger
}

// Source issues paged Data API requests. The first page of every query is
// conditional on the ETag cached for that query.
type Source struct {
	client   Requester
	baseURL  string
	apiKey   string
	cache    Cache
	counters *quota.Counters
	logger   *slog.Logger
	now      func() time.Time
}

// NewSource creates a source. A nil cache falls back to an in-process one.
func NewSource(client Requester, cfg SourceConfig) *Source {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Source{
		client:   client,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		cache:    cfg.Cache,
		counters: cfg.Counters,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// WithCounters returns a copy of s that charges API units to counters.
func (s *Source) WithCounters(counters *quota.Counters) *Source {
	c := *s
	c.counters = counters
	return &c
}

// Cost returns the API units one page of endpoint costs.
func Cost(endpoint string) int64 {
	if endpoint == "search" {
		return 100
	}
	return 1
}

// CacheKey identifies a logical query: the endpoint plus its sorted
// parameters, without the API key and page token.
func CacheKey(endpoint string, params url.Values) string {
	q := cloneValues(params)
	q.Del("key")
	q.Del("pageToken")
	return endpoint + "?" + q.Encode()
}

// page is the envelope shared by every list response.
type page struct {
	ETag          string            `json:"etag"`
	NextPageToken string            `json:"nextPageToken"`
	Items         []json.RawMessage `json:"items"`
}

// Result is one query. The first page has been fetched; later pages are
// fetched while Items is iterated.
type Result struct {
	StatusCode int

	src      *Source
	endpoint string
	params   url.Values
	key      string
	first    *page
	cached   *CacheEntry
	fresh    *CacheEntry
	consumed bool
}

// NotModified reports whether the upstream answered 304 to the first page.
func (r *Result) NotModified() bool { return r.first == nil }

// Cached returns the cache entry that existed before the request, if any.
func (r *Result) Cached() *CacheEntry { return r.cached }

// Items yields every item of every page, following nextPageToken. A 304
// result yields nothing. The sequence can be ranged over once.
func (r *Result) Items(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		if r.consumed {
			yield(nil, errConsumed)
			return
		}
		r.consumed = true
		if r.first == nil {
			return
		}

		pg := r.first
		for {
			for _, item := range pg.Items {
				if !yield(item, nil) {
					return
				}
			}
			if pg.NextPageToken == "" {
				r.src.complete(ctx, r.key, r.fresh)
				return
			}

			params := cloneValues(r.params)
			params.Set("pageToken", pg.NextPageToken)
			resp, next, err := r.src.fetch(ctx, r.endpoint, params, "")
			if err != nil {
				yield(nil, err)
				return
			}
			if next == nil {
				yield(nil, &RequestError{Endpoint: r.endpoint, Err: fmt.Errorf("unexpected status %d on page", resp.StatusCode)})
				return
			}
			r.src.recordPage(ctx, r.key, r.fresh, resp.Body)
			pg = next
		}
	}
}

// Request fetches the first page of endpoint, conditional on a complete
// cached entry for the same query.
func (s *Source) Request(ctx context.Context, endpoint string, params url.Values) (*Result, error) {
	return s.request(ctx, endpoint, params, true)
}

// RequestFresh is Request without If-None-Match.
func (s *Source) RequestFresh(ctx context.Context, endpoint string, params url.Values) (*Result, error) {
	return s.request(ctx, endpoint, params, false)
}

func (s *Source) request(ctx context.Context, endpoint string, params url.Values, conditional bool) (*Result, error) {
	key := CacheKey(endpoint, params)

	var cached *CacheEntry
	entry, err := s.cache.Get(ctx, key)
	switch {
	case err == nil:
		cached = entry
	case !errors.Is(err, ErrCacheMiss):
		s.logger.Warn("etag cache read failed", "key", key, "error", err)
	}

	etag := ""
	if conditional && cached != nil && cached.Complete {
		etag = cached.ETag
	}

	resp, pg, err := s.fetch(ctx, endpoint, params, etag)
	if err != nil {
		return nil, err
	}

	r := &Result{
		StatusCode: resp.StatusCode,
		src:        s,
		endpoint:   endpoint,
		params:     cloneValues(params),
		key:        key,
		cached:     cached,
	}
	if pg == nil {
		s.logger.Debug("not modified", "endpoint", endpoint, "key", key)
		return r, nil
	}

	r.first = pg
	if pg.ETag != "" {
		r.fresh = &CacheEntry{ETag: pg.ETag, UpdatedAt: s.now().UTC()}
		s.recordPage(ctx, key, r.fresh, resp.Body)
		if pg.NextPageToken == "" {
			s.complete(ctx, key, r.fresh)
		}
	}
	return r, nil
}

// fetch charges the page to the API budget and performs the GET. A nil page
// with a nil error means 304.
func (s *Source) fetch(ctx context.Context, endpoint string, params url.Values, etag string) (*httpclient.Response, *page, error) {
	if err := s.counters.Increment(quota.API, Cost(endpoint)); err != nil {
		return nil, nil, &RequestError{Endpoint: endpoint, Err: err}
	}

	q := cloneValues(params)
	if s.apiKey != "" {
		q.Set("key", s.apiKey)
	}
	resp, err := s.client.GetConditional(ctx, s.baseURL+"/"+endpoint+"?"+q.Encode(), etag)
	if err != nil {
		return nil, nil, &RequestError{Endpoint: endpoint, Err: err}
	}
	if resp.NotModified() {
		return resp, nil, nil
	}

	var pg page
	if err := json.Unmarshal(resp.Body, &pg); err != nil {
		return nil, nil, &RequestError{Endpoint: endpoint, Err: fmt.Errorf("decode page: %w", err)}
	}
	if pg.ETag == "" {
		pg.ETag = resp.Header.Get("ETag")
	}
	return resp, &pg, nil
}

// recordPage appends a raw page to the entry being built and stores it.
// Cache failures are logged, never returned.
func (s *Source) recordPage(ctx context.Context, key string, entry *CacheEntry, raw []byte) {
	if entry == nil {
		return
	}
	entry.Pages = append(entry.Pages, json.RawMessage(raw))
	entry.PageCount = len(entry.Pages)
	if err := s.cache.Put(ctx, key, entry); err != nil {
		s.logger.Warn("etag cache write failed", "key", key, "error", err)
	}
}

// complete marks the entry as covering every page, which makes it eligible
// for conditional requests.
func (s *Source) complete(ctx context.Context, key string, entry *CacheEntry) {
	if entry == nil || entry.Complete {
		return
	}
	entry.Complete = true
	if err := s.cache.Put(ctx, key, entry); err != nil {
		s.logger.Warn("etag cache write failed", "key", key, "error", err)
	}
}

// CachedItems replays the items of every page stored in entry.
func CachedItems(entry *CacheEntry) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		if entry == nil {
			return
		}
		for _, raw := range entry.Pages {
			var pg page
			if err := json.Unmarshal(raw, &pg); err != nil {
				yield(nil, fmt.Errorf("youtube: cached page: %w", err))
				return
			}
			for _, item := range pg.Items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

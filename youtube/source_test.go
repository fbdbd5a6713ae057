package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpclient "ytingest/http"
	"ytingest/quota"
)

// fakeAPI serves list endpoints from fixed pages. Every endpoint has a
// constant ETag and answers 304 when the first page is requested with it.
type fakeAPI struct {
	t *testing.T

	mu          sync.Mutex
	pages       map[string][][]any // endpoint -> pages of items
	requests    []*http.Request
	conditional int
	status      int
	body        string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	f := &fakeAPI{t: t, pages: make(map[string][][]any)}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) set(endpoint string, pages ...[]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[endpoint] = pages
}

func (f *fakeAPI) fail(status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.body = body
}

func (f *fakeAPI) served() []*http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*http.Request(nil), f.requests...)
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, r)

	if f.status != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
		return
	}

	endpoint := strings.TrimPrefix(r.URL.Path, "/")
	etag := "etag-" + endpoint
	pages := f.pages[endpoint]

	n := 0
	if tok := r.URL.Query().Get("pageToken"); tok != "" {
		fmt.Sscanf(tok, "p%d", &n)
	} else if r.Header.Get("If-None-Match") != "" {
		f.conditional++
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	out := map[string]any{"etag": etag, "items": []any{}}
	if n < len(pages) {
		out["items"] = pages[n]
		if n+1 < len(pages) {
			out["nextPageToken"] = fmt.Sprintf("p%d", n+1)
		}
	}
	json.NewEncoder(w).Encode(out)
}

func testHTTPClient(t *testing.T) *httpclient.Client {
	cfg := httpclient.DefaultConfig()
	cfg.Retry.MaxRetries = 1
	cfg.Retry.InitialBackoff = time.Millisecond
	cfg.Retry.MaxBackoff = 5 * time.Millisecond
	cfg.RateLimiter.EnableDynamicBackoff = false
	cfg.ForbiddenIsQuota = true
	c := httpclient.New(cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestSource(t *testing.T, srv *httptest.Server, cache Cache, counters *quota.Counters) *Source {
	return NewSource(testHTTPClient(t), SourceConfig{
		BaseURL:  srv.URL,
		APIKey:   "secret",
		Cache:    cache,
		Counters: counters,
	})
}

func collect(t *testing.T, items func(func(json.RawMessage, error) bool)) []string {
	t.Helper()
	var ids []string
	for raw, err := range items {
		require.NoError(t, err)
		var item struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(raw, &item))
		ids = append(ids, item.ID)
	}
	return ids
}

func item(id string) map[string]any { return map[string]any{"id": id} }

func TestCacheKey(t *testing.T) {
	a := CacheKey("playlistItems", url.Values{"playlistId": {"PL1"}, "part": {"snippet"}, "key": {"k1"}})
	b := CacheKey("playlistItems", url.Values{"part": {"snippet"}, "playlistId": {"PL1"}, "key": {"k2"}, "pageToken": {"p3"}})
	assert.Equal(t, a, b)
	assert.Equal(t, "playlistItems?part=snippet&playlistId=PL1", a)
	assert.NotEqual(t, a, CacheKey("playlists", url.Values{"playlistId": {"PL1"}, "part": {"snippet"}}))
}

func TestSourceFollowsPagesAndCaches(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("playlistItems", []any{item("a"), item("b")}, []any{item("c")})
	cache := NewMemoryCache()
	src := newTestSource(t, srv, cache, nil)
	ctx := context.Background()
	params := url.Values{"playlistId": {"PL1"}}

	res, err := src.Request(ctx, "playlistItems", params)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.False(t, res.NotModified())
	assert.Equal(t, []string{"a", "b", "c"}, collect(t, res.Items(ctx)))

	entry, err := cache.Get(ctx, CacheKey("playlistItems", params))
	require.NoError(t, err)
	assert.Equal(t, "etag-playlistItems", entry.ETag)
	assert.Equal(t, 2, entry.PageCount)
	assert.True(t, entry.Complete)

	reqs := api.served()
	require.Len(t, reqs, 2)
	assert.Equal(t, "secret", reqs[0].URL.Query().Get("key"))
	assert.Equal(t, "p1", reqs[1].URL.Query().Get("pageToken"))
}

func TestSourceNotModifiedLeavesCacheUntouched(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("playlistItems", []any{item("a")}, []any{item("b")})
	cache := NewMemoryCache()
	src := newTestSource(t, srv, cache, nil)
	ctx := context.Background()
	params := url.Values{"playlistId": {"PL1"}}

	res, err := src.Request(ctx, "playlistItems", params)
	require.NoError(t, err)
	require.Len(t, collect(t, res.Items(ctx)), 2)
	before, err := cache.Get(ctx, CacheKey("playlistItems", params))
	require.NoError(t, err)

	res, err = src.Request(ctx, "playlistItems", params)
	require.NoError(t, err)
	assert.True(t, res.NotModified())
	assert.Equal(t, http.StatusNotModified, res.StatusCode)
	assert.Empty(t, collect(t, res.Items(ctx)))

	after, err := cache.Get(ctx, CacheKey("playlistItems", params))
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, 1, api.conditional)
	assert.Len(t, api.served(), 3)
}

func TestSourcePartialEnumerationStaysUnconditional(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("playlistItems", []any{item("a")}, []any{item("b")})
	cache := NewMemoryCache()
	src := newTestSource(t, srv, cache, nil)
	ctx := context.Background()
	params := url.Values{"playlistId": {"PL1"}}

	res, err := src.Request(ctx, "playlistItems", params)
	require.NoError(t, err)
	for range res.Items(ctx) {
		break
	}

	entry, err := cache.Get(ctx, CacheKey("playlistItems", params))
	require.NoError(t, err)
	assert.False(t, entry.Complete)
	assert.Equal(t, 1, entry.PageCount)

	res, err = src.Request(ctx, "playlistItems", params)
	require.NoError(t, err)
	assert.False(t, res.NotModified())
	assert.Equal(t, []string{"a", "b"}, collect(t, res.Items(ctx)))
	assert.Zero(t, api.conditional)
}

func TestResultItemsConsumedOnce(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("videos", []any{item("v1")})
	src := newTestSource(t, srv, nil, nil)
	ctx := context.Background()

	res, err := src.RequestFresh(ctx, "videos", url.Values{"id": {"v1"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, collect(t, res.Items(ctx)))

	for _, err := range res.Items(ctx) {
		assert.ErrorIs(t, err, errConsumed)
	}
}

func TestSourceChargesAPIUnits(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.set("playlistItems", []any{item("a")}, []any{item("b")})
	api.set("search", []any{item("s")})
	counters := quota.New(quota.Limits{API: 102})
	src := newTestSource(t, srv, nil, counters)
	ctx := context.Background()

	res, err := src.Request(ctx, "playlistItems", url.Values{"playlistId": {"PL1"}})
	require.NoError(t, err)
	collect(t, res.Items(ctx))
	assert.EqualValues(t, 2, counters.Used(quota.API))

	res, err = src.Request(ctx, "search", url.Values{"relatedToVideoId": {"a"}})
	require.NoError(t, err)
	collect(t, res.Items(ctx))
	assert.EqualValues(t, 102, counters.Used(quota.API))

	_, err = src.Request(ctx, "videos", url.Values{"id": {"a"}})
	assert.True(t, quota.IsExceeded(err), "got %v", err)
	assert.Len(t, api.served(), 3, "request past the budget reached the API")
}

func TestSourceUpstreamQuotaIsDistinct(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.fail(http.StatusForbidden, `{"error":{"code":403,"message":"quota","errors":[{"reason":"quotaExceeded","domain":"youtube.quota"}]}}`)
	src := newTestSource(t, srv, nil, nil)

	_, err := src.Request(context.Background(), "videos", url.Values{"id": {"a"}})
	require.Error(t, err)
	assert.True(t, quota.IsExceeded(err))

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "videos", reqErr.Endpoint)
}

func TestSourceTransportErrorIsNotQuota(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.fail(http.StatusNotFound, `{}`)
	src := newTestSource(t, srv, nil, nil)

	_, err := src.Request(context.Background(), "videos", url.Values{"id": {"a"}})
	require.Error(t, err)
	assert.False(t, quota.IsExceeded(err))
}

func TestCachedItemsReplaysPages(t *testing.T) {
	entry := &CacheEntry{Pages: []json.RawMessage{
		json.RawMessage(`{"items":[{"id":"a"},{"id":"b"}]}`),
		json.RawMessage(`{"items":[{"id":"c"}]}`),
	}}
	assert.Equal(t, []string{"a", "b", "c"}, collect(t, CachedItems(entry)))
	assert.Empty(t, collect(t, CachedItems(nil)))
}

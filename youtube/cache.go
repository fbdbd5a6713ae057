package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheEntry is what the source remembers about one logical query: the ETag
// of its first page and the raw pages fetched alongside it. Complete is set
// once the last page has been read.
type CacheEntry struct {
	ETag      string            `json:"etag"`
	PageCount int               `json:"page_count"`
	Pages     []json.RawMessage `json:"pages"`
	Complete  bool              `json:"complete"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (e *CacheEntry) clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	out.Pages = make([]json.RawMessage, len(e.Pages))
	for i, p := range e.Pages {
		out.Pages[i] = append(json.RawMessage(nil), p...)
	}
	return &out
}

// Cache stores entries by cache key. Get returns ErrCacheMiss for unknown keys.
type Cache interface {
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, key string, entry *CacheEntry) error
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	return e.clone(), nil
}

func (c *MemoryCache) Put(_ context.Context, key string, entry *CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry.clone()
	return nil
}

// Len returns the number of cached queries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

const redisKeyPrefix = "ytingest:etag:"

// RedisCache keeps entries in Redis so ETags survive between runs.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache wraps a connected client. A zero ttl keeps entries forever.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

// DialRedisCache connects to addr and pings it.
func DialRedisCache(ctx context.Context, addr string, ttl time.Duration) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("youtube: redis %s unreachable: %w", addr, err)
	}
	return NewRedisCache(rdb, ttl), nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	data, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("youtube: redis get: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		// An unreadable entry is as good as none.
		return nil, ErrCacheMiss
	}
	return &entry, nil
}

func (c *RedisCache) Put(ctx context.Context, key string, entry *CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("youtube: redis set: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}

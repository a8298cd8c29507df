package fetch

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL is how long fetched listing pages are reused.
const DefaultCacheTTL = 15 * time.Minute

// PageCache stores page HTML by URL.
type PageCache interface {
	Get(ctx context.Context, url string) (string, bool)
	Set(ctx context.Context, url, html string, ttl time.Duration) error
}

// RedisPageCache keeps pages in Redis so several processes share one crawl.
type RedisPageCache struct {
	client *redis.Client
	prefix string
}

// NewRedisPageCache returns nil when client is nil.
func NewRedisPageCache(client *redis.Client, prefix string) *RedisPageCache {
	if client == nil {
		return nil
	}
	if prefix == "" {
		prefix = "page"
	}
	return &RedisPageCache{client: client, prefix: prefix}
}

func (c *RedisPageCache) key(url string) string {
	return c.prefix + ":" + url
}

// Get implements PageCache. Redis errors read as a miss.
func (c *RedisPageCache) Get(ctx context.Context, url string) (string, bool) {
	if c == nil {
		return "", false
	}
	html, err := c.client.Get(ctx, c.key(url)).Result()
	if err != nil {
		return "", false
	}
	return html, true
}

// Set implements PageCache.
func (c *RedisPageCache) Set(ctx context.Context, url, html string, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return c.client.Set(ctx, c.key(url), html, ttl).Err()
}

// MemoryPageCache is a process-local PageCache.
type MemoryPageCache struct {
	mu    sync.Mutex
	now   func() time.Time
	pages map[string]cachedPage
}

type cachedPage struct {
	html    string
	expires time.Time
}

// NewMemoryPageCache creates an empty cache.
func NewMemoryPageCache() *MemoryPageCache {
	return &MemoryPageCache{now: time.Now, pages: make(map[string]cachedPage)}
}

// Get implements PageCache.
func (c *MemoryPageCache) Get(_ context.Context, url string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[url]
	if !ok {
		return "", false
	}
	if !c.now().Before(p.expires) {
		delete(c.pages, url)
		return "", false
	}
	return p.html, true
}

// Set implements PageCache.
func (c *MemoryPageCache) Set(_ context.Context, url, html string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c.mu.Lock()
	c.pages[url] = cachedPage{html: html, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

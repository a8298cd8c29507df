package chat

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter bounds how many messages a session may send per window. Implementations
// fail open: an unreachable backend never blocks a user.
type Limiter interface {
	Allow(ctx context.Context, key string) bool
}

const rateLimitScript = `
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
if current > tonumber(ARGV[2]) then
  return 0
end
return 1
`

// RedisLimiter is a fixed-window limiter shared by every process using the same Redis.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
	script *redis.Script
}

// NewRedisLimiter returns nil when client is nil, which callers treat as no limit.
func NewRedisLimiter(client *redis.Client, limit int, window time.Duration, prefix string) *RedisLimiter {
	if client == nil {
		return nil
	}
	return &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		script: redis.NewScript(rateLimitScript),
	}
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil || l.client == nil || l.limit <= 0 || l.window <= 0 || key == "" {
		return true
	}
	redisKey := key
	if l.prefix != "" {
		redisKey = l.prefix + ":" + key
	}
	ttl := max(l.window.Milliseconds(), 1)

	ctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
	defer cancel()
	allowed, err := l.script.Run(ctx, l.client, []string{redisKey}, ttl, l.limit).Int64()
	if err != nil {
		return true
	}
	return allowed == 1
}

// WindowLimiter is the in-process counterpart of RedisLimiter, used without Redis.
type WindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[string]windowCount
	swept  time.Time
}

type windowCount struct {
	start time.Time
	n     int
}

// NewWindowLimiter creates a fixed-window limiter kept in memory.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{limit: limit, window: window, now: time.Now, hits: make(map[string]windowCount)}
}

// Allow implements Limiter.
func (l *WindowLimiter) Allow(_ context.Context, key string) bool {
	if l.limit <= 0 || l.window <= 0 || key == "" {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if now.Sub(l.swept) >= l.window {
		l.sweepLocked(now)
	}
	c := l.hits[key]
	if now.Sub(c.start) >= l.window {
		c = windowCount{start: now}
	}
	c.n++
	l.hits[key] = c
	return c.n <= l.limit
}

// sweepLocked drops keys whose window has ended. It runs at most once per window.
func (l *WindowLimiter) sweepLocked(now time.Time) {
	for key, c := range l.hits {
		if now.Sub(c.start) >= l.window {
			delete(l.hits, key)
		}
	}
	l.swept = now
}

package tool

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultCacheSize = 256
	defaultCacheTTL  = 5 * time.Minute
)

// CacheConfig tunes the tool result cache.
type CacheConfig struct {
	MaxSize int
	TTL     time.Duration
}

type cacheEntry struct {
	result   Result
	storedAt time.Time
}

// ResultCache caches read-only tool results keyed by tool name plus
// normalised arguments. Only LOW risk tools are cached; anything with
// side effects must reach its target every time.
type ResultCache struct {
	entries *lru.Cache[string, cacheEntry]
	ttl     time.Duration
	clock   func() time.Time
}

// NewResultCache builds a cache, filling zero config with defaults.
func NewResultCache(cfg CacheConfig) (*ResultCache, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	entries, err := lru.New[string, cacheEntry](cfg.MaxSize)
	if err != nil {
		return nil, err
	}
	return &ResultCache{entries: entries, ttl: cfg.TTL, clock: time.Now}, nil
}

func cacheKey(toolName string, args map[string]any) string {
	return toolName + "|" + argsFingerprint(args)
}

// Get returns a fresh cached result when one exists.
func (c *ResultCache) Get(toolName string, args map[string]any) (Result, bool) {
	entry, ok := c.entries.Get(cacheKey(toolName, args))
	if !ok {
		return Result{}, false
	}
	if c.clock().Sub(entry.storedAt) > c.ttl {
		c.entries.Remove(cacheKey(toolName, args))
		return Result{}, false
	}
	return entry.result, true
}

// Put stores a successful result. Errors are never cached.
func (c *ResultCache) Put(toolName string, args map[string]any, result Result) {
	if result.IsError {
		return
	}
	c.entries.Add(cacheKey(toolName, args), cacheEntry{result: result, storedAt: c.clock()})
}

// Cacheable reports whether the invocation may be served from cache.
func Cacheable(inv *Invocation) bool {
	return inv.Risk == RiskLow && inv.Category != CategoryHITL && inv.Category != CategoryHandoff
}

// cached wraps an execute call with the cache when applicable.
func (c *ResultCache) cached(ctx context.Context, inv *Invocation, execute func(ctx context.Context) (Result, error)) (Result, error) {
	if c == nil || !Cacheable(inv) {
		return execute(ctx)
	}
	if result, ok := c.Get(inv.Tool, inv.Args); ok {
		return result, nil
	}
	result, err := execute(ctx)
	if err == nil {
		c.Put(inv.Tool, inv.Args, result)
	}
	return result, err
}

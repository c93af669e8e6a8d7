package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize bounds the embedding cache when no size is configured.
const DefaultCacheSize = 1000

// Cached wraps a Provider with an LRU cache so repeated queries skip the
// provider round-trip.
type Cached struct {
	inner Provider
	cache *lru.Cache[string, []float32]
}

// NewCached creates a caching wrapper around inner.
func NewCached(inner Provider, cacheSize int) *Cached {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &Cached{inner: inner, cache: cache}
}

func (c *Cached) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.inner.Name() + "\x00" + text))
	return hex.EncodeToString(hash[:])
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *Cached) Dimensions() int { return c.inner.Dimensions() }

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Close() error {
	c.cache.Purge()
	return c.inner.Close()
}

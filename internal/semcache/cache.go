// Package semcache implements the semantic result cache. Lookup is
// approximate: a query embedding hits the entry with the highest cosine
// similarity above a configured threshold, not just an exact key match.
// Entries carry a TTL and are evicted least-recently-accessed at capacity.
// Concurrent misses for equivalent queries collapse into one computation
// via singleflight.
package semcache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/internal/rank"
	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
)

// Entry is one cached result set. Entries are immutable once stored and
// replaced wholesale on update; callers must not mutate Value.
type Entry[V any] struct {
	Fingerprint string
	Embedding   []float32
	Value       V
	InsertedAt  time.Time
	ExpiresAt   time.Time
}

// Cache is the in-memory similarity-keyed tier.
type Cache[V any] struct {
	mu        sync.Mutex
	entries   *lru.Cache[string, *Entry[V]]
	ttl       time.Duration
	threshold float64
	group     singleflight.Group
	logger    *slog.Logger
	now       func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// New creates a Cache from config.
func New[V any](cfg config.CacheConfig) *Cache[V] {
	c := &Cache[V]{
		ttl:       cfg.TTL,
		threshold: cfg.SimilarityThreshold,
		logger:    slog.Default().With("component", "semantic-cache"),
		now:       time.Now,
	}
	c.entries, _ = lru.New[string, *Entry[V]](cfg.MaxEntries)
	return c
}

// Fingerprint derives the exact-match cache key from a normalized query
// representation (sorted stemmed terms plus options that change the result).
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:16])
}

// Get returns the live entry most similar to embedding if that similarity
// reaches the configured threshold. Expired entries encountered during the
// scan are dropped. A hit refreshes the entry's recency.
func (c *Cache[V]) Get(embedding []float32) (*Entry[V], bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var bestKey string
	var best *Entry[V]
	bestSim := c.threshold
	var expired []string

	for _, key := range c.entries.Keys() {
		entry, ok := c.entries.Peek(key)
		if !ok {
			continue
		}
		if now.After(entry.ExpiresAt) {
			expired = append(expired, key)
			continue
		}
		sim := rank.Cosine(embedding, entry.Embedding)
		if sim >= bestSim {
			bestSim = sim
			bestKey = key
			best = entry
		}
	}
	for _, key := range expired {
		c.entries.Remove(key)
	}

	if best == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.entries.Get(bestKey) // recency touch
	c.hits.Add(1)
	c.logger.Debug("semantic cache hit", "fingerprint", best.Fingerprint, "similarity", bestSim)
	return best, true
}

// Put stores a result set under the given fingerprint, replacing any entry
// with the same fingerprint. When the cache is at capacity the
// least-recently-accessed entry is evicted.
func (c *Cache[V]) Put(fingerprint string, embedding []float32, value V) {
	now := c.now()
	emb := make([]float32, len(embedding))
	copy(emb, embedding)
	entry := &Entry[V]{
		Fingerprint: fingerprint,
		Embedding:   emb,
		Value:       value,
		InsertedAt:  now,
		ExpiresAt:   now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Add reports capacity eviction only; TTL drops and explicit removes
	// do not count as evictions.
	if evicted := c.entries.Add(fingerprint, entry); evicted {
		c.evictions.Add(1)
	}
}

// GetOrCompute collapses concurrent misses for the same fingerprint into a
// single computation. Late arrivals wait for the in-flight result instead
// of recomputing; the re-check inside the flight also catches entries that
// became similar enough while waiting.
func (c *Cache[V]) GetOrCompute(
	ctx context.Context,
	fingerprint string,
	embedding []float32,
	compute func(ctx context.Context) (V, error),
) (V, bool, error) {
	if entry, ok := c.Get(embedding); ok {
		return entry.Value, true, nil
	}
	val, err, _ := c.group.Do(fingerprint, func() (interface{}, error) {
		if entry, ok := c.Get(embedding); ok {
			return entry.Value, nil
		}
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(fingerprint, embedding, value)
		return value, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return val.(V), false, nil
}

// Len returns the current number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

// Stats returns hit, miss, and eviction counts.
func (c *Cache[V]) Stats() (hits, misses, evictions int64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

package semcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/config"
	pkgredis "github.com/wheattoast11/openrouter-deep-research-mcp-sub003/pkg/redis"
)

const remoteKeyPrefix = "retrieval:result:"

// Remote is the optional exact-fingerprint cold tier backed by Redis. It is
// consulted after the in-memory similarity tier misses and survives process
// restarts. Redis failures are logged and treated as misses; the engine
// never depends on this tier being up.
type Remote[V any] struct {
	client *pkgredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRemote creates the Redis tier.
func NewRemote[V any](client *pkgredis.Client, cfg config.RedisConfig) *Remote[V] {
	return &Remote[V]{
		client: client,
		ttl:    cfg.CacheTTL,
		logger: slog.Default().With("component", "remote-cache"),
	}
}

// Get returns the cached value for an exact fingerprint match.
func (r *Remote[V]) Get(ctx context.Context, fingerprint string) (V, bool) {
	var zero V
	data, err := r.client.Get(ctx, remoteKeyPrefix+fingerprint)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			r.logger.Error("remote cache get failed", "fingerprint", fingerprint, "error", err)
		}
		return zero, false
	}
	var value V
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		r.logger.Error("remote cache unmarshal failed", "fingerprint", fingerprint, "error", err)
		return zero, false
	}
	return value, true
}

// Set stores a value under the fingerprint with the configured TTL.
func (r *Remote[V]) Set(ctx context.Context, fingerprint string, value V) {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.Error("remote cache marshal failed", "fingerprint", fingerprint, "error", err)
		return
	}
	if err := r.client.Set(ctx, remoteKeyPrefix+fingerprint, data, r.ttl); err != nil {
		r.logger.Error("remote cache set failed", "fingerprint", fingerprint, "error", err)
	}
}

// Invalidate removes every cached result, returning the number deleted.
func (r *Remote[V]) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := r.client.FlushByPattern(ctx, remoteKeyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating remote cache: %w", err)
	}
	r.logger.Info("remote cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

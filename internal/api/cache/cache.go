// Package cache memoises retrieval results in Redis. Keys are scoped to the
// build that produced the results, so a new build never serves stale
// passages even before Invalidate runs.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joecupano/airgap-lab-ai/internal/retrieval"
	"github.com/joecupano/airgap-lab-ai/pkg/config"
	pkgredis "github.com/joecupano/airgap-lab-ai/pkg/redis"
)

const keyPrefix = "retrieval:"

// Store is the subset of the Redis client the cache needs.
type Store interface {
	GetJSON(ctx context.Context, key string, out any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
	CountByPattern(ctx context.Context, pattern string) (int64, error)
}

var _ Store = (*pkgredis.Client)(nil)

type QueryCache struct {
	store  Store
	cfg    config.RedisConfig
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(store Store, cfg config.RedisConfig) *QueryCache {
	return &QueryCache{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "query-cache"),
	}
}

// Get looks up the results for query at depth k under buildID. Redis errors
// count as misses.
func (c *QueryCache) Get(ctx context.Context, buildID, query string, k int) ([]retrieval.Result, bool) {
	key := BuildKey(buildID, query, k)
	var results []retrieval.Result
	found, err := c.store.GetJSON(ctx, key, &results)
	if err != nil {
		c.logger.Error("cache get failed", "key", key, "error", err)
	}
	if err != nil || !found {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.logger.Debug("cache hit", "query", query, "key", key)
	return results, true
}

func (c *QueryCache) Set(ctx context.Context, buildID, query string, k int, results []retrieval.Result) {
	key := BuildKey(buildID, query, k)
	if err := c.store.SetJSON(ctx, key, results, c.cfg.CacheTTL); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns cached results or runs compute once per key across
// concurrent callers. The bool reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	buildID, query string,
	k int,
	compute func() ([]retrieval.Result, error),
) ([]retrieval.Result, bool, error) {
	if results, ok := c.Get(ctx, buildID, query, k); ok {
		return results, true, nil
	}
	key := BuildKey(buildID, query, k)
	val, err, _ := c.group.Do(key, func() (any, error) {
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, buildID, query, k, results)
		return results, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.([]retrieval.Result), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Size counts the cached entries.
func (c *QueryCache) Size(ctx context.Context) (int64, error) {
	return c.store.CountByPattern(ctx, keyPrefix+"*")
}

// BuildKey derives the Redis key for a query. Case and runs of whitespace do
// not matter; word order does, because bigrams depend on it.
func BuildKey(buildID, query string, k int) string {
	raw := fmt.Sprintf("%s\x00%s\x00k=%d", buildID, normalizeQuery(query), k)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

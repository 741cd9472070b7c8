// Package cache implements the Result Cache: a per-user cache of enriched
// watchlist results, keyed in the shared Redis-compatible store so
// horizontally-scaled instances agree on the latest scrape.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riverbend/watchlistd/internal"
	"github.com/riverbend/watchlistd/internal/store"
)

type resultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New returns a ResultCache with the given default TTL.
func New(client *redis.Client, ttl time.Duration) internal.ResultCache {
	return &resultCache{client: client, ttl: ttl}
}

func key(userID string) string {
	return "watchlist:" + userID
}

func (c *resultCache) Get(ctx context.Context, userID string) (internal.WatchlistCacheEntry, time.Duration, bool, error) {
	var entry internal.WatchlistCacheEntry
	ok, err := store.GetJSON(ctx, c.client, key(userID), &entry)
	if err != nil {
		return internal.WatchlistCacheEntry{}, 0, false, internal.NewError(internal.ErrCacheBackend, "get "+userID, err)
	}
	if !ok {
		return internal.WatchlistCacheEntry{}, 0, false, nil
	}
	return entry, time.Since(entry.FetchedAt), true, nil
}

func (c *resultCache) Put(ctx context.Context, userID string, entry internal.WatchlistCacheEntry) error {
	if err := store.SetJSON(ctx, c.client, key(userID), entry, c.ttl); err != nil {
		return internal.NewError(internal.ErrCacheBackend, "put "+userID, err)
	}
	return nil
}

func (c *resultCache) Exists(ctx context.Context, userID string) (bool, error) {
	n, err := c.client.Exists(ctx, key(userID)).Result()
	if err != nil {
		return false, internal.NewError(internal.ErrCacheBackend, "exists "+userID, err)
	}
	return n > 0, nil
}

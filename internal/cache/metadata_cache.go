package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riverbend/watchlistd/internal"
	"github.com/riverbend/watchlistd/internal/store"
)

// metadataCache stores MetadataCacheEntry values in the same Redis-compatible
// store as the Result Cache, under a distinct key prefix and a longer TTL
// (negative lookups included, so a title that has no match isn't re-queried
// on every batch).
type metadataCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewMetadataCache returns a MetadataCache with the given TTL.
func NewMetadataCache(client *redis.Client, ttl time.Duration) internal.MetadataCache {
	return &metadataCache{client: client, ttl: ttl}
}

func metadataKey(key string) string {
	return "metadata:" + key
}

func (c *metadataCache) Get(ctx context.Context, key string) (internal.MetadataCacheEntry, bool, error) {
	var entry internal.MetadataCacheEntry
	ok, err := store.GetJSON(ctx, c.client, metadataKey(key), &entry)
	if err != nil {
		return internal.MetadataCacheEntry{}, false, internal.NewError(internal.ErrCacheBackend, "get metadata "+key, err)
	}
	return entry, ok, nil
}

func (c *metadataCache) Put(ctx context.Context, key string, entry internal.MetadataCacheEntry) error {
	if err := store.SetJSON(ctx, c.client, metadataKey(key), entry, c.ttl); err != nil {
		return internal.NewError(internal.ErrCacheBackend, "put metadata "+key, err)
	}
	return nil
}

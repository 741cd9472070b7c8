package internal

import (
	"context"
	"time"
)

// ResultCache is the per-user cache of enriched watchlist results, backed by a shared key-value store so horizontally-scaled
// instances see the same data.
type ResultCache interface {
	// Get returns the entry and its age regardless of freshness; callers
	// (the HTTP API, the Orchestrator) decide whether age matters.
	Get(ctx context.Context, userID string) (entry WatchlistCacheEntry, age time.Duration, ok bool, err error)
	// Put overwrites the entry and resets its TTL.
	Put(ctx context.Context, userID string, entry WatchlistCacheEntry) error
	Exists(ctx context.Context, userID string) (bool, error)
}

// SessionStore persists per-egress-identity browser storage state between
// scrape attempts.
type SessionStore interface {
	Load(ctx context.Context, identity string) (SessionState, bool, error)
	Save(ctx context.Context, identity string, state SessionState) error
	Clear(ctx context.Context, identity string) error
}

package internal

import "context"

// MetadataClient translates (Title, Year) lookups into enrichment fields.
// Implementations rate-limit and batch calls to the external metadata API
// and persist results (including negative hits) to a shared cache.
type MetadataClient interface {
	// LookupBatch returns one entry per query, keyed by the normalized cache
	// key (NormalizeTitle(Title) + "_" + (Year or "unknown")). A query that
	// the metadata API had nothing for still gets an entry (all fields
	// absent), not an omission.
	LookupBatch(ctx context.Context, queries []MetadataQuery) (map[string]MetadataCacheEntry, error)
	// ClassifyBatch runs both movie and series searches per query and
	// chooses by popularity tie-break, consulting the override list first.
	ClassifyBatch(ctx context.Context, queries []MetadataQuery) (map[string]Kind, error)
}

// MetadataCache persists MetadataCacheEntry values (including negative
// hits, i.e. a query the metadata API had nothing for) in the shared
// store, keyed by NormalizedKey.
type MetadataCache interface {
	Get(ctx context.Context, key string) (MetadataCacheEntry, bool, error)
	Put(ctx context.Context, key string, entry MetadataCacheEntry) error
}

// NormalizedKey builds the MetadataCacheEntry cache key for a query:
// lowercased, non-alphanumeric collapsed to single space, trimmed title,
// plus the year or "unknown".
func NormalizedKey(q MetadataQuery) string {
	year := q.Year
	if year == "" {
		year = "unknown"
	}
	return NormalizeTitle(q.Title) + "_" + year
}

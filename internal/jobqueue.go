package internal

import "context"

// JobFilter narrows ListRecent results by user and/or status.
type JobFilter struct {
	UserID string
	Status JobStatus // "" means any
	Limit  int
}

// JobQueue is the job submission and lookup surface the HTTP API talks to.
// The processing loop that actually runs jobs lives behind this interface
// in package jobqueue; callers never see asynq directly.
type JobQueue interface {
	Submit(ctx context.Context, userID string, forceRefresh bool) (Job, error)
	GetStatus(ctx context.Context, jobID string) (Job, bool, error)
	ListRecent(ctx context.Context, filter JobFilter) ([]Job, error)
	// Close releases the underlying queue client on shutdown.
	Close() error
}

// Orchestrator turns a UserID into a complete, enriched
// WatchlistCacheEntry. It is the single place that drives
// the Browser Driver, Page Extractor, and Metadata Client for one job, and
// is responsible for the at-most-one-in-flight-per-user guarantee.
type Orchestrator interface {
	Scrape(ctx context.Context, userID string, forceRefresh bool) (WatchlistCacheEntry, error)
}

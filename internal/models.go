// Package internal holds the closed records and component interfaces shared
// across the watchlist extraction and enrichment pipeline. Concrete
// implementations live in sibling packages (browser, extractor, metadata,
// cache, session, jobqueue, orchestrator, api); this package only defines
// the contracts between them so no package needs to import another
// component's implementation package.
package internal

import "time"

// Kind is the classification of a watchlist item.
type Kind string

const (
	KindMovie  Kind = "movie"
	KindSeries Kind = "series"
)

// WatchlistItem is a single titled work extracted from a user's watchlist.
type WatchlistItem struct {
	ItemID      string    `json:"item_id"`
	Title       string    `json:"title"`
	Year        string    `json:"year,omitempty"`
	Kind        Kind      `json:"kind"`
	Poster      string    `json:"poster,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	RatingCount *int      `json:"rating_count,omitempty"`
	Runtime     *int      `json:"runtime,omitempty"`
	Popularity  *float64  `json:"popularity,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// WatchlistCacheEntry is the per-user cached result of a scrape.
type WatchlistCacheEntry struct {
	UserID    string                 `json:"user_id"`
	Items     []WatchlistItem        `json:"items"`
	FetchedAt time.Time              `json:"fetched_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// JobStatus is the lifecycle state of a Job. Transitions are strictly
// pending -> processing -> (completed | failed); no other transitions exist.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// ErrorKind classifies a failure for retry/HTTP-status decisions. See
// errors.go for which kinds are transient.
type ErrorKind string

const (
	ErrValidation        ErrorKind = "ValidationError"
	ErrAuth              ErrorKind = "AuthError"
	ErrNotFound          ErrorKind = "NotFound"
	ErrUpstreamPrivate   ErrorKind = "UpstreamPrivate"
	ErrUpstreamNotFound  ErrorKind = "UpstreamNotFound"
	ErrNavigationTimeout ErrorKind = "NavigationTimeout"
	ErrBrowserLaunch     ErrorKind = "BrowserLaunchError"
	ErrExtractionEmpty   ErrorKind = "ExtractionEmpty"
	ErrExtractionPartial ErrorKind = "ExtractionPartial"
	ErrMetadata          ErrorKind = "MetadataError"
	ErrCacheBackend      ErrorKind = "CacheBackendError"
	ErrTimeout           ErrorKind = "Timeout"
)

// JobError is the structured error recorded on a failed Job.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is a unit of scraping work tracked through the queue.
type Job struct {
	JobID           string               `json:"job_id"`
	UserID          string               `json:"user_id"`
	ForceRefresh    bool                 `json:"force_refresh"`
	Status          JobStatus            `json:"status"`
	Attempts        int                  `json:"attempts"`
	CreatedAt       time.Time            `json:"created_at"`
	StartedAt       *time.Time           `json:"started_at,omitempty"`
	CompletedAt     *time.Time           `json:"completed_at,omitempty"`
	Result          *WatchlistCacheEntry `json:"result,omitempty"`
	Error           *JobError            `json:"error,omitempty"`
	Progress        string               `json:"progress,omitempty"`
	HeartbeatAt     *time.Time           `json:"heartbeat_at,omitempty"`
	StuckRecoveries int                  `json:"stuck_recoveries,omitempty"`
}

// MetadataQuery is one (Title, Year) lookup key for the Metadata Client.
type MetadataQuery struct {
	Title string
	Year  string // empty means unknown
}

// MetadataCacheEntry is the enrichment result for a normalized (Title, Year)
// key. Absent fields mean the metadata API had nothing for that field (or
// the lookup was a negative hit, cached to avoid repeated calls).
type MetadataCacheEntry struct {
	Poster      string    `json:"poster,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	RatingCount *int      `json:"rating_count,omitempty"`
	Runtime     *int      `json:"runtime,omitempty"`
	Popularity  *float64  `json:"popularity,omitempty"`
	CachedAt    time.Time `json:"cached_at"`
}

// SessionState is the opaque per-egress-identity browser storage snapshot
// (cookies + local storage), persisted between scrape attempts.
type SessionState struct {
	Identity string `json:"identity"`
	Blob     []byte `json:"blob"`
}

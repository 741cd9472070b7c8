package metadata

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/riverbend/watchlistd/internal"
)

const (
	lookupBatchSize     = 50
	classifyBatchSize   = 20
	interBatchPause     = 10 * time.Millisecond
	inFlightPerBatch    = 10
	maxDetailCandidates = 5
)

type client struct {
	backend   backend
	cache     internal.MetadataCache
	overrides Overrides
	limiter   *rate.Limiter
	sem       *semaphore.Weighted
	timeout   time.Duration
}

// New returns a MetadataClient backed by TMDB, rate-limited to ratePerSec
// tokens/second,
// with at most inFlightPerBatch requests in flight at a time within a
// batch. All external calls made for one query (its searches and detail
// fetch) share a single requestTimeout deadline; individual calls get no
// timeout of their own.
func New(apiKey string, cache internal.MetadataCache, overrides Overrides, ratePerSec int, requestTimeout time.Duration) (internal.MetadataClient, error) {
	b, err := newTMDBBackend(apiKey)
	if err != nil {
		return nil, err
	}
	if ratePerSec <= 0 {
		ratePerSec = 40
	}
	return &client{
		backend:   b,
		cache:     cache,
		overrides: overrides,
		limiter:   rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		sem:       semaphore.NewWeighted(inFlightPerBatch),
		timeout:   requestTimeout,
	}, nil
}

// LookupBatch resolves one entry per query,
// present-but-empty when the source had nothing, processed in outer
// batches of lookupBatchSize with inFlightPerBatch concurrency and a short
// pause between batches.
func (c *client) LookupBatch(ctx context.Context, queries []internal.MetadataQuery) (map[string]internal.MetadataCacheEntry, error) {
	results := make(map[string]internal.MetadataCacheEntry, len(queries))

	for start := 0; start < len(queries); start += lookupBatchSize {
		end := start + lookupBatchSize
		if end > len(queries) {
			end = len(queries)
		}
		batch := queries[start:end]

		type outcome struct {
			key   string
			entry internal.MetadataCacheEntry
		}
		out := make(chan outcome, len(batch))

		for _, q := range batch {
			go func() {
				if err := c.sem.Acquire(ctx, 1); err != nil {
					out <- outcome{key: internal.NormalizedKey(q)}
					return
				}
				defer c.sem.Release(1)
				entry := c.lookupOne(ctx, q)
				out <- outcome{key: internal.NormalizedKey(q), entry: entry}
			}()
		}
		for range batch {
			o := <-out
			results[o.key] = o.entry
		}

		if end < len(queries) {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(interBatchPause):
			}
		}
	}
	return results, nil
}

// lookupOne runs the per-query lookup algorithm. Failures are swallowed
// into an absent-fields entry; individual lookup failures are non-fatal.
func (c *client) lookupOne(ctx context.Context, q internal.MetadataQuery) internal.MetadataCacheEntry {
	key := internal.NormalizedKey(q)

	if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return cached
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	candidate, runtime := c.resolveBestCandidate(reqCtx, q)
	entry := internal.MetadataCacheEntry{CachedAt: time.Now()}
	if candidate != nil {
		if candidate.Poster != "" {
			entry.Poster = candidate.Poster
		}
		rating := candidate.Rating
		entry.Rating = &rating
		cnt := candidate.RatingCnt
		entry.RatingCount = &cnt
		pop := candidate.Popularity
		entry.Popularity = &pop
		if runtime > 0 {
			entry.Runtime = &runtime
		}
	}

	if err := c.cache.Put(ctx, key, entry); err != nil {
		slog.Warn("metadata cache write failed", "key", key, "error", err)
	}
	return entry
}

// resolveBestCandidate implements the search-strategy fallback chain and
// best-match rule.
func (c *client) resolveBestCandidate(ctx context.Context, q internal.MetadataQuery) (*searchCandidate, int) {
	strategies := searchStrategies(q)

	for _, strategy := range strategies {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0
		}
		movies, series, movieErr, seriesErr := c.searchBoth(ctx, strategy)
		if movieErr != nil && seriesErr != nil {
			continue
		}

		all := append(append([]searchCandidate{}, movies...), series...)
		best := pickBestMatch(all, q.Year)
		if best == nil {
			continue
		}

		runtime := 0
		if err := c.limiter.Wait(ctx); err == nil {
			n := min(len(movies), maxDetailCandidates)
			isMovie := false
			for i := 0; i < n; i++ {
				if movies[i].ID == best.ID {
					isMovie = true
					break
				}
			}
			var rtErr error
			if isMovie {
				runtime, rtErr = c.backend.MovieRuntime(ctx, best.ID)
			} else {
				runtime, rtErr = c.backend.SeriesRuntime(ctx, best.ID)
			}
			if rtErr != nil {
				runtime = 0
			}
		}
		return best, runtime
	}
	return nil, 0
}

// searchBoth runs the movie and series searches for one strategy string in
// parallel, each against its own rate-limiter token.
func (c *client) searchBoth(ctx context.Context, strategy string) ([]searchCandidate, []searchCandidate, error, error) {
	type result struct {
		candidates []searchCandidate
		err        error
	}
	movieCh := make(chan result, 1)
	seriesCh := make(chan result, 1)

	go func() {
		if err := c.limiter.Wait(ctx); err != nil {
			movieCh <- result{err: err}
			return
		}
		candidates, err := c.backend.SearchMovies(ctx, strategy)
		movieCh <- result{candidates: candidates, err: err}
	}()
	go func() {
		if err := c.limiter.Wait(ctx); err != nil {
			seriesCh <- result{err: err}
			return
		}
		candidates, err := c.backend.SearchSeries(ctx, strategy)
		seriesCh <- result{candidates: candidates, err: err}
	}()

	movies := <-movieCh
	series := <-seriesCh
	return movies.candidates, series.candidates, movies.err, series.err
}

// searchStrategies builds the fallback order: exact
// title + year, normalized title + year, exact title without year,
// normalized title without year. When no year is given only the title
// variants run.
func searchStrategies(q internal.MetadataQuery) []string {
	normalized := internal.NormalizeTitle(q.Title)
	if q.Year == "" {
		return uniqueNonEmpty(q.Title, normalized)
	}
	return uniqueNonEmpty(q.Title+" "+q.Year, normalized+" "+q.Year, q.Title, normalized)
}

func uniqueNonEmpty(values ...string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// pickBestMatch scores candidates: if a year is present, the
// candidate whose year is closest wins, ties broken by popularity
// descending; otherwise the highest-popularity candidate wins.
func pickBestMatch(candidates []searchCandidate, year string) *searchCandidate {
	if len(candidates) == 0 {
		return nil
	}
	if year == "" {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Popularity > candidates[j].Popularity
		})
		return &candidates[0]
	}

	targetYear := atoiOrZero(year)
	sort.SliceStable(candidates, func(i, j int) bool {
		di := yearDistance(candidates[i].Year, targetYear)
		dj := yearDistance(candidates[j].Year, targetYear)
		if di != dj {
			return di < dj
		}
		return candidates[i].Popularity > candidates[j].Popularity
	})
	return &candidates[0]
}

func yearDistance(candidateYear string, target int) int {
	y := atoiOrZero(candidateYear)
	if y == 0 || target == 0 {
		return 1 << 30
	}
	d := y - target
	if d < 0 {
		d = -d
	}
	return d
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

package metadata

import (
	"context"
	"time"

	"github.com/riverbend/watchlistd/internal"
)

// ClassifyBatch runs both movie and
// series searches per query and chooses by popularity tie-break, consulting
// the override list first. Batches are smaller than LookupBatch
// (classifyBatchSize) because each query issues two API calls.
func (c *client) ClassifyBatch(ctx context.Context, queries []internal.MetadataQuery) (map[string]internal.Kind, error) {
	results := make(map[string]internal.Kind, len(queries))

	for start := 0; start < len(queries); start += classifyBatchSize {
		end := start + classifyBatchSize
		if end > len(queries) {
			end = len(queries)
		}
		batch := queries[start:end]

		type outcome struct {
			key  string
			kind internal.Kind
		}
		out := make(chan outcome, len(batch))

		for _, q := range batch {
			go func() {
				out <- outcome{key: internal.NormalizedKey(q), kind: c.classifyOne(ctx, q)}
			}()
		}
		for range batch {
			o := <-out
			results[o.key] = o.kind
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

func (c *client) classifyOne(ctx context.Context, q internal.MetadataQuery) internal.Kind {
	key := internal.NormalizedKey(q)
	if kind, ok := c.overrides.Lookup(key); ok {
		return kind
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.sem.Acquire(reqCtx, 1); err != nil {
		return internal.KindMovie
	}
	defer c.sem.Release(1)

	query := q.Title
	if q.Year != "" {
		query = q.Title + " " + q.Year
	}

	_ = c.limiter.Wait(reqCtx)
	movies, movieErr := c.backend.SearchMovies(reqCtx, query)
	_ = c.limiter.Wait(reqCtx)
	series, seriesErr := c.backend.SearchSeries(reqCtx, query)

	if movieErr != nil && seriesErr != nil {
		return internal.KindMovie
	}

	var bestMoviePop, bestSeriesPop float64
	if len(movies) > 0 {
		bestMoviePop = movies[0].Popularity
		for _, m := range movies {
			if m.Popularity > bestMoviePop {
				bestMoviePop = m.Popularity
			}
		}
	}
	if len(series) > 0 {
		bestSeriesPop = series[0].Popularity
		for _, s := range series {
			if s.Popularity > bestSeriesPop {
				bestSeriesPop = s.Popularity
			}
		}
	}

	if len(movies) == 0 && len(series) == 0 {
		return internal.KindMovie
	}
	if bestSeriesPop > bestMoviePop {
		return internal.KindSeries
	}
	return internal.KindMovie
}

// Package metadata implements the Metadata Client: rate limited, batched,
// cache-backed enrichment lookups against the external metadata API. The
// external-API calls themselves drive cyruzin/golang-tmdb directly, but
// that call surface is narrowed to a small searchCandidate-returning
// interface so the rate-limiting, batching, best-match, and caching logic
// (the actual subject of this package) can be exercised in tests without a
// live TMDB account.
package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	tmdb "github.com/cyruzin/golang-tmdb"

	"github.com/riverbend/watchlistd/internal/httputil"
)

// searchCandidate is one result from a movie or series search, normalized
// across TMDB's separate movie/TV result shapes.
type searchCandidate struct {
	ID         int64
	Title      string
	Year       string
	Popularity float64
	Rating     float64
	RatingCnt  int
	Poster     string
}

// backend is the narrowed TMDB call surface the client needs. tmdbBackend
// is the production implementation; tests supply a fake.
type backend interface {
	SearchMovies(ctx context.Context, query string) ([]searchCandidate, error)
	SearchSeries(ctx context.Context, query string) ([]searchCandidate, error)
	MovieRuntime(ctx context.Context, id int64) (int, error)
	SeriesRuntime(ctx context.Context, id int64) (int, error)
}

// posterImageBase is TMDB's image CDN prefix; w342 is sized for
// watchlist-sized poster thumbnails rather than full detail-page art.
const posterImageBase = "https://image.tmdb.org/t/p/w342"

// resolvePoster turns a bare TMDB poster_path into the full CDN URL the
// API's search/detail responses never include outright.
func resolvePoster(posterPath string) string {
	if posterPath == "" {
		return ""
	}
	return posterImageBase + posterPath
}

type tmdbBackend struct {
	client *tmdb.Client
}

// newTMDBBackend initializes a v4 (bearer token) TMDB client wrapped in an
// httputil.CacheTransport: detail fetches (GetMovieDetails, GetTVDetails)
// are re-issued for the same candidate IDs across overlapping batches
// within a single LookupBatch call, and this cache avoids paying for them
// twice.
func newTMDBBackend(apiKey string) (*tmdbBackend, error) {
	client, err := tmdb.InitV4(apiKey)
	if err != nil {
		return nil, fmt.Errorf("init tmdb client: %w", err)
	}
	cacheTransport := &httputil.CacheTransport{
		Base: http.DefaultTransport,
		OnCacheHit: func(cacheKey string, hit bool) {
			if hit {
				slog.Debug("tmdb request cache hit", "key", cacheKey)
			}
		},
	}
	client.SetClientConfig(http.Client{Transport: cacheTransport})
	return &tmdbBackend{client: client}, nil
}

func (b *tmdbBackend) SearchMovies(_ context.Context, query string) ([]searchCandidate, error) {
	res, err := b.client.GetSearchMovies(query, map[string]string{"language": "en-US"})
	if err != nil {
		return nil, err
	}
	out := make([]searchCandidate, 0, len(res.Results))
	for _, r := range res.Results {
		year := ""
		if len(r.ReleaseDate) >= 4 {
			year = r.ReleaseDate[:4]
		}
		out = append(out, searchCandidate{
			ID:         r.ID,
			Title:      r.Title,
			Year:       year,
			Popularity: float64(r.Popularity),
			Rating:     float64(r.VoteAverage),
			RatingCnt:  int(r.VoteCount),
			Poster:     resolvePoster(r.PosterPath),
		})
	}
	return out, nil
}

func (b *tmdbBackend) SearchSeries(_ context.Context, query string) ([]searchCandidate, error) {
	res, err := b.client.GetSearchTVShow(query, map[string]string{"language": "en-US"})
	if err != nil {
		return nil, err
	}
	out := make([]searchCandidate, 0, len(res.Results))
	for _, r := range res.Results {
		year := ""
		if len(r.FirstAirDate) >= 4 {
			year = r.FirstAirDate[:4]
		}
		out = append(out, searchCandidate{
			ID:         r.ID,
			Title:      r.Name,
			Year:       year,
			Popularity: float64(r.Popularity),
			Rating:     float64(r.VoteAverage),
			RatingCnt:  int(r.VoteCount),
			Poster:     resolvePoster(r.PosterPath),
		})
	}
	return out, nil
}

func (b *tmdbBackend) MovieRuntime(_ context.Context, id int64) (int, error) {
	details, err := b.client.GetMovieDetails(int(id), nil)
	if err != nil {
		return 0, err
	}
	return details.Runtime, nil
}

func (b *tmdbBackend) SeriesRuntime(_ context.Context, id int64) (int, error) {
	details, err := b.client.GetTVDetails(int(id), nil)
	if err != nil {
		return 0, err
	}
	if len(details.EpisodeRunTime) == 0 {
		return 0, nil
	}
	return int(details.EpisodeRunTime[0]), nil
}

var _ backend = (*tmdbBackend)(nil)

package metadata

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/riverbend/watchlistd/internal"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	movies  map[string][]searchCandidate
	series  map[string][]searchCandidate
	runtime map[int64]int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		movies:  map[string][]searchCandidate{},
		series:  map[string][]searchCandidate{},
		runtime: map[int64]int{},
	}
}

func (f *fakeBackend) SearchMovies(_ context.Context, query string) ([]searchCandidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.movies[query], nil
}

func (f *fakeBackend) SearchSeries(_ context.Context, query string) ([]searchCandidate, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.series[query], nil
}

func (f *fakeBackend) MovieRuntime(_ context.Context, id int64) (int, error) {
	return f.runtime[id], nil
}

func (f *fakeBackend) SeriesRuntime(_ context.Context, id int64) (int, error) {
	return f.runtime[id], nil
}

type fakeMetadataCache struct {
	mu      sync.Mutex
	entries map[string]internal.MetadataCacheEntry
}

func newFakeMetadataCache() *fakeMetadataCache {
	return &fakeMetadataCache{entries: map[string]internal.MetadataCacheEntry{}}
}

func (c *fakeMetadataCache) Get(_ context.Context, key string) (internal.MetadataCacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return e, ok, nil
}

func (c *fakeMetadataCache) Put(_ context.Context, key string, entry internal.MetadataCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	return nil
}

func newTestClient(t *testing.T, b *fakeBackend, cache internal.MetadataCache, overrides Overrides) *client {
	t.Helper()
	return &client{
		backend:   b,
		cache:     cache,
		overrides: overrides,
		limiter:   rate.NewLimiter(rate.Inf, 1),
		sem:       semaphore.NewWeighted(inFlightPerBatch),
		timeout:   time.Second,
	}
}

func TestUnit_LookupBatch_PopulatesFieldsFromBestMatch(t *testing.T) {
	b := newFakeBackend()
	b.movies["The Matrix 1999"] = []searchCandidate{
		{ID: 603, Title: "The Matrix", Year: "1999", Popularity: 42.0, Rating: 8.7, RatingCnt: 2000, Poster: "/matrix.jpg"},
	}
	b.runtime[603] = 136

	c := newTestClient(t, b, newFakeMetadataCache(), nil)
	out, err := c.LookupBatch(context.Background(), []internal.MetadataQuery{{Title: "The Matrix", Year: "1999"}})
	require.NoError(t, err)

	key := internal.NormalizedKey(internal.MetadataQuery{Title: "The Matrix", Year: "1999"})
	entry, ok := out[key]
	require.True(t, ok)
	assert.Equal(t, "/matrix.jpg", entry.Poster)
	require.NotNil(t, entry.Runtime)
	assert.Equal(t, 136, *entry.Runtime)
	require.NotNil(t, entry.Rating)
	assert.Equal(t, 8.7, *entry.Rating)
}

func TestUnit_LookupBatch_ReturnsPresentButEmptyOnNoMatch(t *testing.T) {
	b := newFakeBackend()
	c := newTestClient(t, b, newFakeMetadataCache(), nil)

	out, err := c.LookupBatch(context.Background(), []internal.MetadataQuery{{Title: "Nonexistent Title", Year: "2031"}})
	require.NoError(t, err)

	key := internal.NormalizedKey(internal.MetadataQuery{Title: "Nonexistent Title", Year: "2031"})
	entry, ok := out[key]
	require.True(t, ok, "a query with no result still gets an entry")
	assert.Nil(t, entry.Rating)
	assert.Empty(t, entry.Poster)
}

func TestUnit_LookupBatch_ServesFromCacheWithoutCallingBackend(t *testing.T) {
	b := newFakeBackend()
	cache := newFakeMetadataCache()
	q := internal.MetadataQuery{Title: "Cached Movie", Year: "2020"}
	rating := 9.0
	require.NoError(t, cache.Put(context.Background(), internal.NormalizedKey(q), internal.MetadataCacheEntry{Rating: &rating}))

	c := newTestClient(t, b, cache, nil)
	out, err := c.LookupBatch(context.Background(), []internal.MetadataQuery{q})
	require.NoError(t, err)

	assert.Equal(t, 0, b.calls)
	entry := out[internal.NormalizedKey(q)]
	require.NotNil(t, entry.Rating)
	assert.Equal(t, 9.0, *entry.Rating)
}

func TestUnit_LookupBatch_FallsBackThroughSearchStrategies(t *testing.T) {
	b := newFakeBackend()
	// No "Title Case 2020" match, but the normalized-title-without-year form does.
	b.movies["title case"] = []searchCandidate{
		{ID: 1, Title: "Title Case", Year: "2020", Popularity: 5.0},
	}

	c := newTestClient(t, b, newFakeMetadataCache(), nil)
	out, err := c.LookupBatch(context.Background(), []internal.MetadataQuery{{Title: "Title Case", Year: "2020"}})
	require.NoError(t, err)

	key := internal.NormalizedKey(internal.MetadataQuery{Title: "Title Case", Year: "2020"})
	entry := out[key]
	require.NotNil(t, entry.Popularity)
	assert.Equal(t, 5.0, *entry.Popularity)
}

func TestUnit_ClassifyBatch_PrefersOverrideList(t *testing.T) {
	b := newFakeBackend()
	q := internal.MetadataQuery{Title: "Ambiguous Title", Year: "2015"}
	key := internal.NormalizedKey(q)
	overrides := Overrides{key: internal.KindSeries}

	c := newTestClient(t, b, newFakeMetadataCache(), overrides)
	out, err := c.ClassifyBatch(context.Background(), []internal.MetadataQuery{q})
	require.NoError(t, err)
	assert.Equal(t, internal.KindSeries, out[key])
	assert.Equal(t, 0, b.calls, "override hit should skip the API entirely")
}

func TestUnit_ClassifyBatch_PicksHigherPopularityKind(t *testing.T) {
	b := newFakeBackend()
	b.movies["Loud House 2019"] = []searchCandidate{{ID: 1, Popularity: 5.0}}
	b.series["Loud House 2019"] = []searchCandidate{{ID: 2, Popularity: 50.0}}

	c := newTestClient(t, b, newFakeMetadataCache(), nil)
	q := internal.MetadataQuery{Title: "Loud House", Year: "2019"}
	out, err := c.ClassifyBatch(context.Background(), []internal.MetadataQuery{q})
	require.NoError(t, err)
	assert.Equal(t, internal.KindSeries, out[internal.NormalizedKey(q)])
}

func TestUnit_PickBestMatch_PrefersClosestYearThenPopularity(t *testing.T) {
	candidates := []searchCandidate{
		{ID: 1, Year: "1990", Popularity: 100},
		{ID: 2, Year: "1999", Popularity: 1},
		{ID: 3, Year: "2001", Popularity: 50},
	}
	best := pickBestMatch(candidates, "1999")
	require.NotNil(t, best)
	assert.Equal(t, int64(2), best.ID)
}

func TestUnit_PickBestMatch_NoYearPicksHighestPopularity(t *testing.T) {
	candidates := []searchCandidate{
		{ID: 1, Popularity: 10},
		{ID: 2, Popularity: 90},
	}
	best := pickBestMatch(candidates, "")
	require.NotNil(t, best)
	assert.Equal(t, int64(2), best.ID)
}

package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverbend/watchlistd/internal"
)

type fakePage struct{}

func (fakePage) Eval(context.Context, string, []interface{}, interface{}) error { return nil }

type fakeHandle struct{ page internal.Page }

func (h fakeHandle) Page() internal.Page                 { return h.page }
func (h fakeHandle) Release(context.Context, bool) error { return nil }

// fakeDriver returns one page per URL; AcquirePage calls are counted so
// tests can assert on navigation attempts.
type fakeDriver struct {
	acquireCount atomic.Int32
	failURLs     map[string]bool
}

func (d *fakeDriver) AcquirePage(_ context.Context, _ string, url string) (internal.PageHandle, error) {
	d.acquireCount.Add(1)
	if d.failURLs[url] {
		return nil, internal.NewError(internal.ErrNavigationTimeout, "fake failure", nil)
	}
	return fakeHandle{page: fakePage{}}, nil
}

func (d *fakeDriver) Close() error { return nil }

// fakeExtractor returns a fixed page-indexed item set, keyed by a counter
// of how many times Extract has been called. If gate is non-nil, the first
// call blocks on it so tests can force overlap between concurrent callers.
type fakeExtractor struct {
	mu       sync.Mutex
	calls    int
	pages    [][]internal.RawItem
	failOn   map[int]bool
	failKind map[int]internal.ErrorKind

	gate    chan struct{}
	started chan struct{}
}

func (e *fakeExtractor) Extract(context.Context, internal.Page) ([]internal.RawItem, internal.ExtractionDiagnostics, error) {
	e.mu.Lock()
	idx := e.calls
	e.calls++
	e.mu.Unlock()

	if idx == 0 && e.gate != nil {
		close(e.started)
		<-e.gate
	}

	if kind, ok := e.failKind[idx]; ok {
		return nil, internal.ExtractionDiagnostics{}, internal.NewError(kind, "fake extract failure", nil)
	}
	if e.failOn[idx] {
		return nil, internal.ExtractionDiagnostics{}, internal.NewError(internal.ErrNavigationTimeout, "fake extract failure", nil)
	}
	if idx >= len(e.pages) {
		return nil, internal.ExtractionDiagnostics{}, nil
	}
	items := e.pages[idx]
	return items, internal.ExtractionDiagnostics{TotalAnchors: len(items)}, nil
}

type fakeMetadataClient struct{}

func (fakeMetadataClient) LookupBatch(_ context.Context, queries []internal.MetadataQuery) (map[string]internal.MetadataCacheEntry, error) {
	out := make(map[string]internal.MetadataCacheEntry, len(queries))
	for _, q := range queries {
		out[internal.NormalizedKey(q)] = internal.MetadataCacheEntry{}
	}
	return out, nil
}

func (fakeMetadataClient) ClassifyBatch(_ context.Context, queries []internal.MetadataQuery) (map[string]internal.Kind, error) {
	out := make(map[string]internal.Kind, len(queries))
	for _, q := range queries {
		out[internal.NormalizedKey(q)] = internal.KindMovie
	}
	return out, nil
}

type fakeResultCache struct {
	mu      sync.Mutex
	entries map[string]internal.WatchlistCacheEntry
	ages    map[string]time.Duration
	puts    int
}

func newFakeResultCache() *fakeResultCache {
	return &fakeResultCache{entries: map[string]internal.WatchlistCacheEntry{}, ages: map[string]time.Duration{}}
}

func (c *fakeResultCache) Get(_ context.Context, userID string) (internal.WatchlistCacheEntry, time.Duration, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	return e, c.ages[userID], ok, nil
}

func (c *fakeResultCache) Put(_ context.Context, userID string, entry internal.WatchlistCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[userID] = entry
	c.ages[userID] = 0
	c.puts++
	return nil
}

func (c *fakeResultCache) Exists(_ context.Context, userID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok, nil
}

func rawItems(ids ...string) []internal.RawItem {
	out := make([]internal.RawItem, len(ids))
	for i, id := range ids {
		out[i] = internal.RawItem{ItemID: id, Title: "Title " + id, Kind: internal.KindMovie}
	}
	return out
}

func TestUnit_Scrape_DedupesAcrossPagesAndCachesResult(t *testing.T) {
	driver := &fakeDriver{failURLs: map[string]bool{}}
	extractor := &fakeExtractor{pages: [][]internal.RawItem{
		rawItems("tt1", "tt2", "tt3"),
		rawItems("tt3", "tt4"), // tt3 repeats across pages
	}}
	cache := newFakeResultCache()

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 2, "https://example.test")
	entry, err := o.Scrape(context.Background(), "ur1", false)
	require.NoError(t, err)
	require.Len(t, entry.Items, 4)
	assert.Equal(t, 1, cache.puts)
}

func TestUnit_Scrape_BelowMinimumItemsIsNotCached(t *testing.T) {
	driver := &fakeDriver{}
	extractor := &fakeExtractor{pages: [][]internal.RawItem{rawItems("tt1")}}
	cache := newFakeResultCache()

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 1, "https://example.test")
	_, err := o.Scrape(context.Background(), "ur2", false)
	require.Error(t, err)
	assert.Equal(t, internal.ErrExtractionPartial, internal.KindOf(err))
	assert.Equal(t, 0, cache.puts)
}

func TestUnit_Scrape_AllPagesEmptyReturnsExtractionEmpty(t *testing.T) {
	driver := &fakeDriver{}
	extractor := &fakeExtractor{pages: [][]internal.RawItem{{}, {}}}
	cache := newFakeResultCache()

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 2, "https://example.test")
	_, err := o.Scrape(context.Background(), "ur3", false)
	require.Error(t, err)
	assert.Equal(t, internal.ErrExtractionEmpty, internal.KindOf(err))
}

func TestUnit_Scrape_PrivateWatchlistIsFatalAndSkipsRemainingPages(t *testing.T) {
	driver := &fakeDriver{}
	extractor := &fakeExtractor{failKind: map[int]internal.ErrorKind{0: internal.ErrUpstreamPrivate}}
	cache := newFakeResultCache()

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 2, "https://example.test")
	_, err := o.Scrape(context.Background(), "ur7", false)
	require.Error(t, err)
	assert.Equal(t, internal.ErrUpstreamPrivate, internal.KindOf(err))
	assert.False(t, internal.ErrUpstreamPrivate.Transient())
	assert.Equal(t, int32(1), driver.acquireCount.Load(), "page=2 must not be visited once the list is known private")
	assert.Equal(t, 0, cache.puts)
}

func TestUnit_Scrape_UsesFreshCacheWithoutLaunchingBrowser(t *testing.T) {
	driver := &fakeDriver{}
	extractor := &fakeExtractor{}
	cache := newFakeResultCache()
	cache.entries["ur4"] = internal.WatchlistCacheEntry{UserID: "ur4", Items: rawItemsToWatchlist("tt1", "tt2", "tt3")}
	cache.ages["ur4"] = time.Minute

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 2, "https://example.test")
	entry, err := o.Scrape(context.Background(), "ur4", false)
	require.NoError(t, err)
	require.Len(t, entry.Items, 3)
	assert.Equal(t, int32(0), driver.acquireCount.Load())
}

func TestUnit_Scrape_ForceRefreshIgnoresFreshCache(t *testing.T) {
	driver := &fakeDriver{}
	extractor := &fakeExtractor{pages: [][]internal.RawItem{rawItems("tt5", "tt6", "tt7")}}
	cache := newFakeResultCache()
	cache.entries["ur5"] = internal.WatchlistCacheEntry{UserID: "ur5", Items: rawItemsToWatchlist("tt1", "tt2", "tt3")}
	cache.ages["ur5"] = time.Minute

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 1, "https://example.test")
	entry, err := o.Scrape(context.Background(), "ur5", true)
	require.NoError(t, err)
	assert.True(t, driver.acquireCount.Load() > 0)
	require.Len(t, entry.Items, 3)
	assert.Equal(t, "tt5", entry.Items[0].ItemID)
}

func TestUnit_Scrape_ConcurrentRequestsForSameUserShareOneRun(t *testing.T) {
	driver := &fakeDriver{}
	extractor := &fakeExtractor{
		pages:   [][]internal.RawItem{rawItems("tt1", "tt2", "tt3")},
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	cache := newFakeResultCache()

	o := New(driver, extractor, fakeMetadataClient{}, cache, time.Hour, 1, "https://example.test")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := o.Scrape(context.Background(), "ur6", false)
			assert.NoError(t, err)
		}()
	}

	<-extractor.started
	time.Sleep(20 * time.Millisecond) // let the other launched goroutines reach singleflight.Do
	close(extractor.gate)
	wg.Wait()

	assert.Equal(t, int32(1), driver.acquireCount.Load(), "single-flight should collapse concurrent scrapes for one user")
}

func rawItemsToWatchlist(ids ...string) []internal.WatchlistItem {
	out := make([]internal.WatchlistItem, len(ids))
	for i, id := range ids {
		out[i] = internal.WatchlistItem{ItemID: id, Title: "Title " + id, Kind: internal.KindMovie}
	}
	return out
}

// Package orchestrator implements the scrape orchestrator: the single
// place that drives the Browser Driver, Page Extractor, and Metadata
// Client for one user's watchlist, deduplicates concurrent requests for
// the same user, and decides what gets written to the Result Cache. The
// per-user in-flight dedup is golang.org/x/sync/singleflight, the same
// family of x/sync primitive the Browser Driver already uses
// (semaphore.Weighted) for its own concurrency bound: one in-flight call
// per key, late joiners block on the same result instead of starting a
// redundant scrape.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/riverbend/watchlistd/internal"
)

const (
	minCacheableItems = 3
	perPageCap        = 250
	hardItemCap       = 400
)

type orchestrator struct {
	driver      internal.BrowserDriver
	extractor   internal.Extractor
	metadata    internal.MetadataClient
	resultCache internal.ResultCache
	cacheTTL    time.Duration
	maxPages    int
	baseURL     string

	sf singleflight.Group
}

// New returns the Scrape Orchestrator. maxPages bounds the page=N probe
// loop (the watchlist URL for page 1, then the same URL with &page=2,
// &page=3, ...) before collection stops; values above 5 are clamped to 5.
func New(driver internal.BrowserDriver, extractor internal.Extractor, metadata internal.MetadataClient, resultCache internal.ResultCache, cacheTTL time.Duration, maxPages int, baseURL string) internal.Orchestrator {
	if maxPages <= 0 {
		maxPages = 2
	}
	if maxPages > 5 {
		maxPages = 5
	}
	return &orchestrator{
		driver:      driver,
		extractor:   extractor,
		metadata:    metadata,
		resultCache: resultCache,
		cacheTTL:    cacheTTL,
		maxPages:    maxPages,
		baseURL:     baseURL,
	}
}

func (o *orchestrator) Scrape(ctx context.Context, userID string, forceRefresh bool) (internal.WatchlistCacheEntry, error) {
	if !forceRefresh {
		if entry, age, ok, err := o.resultCache.Get(ctx, userID); err == nil && ok && age < o.cacheTTL {
			return entry, nil
		}
	}

	v, err, _ := o.sf.Do(userID, func() (interface{}, error) {
		return o.scrapeFresh(ctx, userID)
	})
	if err != nil {
		return internal.WatchlistCacheEntry{}, err
	}
	return v.(internal.WatchlistCacheEntry), nil
}

func (o *orchestrator) scrapeFresh(ctx context.Context, userID string) (internal.WatchlistCacheEntry, error) {
	raw, diagnostics, pagesVisited, err := o.collectPages(ctx, userID)
	if err != nil {
		return internal.WatchlistCacheEntry{}, err
	}
	if len(raw) == 0 {
		return internal.WatchlistCacheEntry{}, internal.NewError(internal.ErrExtractionEmpty, "no items across "+fmt.Sprint(pagesVisited)+" page(s)", nil)
	}

	items := assignSyntheticOrder(raw)
	o.enrich(ctx, items)

	entry := internal.WatchlistCacheEntry{
		UserID:    userID,
		Items:     items,
		FetchedAt: time.Now(),
		Metadata:  diagnosticsToMap(diagnostics, pagesVisited),
	}

	if len(items) < minCacheableItems {
		return entry, internal.NewError(internal.ErrExtractionPartial, fmt.Sprintf("only %d items, not cached", len(items)), nil)
	}

	if err := o.resultCache.Put(ctx, userID, entry); err != nil {
		slog.Warn("result cache write failed", "user_id", userID, "error", err)
	}
	return entry, nil
}

// collectPages implements the multi-page collection strategy and its early
// exits (hard item cap; a page that adds nothing new once more than
// perPageCap items are collected).
func (o *orchestrator) collectPages(ctx context.Context, userID string) ([]internal.RawItem, internal.ExtractionDiagnostics, int, error) {
	seen := make(map[string]bool)
	var ordered []internal.RawItem
	var total internal.ExtractionDiagnostics
	pagesVisited := 0
	pagesFailed := 0

	for page := 1; page <= o.maxPages; page++ {
		url := watchlistURL(o.baseURL, userID, page)
		newCount, diag, err := o.visitPage(ctx, userID, url, seen, &ordered)
		if err != nil {
			if kind := internal.KindOf(err); kind == internal.ErrUpstreamPrivate || kind == internal.ErrUpstreamNotFound {
				return nil, total, pagesVisited, err
			}
			pagesFailed++
			slog.Warn("page visit failed", "user_id", userID, "page", page, "error", err)
			continue
		}
		pagesVisited++
		total.TotalAnchors += diag.TotalAnchors
		total.PostFilter += diag.PostFilter
		total.Duplicates += diag.Duplicates
		total.IDlessAnchors += diag.IDlessAnchors
		total.TitleFallbacks += diag.TitleFallbacks

		if len(ordered) >= hardItemCap {
			break
		}
		if newCount == 0 && len(ordered) > perPageCap {
			break
		}
	}

	if pagesVisited == 0 && pagesFailed > 0 {
		return nil, total, pagesVisited, internal.NewError(internal.ErrNavigationTimeout, "every page failed", nil)
	}
	return ordered, total, pagesVisited, nil
}

func (o *orchestrator) visitPage(ctx context.Context, userID, url string, seen map[string]bool, ordered *[]internal.RawItem) (int, internal.ExtractionDiagnostics, error) {
	handle, err := o.driver.AcquirePage(ctx, userID, url)
	if err != nil {
		return 0, internal.ExtractionDiagnostics{}, err
	}
	committed := false
	defer func() {
		if releaseErr := handle.Release(ctx, committed); releaseErr != nil {
			slog.Warn("release page failed", "user_id", userID, "error", releaseErr)
		}
	}()

	items, diag, err := o.extractor.Extract(ctx, handle.Page())
	if err != nil {
		return 0, diag, err
	}
	committed = true

	newCount := 0
	for _, item := range items {
		if seen[item.ItemID] {
			continue
		}
		seen[item.ItemID] = true
		*ordered = append(*ordered, item)
		newCount++
	}
	return newCount, diag, nil
}

func watchlistURL(baseURL, userID string, page int) string {
	url := fmt.Sprintf("%s/user/%s/watchlist?sort=created:desc&view=detail", baseURL, userID)
	if page > 1 {
		url += fmt.Sprintf("&page=%d", page)
	}
	return url
}

// assignSyntheticOrder assigns the synthetic AddedAt rule:
// AddedAt = now - (globalIndex * 1s), then sorted descending by AddedAt
// (a no-op given how it was assigned, but stated explicitly since it is the
// only ordering guarantee the API exposes).
func assignSyntheticOrder(raw []internal.RawItem) []internal.WatchlistItem {
	now := time.Now()
	items := make([]internal.WatchlistItem, len(raw))
	for i, r := range raw {
		items[i] = internal.WatchlistItem{
			ItemID:  r.ItemID,
			Title:   r.Title,
			Year:    r.Year,
			Kind:    r.Kind,
			AddedAt: now.Add(-time.Duration(i) * time.Second),
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AddedAt.After(items[j].AddedAt)
	})
	return items
}

// enrich runs the enrichment phase: classify first
// (overwrites Kind unconditionally), then lookup (fills only absent
// fields). Metadata failures are logged and do not fail the scrape.
func (o *orchestrator) enrich(ctx context.Context, items []internal.WatchlistItem) {
	queries := make([]internal.MetadataQuery, len(items))
	for i, item := range items {
		queries[i] = internal.MetadataQuery{Title: item.Title, Year: item.Year}
	}

	kinds, err := o.metadata.ClassifyBatch(ctx, queries)
	if err != nil {
		slog.Warn("classify batch failed", "error", err)
	}
	for i := range items {
		key := internal.NormalizedKey(queries[i])
		if kind, ok := kinds[key]; ok {
			items[i].Kind = kind
		}
	}

	lookups, err := o.metadata.LookupBatch(ctx, queries)
	if err != nil {
		slog.Warn("lookup batch failed", "error", err)
		return
	}
	for i := range items {
		key := internal.NormalizedKey(queries[i])
		entry, ok := lookups[key]
		if !ok {
			continue
		}
		if items[i].Poster == "" && entry.Poster != "" {
			items[i].Poster = entry.Poster
		}
		if items[i].Rating == nil && entry.Rating != nil {
			items[i].Rating = entry.Rating
		}
		if items[i].RatingCount == nil && entry.RatingCount != nil {
			items[i].RatingCount = entry.RatingCount
		}
		if items[i].Runtime == nil && entry.Runtime != nil {
			items[i].Runtime = entry.Runtime
		}
		if items[i].Popularity == nil && entry.Popularity != nil {
			items[i].Popularity = entry.Popularity
		}
	}
}

func diagnosticsToMap(diag internal.ExtractionDiagnostics, pagesVisited int) map[string]interface{} {
	return map[string]interface{}{
		"total_anchors":   diag.TotalAnchors,
		"post_filter":     diag.PostFilter,
		"duplicates":      diag.Duplicates,
		"idless_anchors":  diag.IDlessAnchors,
		"title_fallbacks": diag.TitleFallbacks,
		"pages_visited":   pagesVisited,
	}
}

package internal

import "context"

// RawItem is one item as extracted from the DOM, before enrichment.
type RawItem struct {
	ItemID string
	Title  string
	Year   string
	Kind   Kind // provisional, later overridden by metadata.ClassifyBatch
}

// ExtractionDiagnostics are the anti-duplication counters the Page Extractor
// must emit so callers can carry them into cache metadata.
type ExtractionDiagnostics struct {
	TotalAnchors   int `json:"total_anchors"`
	PostFilter     int `json:"post_filter"`
	Duplicates     int `json:"duplicates"`
	IDlessAnchors  int `json:"idless_anchors"`
	TitleFallbacks int `json:"title_fallbacks"`
}

// Extractor turns a fully-loaded, fully-scrolled page into a deduplicated,
// ordered sequence of raw items.
type Extractor interface {
	Extract(ctx context.Context, page Page) ([]RawItem, ExtractionDiagnostics, error)
}

package extractor

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverbend/watchlistd/internal"
)

func TestMain(m *testing.M) {
	scrollWait = 0
	postScrollSettle = 0
	topSettleWait = 0
	os.Exit(m.Run())
}

// fakePage is an internal.Page stand-in that serves fixed JSON responses
// keyed by a distinguishing substring of the script, so Extract can be
// exercised without a browser.
type fakePage struct {
	scrollCounts []int
	scrollIdx    int
	anchors      []rawAnchor
	status       pageStatus
}

func (p *fakePage) Eval(_ context.Context, script string, _ []interface{}, dest interface{}) error {
	switch {
	case script == pageStatusScript:
		return assignJSON(p.status, dest)
	case script == scrollStepScript:
		count := p.scrollCounts[p.scrollIdx]
		if p.scrollIdx < len(p.scrollCounts)-1 {
			p.scrollIdx++
		}
		return assignJSON(count, dest)
	case script == scrollToTopScript:
		return nil
	case script == collectAnchorsScript:
		return assignJSON(p.anchors, dest)
	default:
		return nil
	}
}

func assignJSON(v interface{}, dest interface{}) error {
	if dest == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func TestUnit_Extract_DropsShadowAnchorsBeforeDedup(t *testing.T) {
	page := &fakePage{
		scrollCounts: []int{4, 4, 4, 4},
		anchors: []rawAnchor{
			{Href: "/title/tt0111161/", Text: ""}, // shadow duplicate, no text
			{Href: "/title/tt0111161/", Text: "1. The Shawshank Redemption", AncestorAllText: "1994 Movie"},
			{Href: "/title/tt0068646/", Text: "2. The Godfather", AncestorAllText: "1972 Movie"},
			{Href: "/title/tt0468569/", Text: "3. The Dark Knight", AncestorAllText: "2008 Movie"},
		},
	}

	items, diag, err := New().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, 4, diag.TotalAnchors)
	assert.Equal(t, 3, diag.PostFilter)
	// The shadow anchor never reaches dedup: it is dropped by the text
	// pre-filter, so the surviving tt0111161 anchor is a first occurrence.
	assert.Equal(t, 0, diag.Duplicates)
	assert.Equal(t, "The Shawshank Redemption", items[0].Title)
	assert.Equal(t, "1994", items[0].Year)
	assert.Equal(t, "The Godfather", items[1].Title)
	assert.Equal(t, "The Dark Knight", items[2].Title)
}

func TestUnit_Extract_CountsTextBearingDuplicates(t *testing.T) {
	page := &fakePage{
		scrollCounts: []int{3, 3, 3},
		anchors: []rawAnchor{
			{Href: "/title/tt0068646/", Text: "2. The Godfather", AncestorAllText: "1972 Movie"},
			{Href: "/title/tt0068646/", Text: "The Godfather", AncestorAllText: "1972 Movie"},
			{Href: "/title/tt0468569/", Text: "3. The Dark Knight", AncestorAllText: "2008 Movie"},
		},
	}

	items, diag, err := New().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, 1, diag.Duplicates)
	assert.Equal(t, "The Godfather", items[0].Title)
}

func TestUnit_Extract_FiltersEmptyAndSentinelAnchors(t *testing.T) {
	page := &fakePage{
		scrollCounts: []int{2, 2, 2},
		anchors: []rawAnchor{
			{Href: "/title/tt0111161/", Text: ""},
			{Href: "/title/tt0111161/", Text: "View Title"},
			{Href: "/title/tt0111161/", Text: "tt0111161"},
			{Href: "/title/tt0111161/", Text: "1. The Shawshank Redemption", AncestorAllText: "1994 Movie"},
		},
	}

	items, diag, err := New().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "The Shawshank Redemption", items[0].Title)
	assert.Equal(t, 1, diag.PostFilter)
}

// The pre-filter guarantees every anchor reaching resolveTitle has text, so
// the later candidates in the priority chain are exercised directly here
// rather than through Extract.
func TestUnit_ResolveTitle_PriorityChain(t *testing.T) {
	tests := []struct {
		name     string
		anchor   rawAnchor
		expected string
		fellBack bool
	}{
		{"anchor text wins", rawAnchor{Text: "anchor text", AncestorTitle: "ancestor"}, "anchor text", false},
		{"ancestor title next", rawAnchor{AncestorTitle: "from ancestor", AriaLabel: "aria"}, "from ancestor", false},
		{"aria label next", rawAnchor{AriaLabel: "from aria", TitleAttr: "attr"}, "from aria", false},
		{"title attribute next", rawAnchor{TitleAttr: "from attr", SiblingText: "sibling"}, "from attr", false},
		{"sibling text last resort", rawAnchor{SiblingText: "from sibling"}, "from sibling", false},
		{"id-derived fallback", rawAnchor{}, "Untitled (99)", true},
		{"whitespace-only counts as absent", rawAnchor{Text: "   ", AriaLabel: "from aria"}, "from aria", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, fellBack := resolveTitle(tt.anchor, "tt0000099")
			assert.Equal(t, tt.expected, title)
			assert.Equal(t, tt.fellBack, fellBack)
		})
	}
}

func TestUnit_Extract_SkipsAnchorsWithoutParseableID(t *testing.T) {
	page := &fakePage{
		scrollCounts: []int{1, 1, 1},
		anchors: []rawAnchor{
			{Href: "/help/contents/", Text: "Not an item"},
		},
	}

	items, diag, err := New().Extract(context.Background(), page)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, diag.IDlessAnchors)
}

func TestUnit_Extract_PrivateWatchlistReturnsFatalKind(t *testing.T) {
	page := &fakePage{status: pageStatus{Private: true}}

	_, _, err := New().Extract(context.Background(), page)
	require.Error(t, err)
	assert.Equal(t, internal.ErrUpstreamPrivate, internal.KindOf(err))
	assert.False(t, internal.ErrUpstreamPrivate.Transient())
}

func TestUnit_Extract_MissingUserReturnsFatalKind(t *testing.T) {
	page := &fakePage{status: pageStatus{NotFound: true}}

	_, _, err := New().Extract(context.Background(), page)
	require.Error(t, err)
	assert.Equal(t, internal.ErrUpstreamNotFound, internal.KindOf(err))
	assert.False(t, internal.ErrUpstreamNotFound.Transient())
}

func TestUnit_Extract_ClassifiesSeriesFromAncestorText(t *testing.T) {
	page := &fakePage{
		scrollCounts: []int{1, 1, 1},
		anchors: []rawAnchor{
			{Href: "/title/tt0903747/", Text: "Breaking Bad", AncestorAllText: "2008 TV Series"},
		},
	}

	items, _, err := New().Extract(context.Background(), page)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, internal.KindSeries, items[0].Kind)
}

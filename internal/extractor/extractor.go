// Package extractor implements the page extractor: the anti-duplication
// core that defeats the source site's virtual-scroll shadow-anchor
// rendering. In-page DOM walking is done via page.Eval, running a snippet
// in-page and unmarshaling the object or array it returns; the
// scroll/settle loop and all filtering, dedup, and field-priority
// decisions happen in Go once the raw anchor list comes back, so the
// algorithm itself is easy to unit test without a browser (see
// extractor_test.go).
package extractor

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/riverbend/watchlistd/internal"
)

const (
	stableIterations = 3
	maxScrollIters   = 25
)

// Overridable so tests don't pay real wall-clock time; production leaves
// these at their defaults.
var (
	scrollWait       = 800 * time.Millisecond
	postScrollSettle = 2 * time.Second
	topSettleWait    = 1500 * time.Millisecond
)

type pageExtractor struct{}

// New returns the Page Extractor.
func New() internal.Extractor {
	return &pageExtractor{}
}

// pageStatus is the private/not-found signal pageStatusScript reports
// before the scroll-and-extract pass runs. A private or nonexistent
// watchlist never has any item anchors to scroll for, so this check runs
// first and, when it fires, short-circuits straight to the matching fatal
// error kind instead of falling through to a zero-anchor ExtractionEmpty
// (which the Job Processor would otherwise retry).
type pageStatus struct {
	Private  bool `json:"private"`
	NotFound bool `json:"not_found"`
}

// rawAnchor mirrors the JSON shape collectAnchorsScript returns for one
// anchor in document order.
type rawAnchor struct {
	Href            string `json:"href"`
	Text            string `json:"text"`
	AncestorTitle   string `json:"ancestor_title"`
	AriaLabel       string `json:"aria_label"`
	TitleAttr       string `json:"title_attr"`
	SiblingText     string `json:"sibling_text"`
	AncestorAllText string `json:"ancestor_all_text"`
}

func (e *pageExtractor) Extract(ctx context.Context, page internal.Page) ([]internal.RawItem, internal.ExtractionDiagnostics, error) {
	var status pageStatus
	if err := page.Eval(ctx, pageStatusScript, nil, &status); err == nil {
		switch {
		case status.Private:
			return nil, internal.ExtractionDiagnostics{}, internal.NewError(internal.ErrUpstreamPrivate, "watchlist is private", nil)
		case status.NotFound:
			return nil, internal.ExtractionDiagnostics{}, internal.NewError(internal.ErrUpstreamNotFound, "user does not exist", nil)
		}
	}

	if err := scrollToSettle(ctx, page); err != nil {
		return nil, internal.ExtractionDiagnostics{}, err
	}

	var anchors []rawAnchor
	if err := page.Eval(ctx, collectAnchorsScript, nil, &anchors); err != nil {
		return nil, internal.ExtractionDiagnostics{}, internal.NewError(internal.ErrExtractionEmpty, "collect anchors", err)
	}

	diag := internal.ExtractionDiagnostics{TotalAnchors: len(anchors)}
	seen := make(map[string]bool, len(anchors))
	items := make([]internal.RawItem, 0, len(anchors))

	for _, a := range anchors {
		if !isMeaningfulAnchor(a) {
			continue
		}
		diag.PostFilter++

		id, ok := itemIDFromHref(a.Href)
		if !ok {
			diag.IDlessAnchors++
			continue
		}
		if seen[id] {
			diag.Duplicates++
			continue
		}
		seen[id] = true

		title, fellBack := resolveTitle(a, id)
		if fellBack {
			diag.TitleFallbacks++
		}
		title = internal.CleanTitle(title)

		items = append(items, internal.RawItem{
			ItemID: id,
			Title:  title,
			Year:   internal.ExtractYear(a.AncestorAllText),
			Kind:   internal.ClassifyProvisional(a.AncestorAllText),
		})
	}

	return items, diag, nil
}

// navSentinels are non-title anchor texts the source site renders for
// navigational affordances rather than an item title.
var navSentinels = map[string]bool{
	"view title": true,
	"›":          true,
	"»":          true,
	"...":        true,
}

var itemIDPattern = regexp.MustCompile(`^tt\d+$`)

// isMeaningfulAnchor is the shadow-duplicate pre-filter. The source
// renders each item twice in the virtual-scroll tree: once as an empty
// shadow anchor, once as a text-bearing anchor.
// Dropping empty-text anchors here, before identifier-based dedup, is the
// fix; dropping them after (via duplicate-id suppression) is wrong because
// insertion order can favor the empty copy.
func isMeaningfulAnchor(a rawAnchor) bool {
	text := strings.TrimSpace(a.Text)
	if text == "" {
		return false
	}
	if len(text) <= 2 {
		return false
	}
	if itemIDPattern.MatchString(text) {
		return false
	}
	if navSentinels[strings.ToLower(text)] {
		return false
	}
	return true
}

var hrefIDPattern = regexp.MustCompile(`title/(tt\d+)`)

func itemIDFromHref(href string) (string, bool) {
	m := hrefIDPattern.FindStringSubmatch(href)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// resolveTitle applies the title-source priority order: anchor text ->
// ancestor title child -> aria-label -> title attribute ->
// sibling text -> fallback derived from the identifier.
func resolveTitle(a rawAnchor, id string) (title string, fellBack bool) {
	candidates := []string{a.Text, a.AncestorTitle, a.AriaLabel, a.TitleAttr, a.SiblingText}
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			return c, false
		}
	}
	return fallbackTitle(id), true
}

func fallbackTitle(id string) string {
	n := strings.TrimPrefix(id, "tt")
	if v, err := strconv.Atoi(n); err == nil {
		return "Untitled (" + strconv.Itoa(v) + ")"
	}
	return "Untitled (" + id + ")"
}

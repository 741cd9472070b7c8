package internal

import (
	"regexp"
	"strings"
)

// ordinalPrefixRE matches a leading "N. " ordinal the source site prepends
// to titles (e.g. "410. Black Book"); it must be stripped before the title
// is stored or used as an enrichment lookup key.
var ordinalPrefixRE = regexp.MustCompile(`^\d+\.\s+`)

// CleanTitle strips a leading ordinal prefix and collapses whitespace. The
// result is what gets stored on WatchlistItem.Title and used for enrichment
// lookups, never the raw scraped string.
func CleanTitle(raw string) string {
	s := ordinalPrefixRE.ReplaceAllString(raw, "")
	return strings.TrimSpace(strings.Join(strings.Fields(s), " "))
}

// nonAlphanumericRE matches any run of characters that isn't an ASCII
// lowercase letter or digit; it runs after lowercasing, so non-ASCII letters
// such as "é" count as separators.
var nonAlphanumericRE = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTitle lowercases, collapses non-alphanumeric runs to a single
// space, and trims; the result is the enrichment cache key's title component.
// NormalizeTitle is idempotent: NormalizeTitle(NormalizeTitle(t)) == NormalizeTitle(t).
func NormalizeTitle(title string) string {
	lower := strings.ToLower(title)
	collapsed := nonAlphanumericRE.ReplaceAllString(lower, " ")
	return strings.TrimSpace(collapsed)
}

// yearRE matches a plausible release year (19xx or 20xx) anywhere in text.
var yearRE = regexp.MustCompile(`(19|20)\d{2}`)

// ExtractYear returns the first 19xx/20xx year found in text, or "".
func ExtractYear(text string) string {
	return yearRE.FindString(text)
}

// seriesTokens are scanned for (case-insensitively) in ancestor container
// text to provisionally classify an item as a series rather than a movie.
// Overridden later by metadata.ClassifyBatch.
var seriesTokens = []string{"series", "tv", "show", "episode"}

// ClassifyProvisional returns KindSeries if any series token appears in
// text, else KindMovie.
func ClassifyProvisional(text string) Kind {
	lower := strings.ToLower(text)
	for _, tok := range seriesTokens {
		if strings.Contains(lower, tok) {
			return KindSeries
		}
	}
	return KindMovie
}

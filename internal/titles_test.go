package internal

import "testing"

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"empty", "", ""},
		{"no change", "The Pianist", "The Pianist"},
		{"single-digit ordinal", "1. The Pianist", "The Pianist"},
		{"multi-digit ordinal", "410. Black Book", "Black Book"},
		{"ordinal without space kept", "1.The Pianist", "1.The Pianist"},
		{"interior number kept", "Apollo 13", "Apollo 13"},
		{"whitespace collapsed", "  The   Godfather  ", "The Godfather"},
		{"ordinal then whitespace", "7.   Se7en ", "Se7en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanTitle(tt.raw)
			if got != tt.expected {
				t.Errorf("CleanTitle(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{"empty", "", ""},
		{"lowercases", "The Pianist", "the pianist"},
		{"punctuation collapsed", "WALL·E: An Adventure!", "wall e an adventure"},
		{"runs collapse to one space", "a -- b", "a b"},
		{"trimmed", " - Heat - ", "heat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTitle(tt.raw)
			if got != tt.expected {
				t.Errorf("NormalizeTitle(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
			if again := NormalizeTitle(got); again != got {
				t.Errorf("NormalizeTitle not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalizedKey(t *testing.T) {
	tests := []struct {
		name     string
		query    MetadataQuery
		expected string
	}{
		{"with year", MetadataQuery{Title: "The Pianist", Year: "2002"}, "the pianist_2002"},
		{"without year", MetadataQuery{Title: "The Pianist"}, "the pianist_unknown"},
		{"punctuated title", MetadataQuery{Title: "Amélie!", Year: "2001"}, "am lie_2001"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizedKey(tt.query); got != tt.expected {
				t.Errorf("NormalizedKey(%+v) = %q, want %q", tt.query, got, tt.expected)
			}
		})
	}
}

func TestExtractYear(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected string
	}{
		{"empty", "", ""},
		{"plain year", "1994 2h 22m Movie", "1994"},
		{"year in range text", "2008 TV Series 2008-2013", "2008"},
		{"no year", "2h 22m Movie", ""},
		{"too old ignored", "1875 Movie", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractYear(tt.text); got != tt.expected {
				t.Errorf("ExtractYear(%q) = %q, want %q", tt.text, got, tt.expected)
			}
		})
	}
}

func TestClassifyProvisional(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected Kind
	}{
		{"movie by default", "1994 2h 22m", KindMovie},
		{"tv token", "2008 TV Series", KindSeries},
		{"show token", "talk show 2015", KindSeries},
		{"episode token", "42 episodes", KindSeries},
		{"case insensitive", "TV SERIES", KindSeries},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyProvisional(tt.text); got != tt.expected {
				t.Errorf("ClassifyProvisional(%q) = %v, want %v", tt.text, got, tt.expected)
			}
		})
	}
}

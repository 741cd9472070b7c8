package metadata

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/riverbend/watchlistd/internal"
)

// Overrides is the classifier override list. Keys are
// NormalizedKey values; values are "movie" or "series".
type Overrides map[string]internal.Kind

// LoadOverrides reads the classifier override list from a JSON file of
// {normalized key: "movie"|"series"} entries. An empty path is valid and
// returns an empty Overrides (no overrides configured).
func LoadOverrides(path string) (Overrides, error) {
	if path == "" {
		return Overrides{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overrides file %s: %w", path, err)
	}
	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode overrides file %s: %w", path, err)
	}
	out := make(Overrides, len(entries))
	for key, kind := range entries {
		switch internal.Kind(kind) {
		case internal.KindMovie, internal.KindSeries:
			out[key] = internal.Kind(kind)
		default:
			return nil, fmt.Errorf("overrides file %s: unknown kind %q for key %q", path, kind, key)
		}
	}
	return out, nil
}

// Lookup returns the override for key, if any.
func (o Overrides) Lookup(key string) (internal.Kind, bool) {
	k, ok := o[key]
	return k, ok
}

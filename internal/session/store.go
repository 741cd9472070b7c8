// Package session implements filesystem-backed persistence of
// per-egress-identity browser storage state, with an in-memory
// read-through cache so a hot identity doesn't hit disk on every scrape.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/riverbend/watchlistd/internal"
)

// cacheSize bounds the in-memory read-through cache; identities beyond this
// fall back to disk reads, same as an uncached Load. Sessions have no TTL
// of their own (they're refreshed on every successful navigation, not
// time-expired), so the cache is built with ttl=0: LRU-only, non-expiring.
const cacheSize = 256

type fileStore struct {
	dir   string
	cache *expirable.LRU[string, internal.SessionState]
}

// New returns a SessionStore backed by JSON blobs under dir.
func New(dir string) internal.SessionStore {
	return &fileStore{
		dir:   dir,
		cache: expirable.NewLRU[string, internal.SessionState](cacheSize, nil, 0),
	}
}

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// sanitize turns an arbitrary identity into a filesystem-safe filename.
func sanitize(identity string) string {
	if identity == "" {
		identity = "default"
	}
	return unsafeKeyChars.ReplaceAllString(identity, "_")
}

func (s *fileStore) path(identity string) string {
	return filepath.Join(s.dir, sanitize(identity)+".json")
}

func (s *fileStore) Load(_ context.Context, identity string) (internal.SessionState, bool, error) {
	if state, ok := s.cache.Get(identity); ok {
		return state, true, nil
	}

	raw, err := os.ReadFile(s.path(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return internal.SessionState{}, false, nil
		}
		return internal.SessionState{}, false, fmt.Errorf("read session %s: %w", identity, err)
	}
	var state internal.SessionState
	if err := json.Unmarshal(raw, &state); err != nil {
		return internal.SessionState{}, false, fmt.Errorf("decode session %s: %w", identity, err)
	}

	s.cache.Add(identity, state)
	return state, true, nil
}

// Save overwrites the stored state. Failures are logged and swallowed by
// callers; this function still returns the error so the caller can choose
// to log it.
func (s *fileStore) Save(_ context.Context, identity string, state internal.SessionState) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("mkdir session dir: %w", err)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", identity, err)
	}
	if err := os.WriteFile(s.path(identity), raw, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", identity, err)
	}
	s.cache.Add(identity, state)
	return nil
}

func (s *fileStore) Clear(_ context.Context, identity string) error {
	s.cache.Remove(identity)
	if err := os.Remove(s.path(identity)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session %s: %w", identity, err)
	}
	return nil
}

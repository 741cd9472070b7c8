// Package httputil holds the HTTP client plumbing shared by outbound API
// callers, currently the metadata client's response-memoizing transport.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2"
)

const defaultMaxEntries = 1000

// CacheTransport is an http.RoundTripper that memoizes successful GET
// responses by URL. It sits in front of the metadata API client so repeated
// search and detail fetches for the same candidate within overlapping
// batches are answered from memory instead of re-issued. Entries expire
// after TTL and are evicted LRU-first once MaxEntries is reached; duplicate
// in-flight requests for the same key may both reach the backend.
type CacheTransport struct {
	Base http.RoundTripper

	// MaxEntries bounds the cache; zero means defaultMaxEntries.
	MaxEntries int

	// TTL bounds how long a memoized response is served. Zero means entries
	// live until LRU eviction, which suits single-process batch memoization.
	TTL time.Duration

	// OnCacheHit, if set, is called per RoundTrip with the key and whether
	// it was served from memory.
	OnCacheHit func(cacheKey string, hit bool)

	initOnce sync.Once
	cache    *lru.Cache[string, *memoEntry]
	initErr  error
}

type memoEntry struct {
	status   int
	header   http.Header
	body     []byte
	storedAt time.Time
}

func (t *CacheTransport) ensureCache() error {
	t.initOnce.Do(func() {
		max := t.MaxEntries
		if max <= 0 {
			max = defaultMaxEntries
		}
		t.cache, t.initErr = lru.New[string, *memoEntry](max)
	})
	return t.initErr
}

func (t *CacheTransport) fresh(e *memoEntry) bool {
	return t.TTL <= 0 || time.Since(e.storedAt) < t.TTL
}

// RoundTrip implements http.RoundTripper.
func (t *CacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.ensureCache(); err != nil {
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Method != http.MethodGet {
		return base.RoundTrip(req)
	}

	key := req.URL.String()
	if entry, ok := t.cache.Get(key); ok {
		if t.fresh(entry) {
			t.notify(key, true)
			return entry.response(req), nil
		}
		t.cache.Remove(key)
	}

	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		t.notify(key, false)
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, &memoEntry{
		status:   resp.StatusCode,
		header:   resp.Header.Clone(),
		body:     body,
		storedAt: time.Now(),
	})
	t.notify(key, false)

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	return resp, nil
}

func (t *CacheTransport) notify(key string, hit bool) {
	if t.OnCacheHit != nil {
		t.OnCacheHit(key, hit)
	}
}

func (e *memoEntry) response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        http.StatusText(e.status),
		StatusCode:    e.status,
		Header:        e.header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Request:       req,
	}
}

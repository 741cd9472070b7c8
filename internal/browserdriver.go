package internal

import "context"

// Page is the minimal in-page handle the Page Extractor needs. It is
// satisfied by internal/browser's adapter over *rod.Page; defined here so
// internal/extractor does not need to import internal/browser (or go-rod)
// directly.
type Page interface {
	// Eval runs js in the page context, passing args, and unmarshals the
	// script's JSON-serializable return value into dest.
	Eval(ctx context.Context, js string, args []interface{}, dest interface{}) error
}

// BrowserDriver owns the headless browser lifecycle.
type BrowserDriver interface {
	// AcquirePage launches or reuses a browser, creates an isolated context
	// loaded with the identity's saved session state, applies the stealth
	// profile, navigates to url, and returns a page handle.
	AcquirePage(ctx context.Context, identity string, url string) (PageHandle, error)
	Close() error
}

// PageHandle is a live page plus the bookkeeping ReleasePage needs.
type PageHandle interface {
	Page() Page
	// Release disposes the context. If commit is true, the page's storage
	// state is persisted to the Session Store first. Safe to call exactly
	// once; must be called on every exit path including panics.
	Release(ctx context.Context, commit bool) error
}

package browser

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/riverbend/watchlistd/internal"
)

// captureSession reads the page's cookies and serializes them as the
// SessionState blob the Session Store persists.
func captureSession(page *rod.Page, identity string) (internal.SessionState, error) {
	cookies, err := page.Cookies(nil)
	if err != nil {
		return internal.SessionState{}, fmt.Errorf("read cookies: %w", err)
	}
	blob, err := json.Marshal(cookies)
	if err != nil {
		return internal.SessionState{}, fmt.Errorf("marshal cookies: %w", err)
	}
	return internal.SessionState{Identity: identity, Blob: blob}, nil
}

// restoreSession applies a previously-saved SessionState to page before
// navigation, so the egress identity resumes where the last scrape left off.
func restoreSession(page *rod.Page, state internal.SessionState) error {
	if len(state.Blob) == 0 {
		return nil
	}
	var cookies []*proto.NetworkCookie
	if err := json.Unmarshal(state.Blob, &cookies); err != nil {
		return fmt.Errorf("unmarshal cookies: %w", err)
	}
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	if len(params) == 0 {
		return nil
	}
	return page.SetCookies(params)
}

// Package browser owns the headless browser lifecycle: one shared rod
// browser process, with a semaphore of configurable size bounding how many
// callers get their own isolated (incognito) browser context at once, so
// concurrent scrapes never hold more than maxConcurrent browser contexts at
// once.
package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"golang.org/x/sync/semaphore"

	"github.com/riverbend/watchlistd/internal"
)

// PageStableTimeout bounds how long AcquirePage waits for the page to settle
// after navigation, and the default per-operation timeout thereafter.
var PageStableTimeout = 45 * time.Second

const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	defaultUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// driver manages a single rod browser process; AcquirePage carves out an
// incognito context per caller so contexts never share cookies/storage.
// A weighted semaphore bounds how many contexts may be live at once.
type driver struct {
	initOnce sync.Once
	initErr  error
	browser  *rod.Browser

	sem      *semaphore.Weighted
	sessions internal.SessionStore
}

// NewDriver returns a BrowserDriver backed by one lazily-launched headless
// Chrome process, allowing at most maxConcurrent pages acquired at once.
func NewDriver(sessions internal.SessionStore, maxConcurrent int) internal.BrowserDriver {
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	return &driver{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		sessions: sessions,
	}
}

func (d *driver) ensureBrowser() error {
	d.initOnce.Do(func() {
		u, err := launcher.New().Logger(newRodLauncherLogger()).Leakless(false).Launch()
		if err != nil {
			d.initErr = fmt.Errorf("launch browser: %w", err)
			return
		}
		b := rod.New().ControlURL(u)
		if err := b.Connect(); err != nil {
			d.initErr = fmt.Errorf("connect to browser: %w", err)
			return
		}
		d.browser = b
	})
	return d.initErr
}

func (d *driver) Close() error {
	if d.browser == nil {
		return nil
	}
	return d.browser.Close()
}

// AcquirePage launches (once) the shared browser, carves out an incognito
// context for identity, restores saved session state, applies the stealth
// profile, navigates to url, and waits for the page to stabilize.
func (d *driver) AcquirePage(ctx context.Context, identity string, url string) (internal.PageHandle, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, internal.NewError(internal.ErrTimeout, "waiting for browser slot", err)
	}
	release := func() { d.sem.Release(1) }

	if err := d.ensureBrowser(); err != nil {
		release()
		return nil, internal.NewError(internal.ErrBrowserLaunch, "browser launch failed", err)
	}

	incognito, err := d.browser.Incognito()
	if err != nil {
		release()
		return nil, internal.NewError(internal.ErrBrowserLaunch, "create incognito context", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = incognito.Close()
		release()
		return nil, internal.NewError(internal.ErrBrowserLaunch, "create page", err)
	}
	page = page.Context(ctx)

	if err := configurePage(page); err != nil {
		_ = page.Close()
		_ = incognito.Close()
		release()
		return nil, internal.NewError(internal.ErrBrowserLaunch, "configure page", err)
	}

	if err := applyStealth(page); err != nil {
		slog.Warn("browser: stealth profile partially failed", "identity", identity, "error", err)
	}

	if d.sessions != nil {
		if state, ok, err := d.sessions.Load(ctx, identity); err == nil && ok {
			if err := restoreSession(page, state); err != nil {
				slog.Warn("browser: session restore failed", "identity", identity, "error", err)
			}
		}
	}

	if err := page.Navigate(url); err != nil {
		_ = page.Close()
		_ = incognito.Close()
		release()
		return nil, internal.NewError(internal.ErrNavigationTimeout, "navigate to "+url, err)
	}
	if err := rod.Try(func() {
		page.Timeout(PageStableTimeout).MustWaitStable()
	}); err != nil {
		_ = page.Close()
		_ = incognito.Close()
		release()
		return nil, internal.NewError(internal.ErrNavigationTimeout, "wait for page stable", err)
	}

	return &pageHandle{
		page:      page,
		incognito: incognito,
		identity:  identity,
		sessions:  d.sessions,
		release:   release,
	}, nil
}

func configurePage(page *rod.Page) error {
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width: defaultViewportWidth, Height: defaultViewportHeight, DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	_, err := page.SetExtraHeaders([]string{
		"Accept-Language", "en-US,en;q=0.9",
		"Accept-Encoding", "gzip, deflate, br",
		"DNT", "1",
		"Upgrade-Insecure-Requests", "1",
	})
	if err != nil {
		return fmt.Errorf("set extra headers: %w", err)
	}
	if err := (proto.NetworkSetUserAgentOverride{UserAgent: defaultUserAgent}).Call(page); err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}
	return nil
}

// pageHandle adapts a *rod.Page (and its owning incognito browser) to
// internal.PageHandle / internal.Page.
type pageHandle struct {
	page      *rod.Page
	incognito *rod.Browser
	identity  string
	sessions  internal.SessionStore
	release   func()
	closeOnce sync.Once
}

func (h *pageHandle) Page() internal.Page {
	return (*rodPage)(h.page)
}

func (h *pageHandle) Release(ctx context.Context, commit bool) error {
	var err error
	h.closeOnce.Do(func() {
		if commit && h.sessions != nil {
			if state, saveErr := captureSession(h.page, h.identity); saveErr == nil {
				if saveErr := h.sessions.Save(ctx, h.identity, state); saveErr != nil {
					slog.Warn("browser: session save failed", "identity", h.identity, "error", saveErr)
				}
			} else {
				slog.Warn("browser: session capture failed", "identity", h.identity, "error", saveErr)
			}
		}
		_ = h.page.Close()
		err = h.incognito.Close()
		h.release()
	})
	return err
}

// rodPage adapts *rod.Page to internal.Page (Eval returning unmarshaled JSON).
type rodPage rod.Page

func (p *rodPage) Eval(ctx context.Context, js string, args []interface{}, dest interface{}) error {
	page := (*rod.Page)(p).Context(ctx).Timeout(PageStableTimeout)
	result, err := page.Eval(js, args...)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	if dest == nil {
		return nil
	}
	raw, err := json.Marshal(result.Value)
	if err != nil {
		return fmt.Errorf("marshal eval result: %w", err)
	}
	return json.Unmarshal(raw, dest)
}

// rodLauncherLogger forwards launcher output (e.g. download progress) to
// slog at debug level instead of stderr.
type rodLauncherLogger struct {
	buf []byte
}

func (w *rodLauncherLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
		if line != "" {
			slog.Debug("rod launcher", "message", line)
		}
	}
	return len(p), nil
}

func newRodLauncherLogger() io.Writer {
	return &rodLauncherLogger{}
}

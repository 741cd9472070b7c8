package extractor

import (
	"context"
	"time"

	"github.com/riverbend/watchlistd/internal"
)

// scrollToSettle is the controlled scrolling loop that forces the
// virtual-scroll list to render its full item set before extraction. Each
// iteration scrolls to the bottom and reports the anchor count in-page
// (scrollStepScript); once the count holds steady for stableIterations in
// a row, or maxScrollIters is hit, the loop settles by returning to the top
// so later screenshots/diagnostics see a consistent viewport. This is a
// count-convergence poll rather than a single readiness check, since the
// source page never reports network-idle on its own.
func scrollToSettle(ctx context.Context, page internal.Page) error {
	lastCount := -1
	stableFor := 0

	for i := 0; i < maxScrollIters; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var count int
		if err := page.Eval(ctx, scrollStepScript, nil, &count); err != nil {
			return internal.NewError(internal.ErrNavigationTimeout, "scroll step", err)
		}

		if count == lastCount {
			stableFor++
			if stableFor >= stableIterations {
				break
			}
		} else {
			stableFor = 0
			lastCount = count
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scrollWait):
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(postScrollSettle):
	}

	if err := page.Eval(ctx, scrollToTopScript, nil, nil); err != nil {
		return internal.NewError(internal.ErrNavigationTimeout, "scroll to top", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(topSettleWait):
	}
	return nil
}

// scrollStepScript scrolls the page to its current bottom and returns the
// number of item anchors currently in the DOM, so the Go-side loop can
// detect when the virtual-scroll list has stopped growing.
const scrollStepScript = `() => {
	window.scrollTo(0, document.body.scrollHeight);
	return document.querySelectorAll('a[href*="title/tt"]').length;
}`

const scrollToTopScript = `() => {
	window.scrollTo(0, 0);
}`

// pageStatusScript scans the rendered body text for the source site's
// private-list and not-found banners. Checked once, before any scrolling,
// since neither state has item anchors to wait for.
const pageStatusScript = `() => {
	const text = ((document.body && document.body.textContent) || '').toLowerCase();
	return {
		private: /this list is (currently )?private|doesn't have a public (watch)?list|list is not public/.test(text),
		not_found: /page not found|404 error|we couldn't find that page|this page isn't available/.test(text),
	};
}`

// collectAnchorsScript walks every item anchor in document order and
// returns the raw candidate fields the Go-side resolveTitle/isMeaningfulAnchor
// logic needs: the anchor's own text, the nearest ancestor's title-bearing
// child text, aria-label, title attribute, adjacent sibling text, and the
// full text of a containing card (used for year/kind heuristics).
const collectAnchorsScript = `() => {
	const anchors = Array.from(document.querySelectorAll('a[href*="title/tt"]'));
	return anchors.map((a) => {
		const card = a.closest('li, [data-testid], div') || a.parentElement;
		const titleChild = card ? card.querySelector('h3, [class*="title"]') : null;
		const sibling = a.nextElementSibling || a.previousElementSibling;
		return {
			href: a.getAttribute('href') || '',
			text: (a.textContent || '').trim(),
			ancestor_title: titleChild ? (titleChild.textContent || '').trim() : '',
			aria_label: a.getAttribute('aria-label') || '',
			title_attr: a.getAttribute('title') || '',
			sibling_text: sibling ? (sibling.textContent || '').trim() : '',
			ancestor_all_text: card ? (card.textContent || '').trim() : '',
		};
	});
}`

package observer

import (
	"context"
	"net/url"
	"strings"

	"github.com/talonhq/linkpilot/internal/browser"
)

// authenticatedSegments are LinkedIn path segments only reachable while
// logged in. LinkedIn redirects unauthenticated visitors away from these,
// so landing on one is taken as proof of authentication. This is a
// heuristic tied to LinkedIn's redirect behavior staying stable.
var authenticatedSegments = []string{
	"/feed",
	"/mynetwork",
	"/jobs",
	"/messaging",
	"/notifications",
}

// IsLoginSuccessURL reports whether rawURL points into LinkedIn's
// authenticated area.
func IsLoginSuccessURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !strings.Contains(u.Host, "linkedin.com") {
		return false
	}
	path := strings.ToLower(u.Path)
	for _, seg := range authenticatedSegments {
		if path == seg || strings.HasPrefix(path, seg+"/") {
			return true
		}
	}
	return false
}

// captchaDOMCheck looks for challenge markup: visible elements whose
// id/class mention captcha or puzzle, and canvas/iframe elements that
// reference captcha. Challenge pages rendered entirely inside a canvas or
// iframe carry no semantic markup, hence the second clause.
const captchaDOMCheck = `() => {
	const visible = (el) => {
		const style = window.getComputedStyle(el);
		return style.display !== 'none' && style.visibility !== 'hidden' && el.offsetParent !== null;
	};
	const marked = document.querySelectorAll('[id*="captcha" i], [class*="captcha" i], [id*="puzzle" i], [class*="puzzle" i]');
	for (const el of marked) {
		if (visible(el)) return true;
	}
	const embedded = document.querySelectorAll('canvas, iframe');
	for (const el of embedded) {
		const src = (el.src || '') + ' ' + (el.id || '') + ' ' + (el.className || '');
		if (src.toLowerCase().includes('captcha')) return true;
	}
	return false;
}`

// captchaTextMarkers is the loose fallback: rendered page text mentioning
// a challenge. Matched against body text, never the serialized HTML —
// LinkedIn references captcha libraries in script URLs on ordinary pages,
// and those must not trip the check. Known precision tradeoff remains:
// visible copy that merely mentions "verification" does trip it.
var captchaTextMarkers = []string{"captcha", "verification"}

// DetectCaptcha inspects the current page for a captcha challenge and, if
// one is present, returns the full page HTML for operator handoff.
// Inspection errors (for example a page closed mid-check) are treated as
// "no captcha" so the caller's loop never dies on a flaky evaluation.
func DetectCaptcha(ctx context.Context, page browser.Page) (bool, string) {
	found, err := page.EvalBool(ctx, captchaDOMCheck)
	if err != nil {
		return false, ""
	}

	if !found {
		text, err := page.Text(ctx)
		if err != nil {
			return false, ""
		}
		lower := strings.ToLower(text)
		for _, marker := range captchaTextMarkers {
			if strings.Contains(lower, marker) {
				found = true
				break
			}
		}
	}

	if !found {
		return false, ""
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return false, ""
	}
	return true, html
}

// Package browser provisions anti-detection-hardened Chrome instances and
// pages for the session registry. Two backends are supported: a local
// Chrome process launched via rod, and a containerized Chrome reached over
// its DevTools websocket.
package browser

import (
	"context"
	"errors"
)

// Failure categories. Callers match with errors.Is; the registry wraps
// these into its own taxonomy before anything reaches a client.
var (
	ErrLaunch       = errors.New("browser launch failed")
	ErrPageCreation = errors.New("page creation failed")
	ErrClosed       = errors.New("browser is closed")
)

// PageConfig configures a freshly created page.
type PageConfig struct {
	Width     int
	Height    int
	UserAgent string
}

// Browser is a live Chrome instance owned by exactly one session.
type Browser interface {
	// NewPage creates a stealth page with the configured viewport,
	// user agent and default headers. Fails with ErrPageCreation if
	// the browser is already closed.
	NewPage(cfg PageConfig) (Page, error)

	// Close terminates the browser. Idempotent.
	Close() error
}

// Page is the per-session page contract consumed by the registry, the
// action executor, the observer and the transport.
type Page interface {
	// Navigate drives the main frame to url and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// WaitSettled waits, best effort, for network and render activity to
	// quiet down after a navigation.
	WaitSettled(ctx context.Context) error

	// HTML returns the serialized DOM of the main frame.
	HTML(ctx context.Context) (string, error)

	// Text returns the rendered text of the page body. Markup-only
	// content (script sources, attributes) is excluded.
	Text(ctx context.Context) (string, error)

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// ClickAt dispatches a raw pointer click at viewport coordinates.
	ClickAt(ctx context.Context, x, y float64) error

	// Input focuses the element and types value so that key-event-driven
	// form validation fires.
	Input(ctx context.Context, selector, value string) error

	// Submit programmatically submits the form matching selector.
	Submit(ctx context.Context, selector string) error

	// Reload reloads the current page.
	Reload(ctx context.Context) error

	// ClickByText scans button-like elements for visible text containing
	// any of the given lowercase phrases and clicks the first match.
	// Returns false when nothing matched.
	ClickByText(ctx context.Context, phrases []string) (bool, error)

	// EvalBool evaluates a JS function on the page and returns its
	// boolean result.
	EvalBool(ctx context.Context, js string, args ...interface{}) (bool, error)

	// Cookies returns the page's cookies for the given URLs as name→value.
	Cookies(ctx context.Context, urls ...string) (map[string]string, error)

	// OnMainFrameNavigated registers a callback invoked with the new URL
	// whenever the main frame commits a navigation. Sub-frame navigations
	// are ignored.
	OnMainFrameNavigated(fn func(url string))

	// OnDisconnect registers a callback invoked once when the underlying
	// browser connection is lost or the page is closed.
	OnDisconnect(fn func())

	// StartScreencast begins pushing encoded frames to sink as they
	// arrive from the DevTools screencast channel.
	StartScreencast(sink func(frame []byte)) error

	// StopScreencast stops the screencast. Safe to call when none is active.
	StopScreencast() error

	// IsClosed reports whether the page can no longer be driven.
	IsClosed() bool

	// Close closes the page. Idempotent.
	Close() error
}

// Launcher produces browsers on demand. Implementations must not pool or
// share instances: every Launch call yields a browser exclusively owned
// by the caller. The browser's lifetime follows ctx; callers that need it
// to survive the launching request pass a detached context.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

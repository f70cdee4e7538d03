// Package observer classifies page state transitions for a session:
// navigations, login success and captcha challenges. It trusts nothing
// about the target site's markup; every check is a guarded heuristic.
package observer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/talonhq/linkpilot/internal/browser"
	"github.com/talonhq/linkpilot/internal/storage"
)

// LinkedIn authentication cookies. li_at is the primary token; li_a is
// only present on some account types.
const (
	cookieLiAt = "li_at"
	cookieLiA  = "li_a"
)

const cookieOrigin = "https://www.linkedin.com"

// Config wires an Observer to its collaborators. Callbacks are invoked
// from the page's event goroutine and must not block.
type Config struct {
	UserID string
	Store  storage.CredentialStore
	Logger *slog.Logger

	// OnNavigate is called for every main-frame navigation.
	OnNavigate func(url string)

	// OnLogin is called exactly once, with the extracted auth cookies,
	// when a navigation lands in LinkedIn's authenticated area.
	OnLogin func(url string, cookies map[string]string)

	// OnDisconnect is called once when the browser connection is lost.
	OnDisconnect func()
}

// Observer watches one session's page.
type Observer struct {
	page   browser.Page
	cfg    Config
	logged atomic.Bool
}

// Attach subscribes to the page's navigation and disconnect notifications
// and starts classifying. The observer lives as long as the page does.
func Attach(page browser.Page, cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	o := &Observer{page: page, cfg: cfg}

	page.OnMainFrameNavigated(o.handleNavigation)
	if cfg.OnDisconnect != nil {
		page.OnDisconnect(cfg.OnDisconnect)
	}
	return o
}

// LoggedIn reports whether login success has been observed.
func (o *Observer) LoggedIn() bool { return o.logged.Load() }

func (o *Observer) handleNavigation(url string) {
	if o.cfg.OnNavigate != nil {
		o.cfg.OnNavigate(url)
	}

	if !IsLoginSuccessURL(url) {
		return
	}
	// Repeated navigations into the authenticated area must not re-run
	// login side effects.
	if !o.logged.CompareAndSwap(false, true) {
		return
	}

	o.cfg.Logger.Info("observer: login success detected",
		"user", o.cfg.UserID, "url", url)

	cookies := o.extractAuthCookies()
	o.persistCredentials(cookies)

	if o.cfg.OnLogin != nil {
		o.cfg.OnLogin(url, cookies)
	}
}

// extractAuthCookies pulls the LinkedIn auth cookies from the page's
// cookie jar. A missing li_at is logged but not fatal here; the store
// decides what an incomplete handoff means.
func (o *Observer) extractAuthCookies() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	all, err := o.page.Cookies(ctx, cookieOrigin)
	if err != nil {
		o.cfg.Logger.Warn("observer: cookie extraction failed",
			"user", o.cfg.UserID, "error", err)
		return nil
	}

	out := map[string]string{}
	if v, ok := all[cookieLiAt]; ok {
		out[cookieLiAt] = v
	} else {
		o.cfg.Logger.Warn("observer: li_at cookie missing after login", "user", o.cfg.UserID)
	}
	if v, ok := all[cookieLiA]; ok {
		out[cookieLiA] = v
	}
	return out
}

// persistCredentials hands cookies to the external store. Failures are
// logged and swallowed: a storage outage must not break the login flow.
func (o *Observer) persistCredentials(cookies map[string]string) {
	if o.cfg.Store == nil || len(cookies) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := o.cfg.Store.SaveLinkedInCredentials(ctx, o.cfg.UserID, cookies[cookieLiAt], cookies[cookieLiA])
	if err != nil {
		o.cfg.Logger.Error("observer: credential persistence failed",
			"user", o.cfg.UserID, "error", err)
	}
}

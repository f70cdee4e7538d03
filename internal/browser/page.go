package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// rodBrowser adapts a connected rod browser to the Browser interface.
type rodBrowser struct {
	browser *rod.Browser
	cleanup func()
	logger  *slog.Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

func (b *rodBrowser) NewPage(cfg PageConfig) (Page, error) {
	if b.closed.Load() {
		return nil, fmt.Errorf("%w: %v", ErrPageCreation, ErrClosed)
	}

	page, err := stealth.Page(b.browser)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageCreation, err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Width,
		Height:            cfg.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: viewport: %v", ErrPageCreation, err)
	}

	if cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent: cfg.UserAgent,
		}); err != nil {
			page.Close()
			return nil, fmt.Errorf("%w: user agent: %v", ErrPageCreation, err)
		}
	}

	if _, err := page.SetExtraHeaders([]string{
		"Accept-Language", "en-US,en;q=0.9",
		"Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
	}); err != nil {
		page.Close()
		return nil, fmt.Errorf("%w: headers: %v", ErrPageCreation, err)
	}

	p := &rodPage{browser: b, page: page, logger: b.logger}
	p.watchDisconnect()
	return p, nil
}

func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if err := b.browser.Close(); err != nil {
			b.logger.Warn("browser: close", "error", err)
		}
		if b.cleanup != nil {
			b.cleanup()
		}
	})
	return nil
}

// rodPage adapts a rod page to the Page interface.
type rodPage struct {
	browser *rodBrowser
	page    *rod.Page
	logger  *slog.Logger

	closed      atomic.Bool
	closeOnce   sync.Once
	castMu      sync.Mutex
	castCancel  context.CancelFunc
	onDiscOnce  sync.Once
	onDisc      atomic.Value // func()
	discWatched sync.Once
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	if err := p.page.Context(ctx).Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("browser: wait load %s: %w", url, err)
	}
	return nil
}

func (p *rodPage) WaitSettled(ctx context.Context) error {
	// Best effort: a page that keeps polling never goes fully idle.
	if err := p.page.Context(ctx).WaitIdle(3 * time.Second); err != nil {
		p.logger.Debug("browser: wait idle", "error", err)
	}
	return nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: get html: %w", err)
	}
	return html, nil
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	res, err := p.page.Context(ctx).Eval(`() => (document.body && document.body.innerText) || ''`)
	if err != nil {
		return "", fmt.Errorf("browser: page text: %w", err)
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %q: %w", selector, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %q: %w", selector, err)
	}
	return nil
}

func (p *rodPage) ClickAt(ctx context.Context, x, y float64) error {
	page := p.page.Context(ctx)
	move := proto.InputDispatchMouseEvent{
		Type: proto.InputDispatchMouseEventTypeMouseMoved,
		X:    x,
		Y:    y,
	}
	if err := move.Call(page); err != nil {
		return fmt.Errorf("browser: mouse move: %w", err)
	}
	press := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMousePressed,
		X:          x,
		Y:          y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}
	if err := press.Call(page); err != nil {
		return fmt.Errorf("browser: mouse press: %w", err)
	}
	release := proto.InputDispatchMouseEvent{
		Type:       proto.InputDispatchMouseEventTypeMouseReleased,
		X:          x,
		Y:          y,
		Button:     proto.InputMouseButtonLeft,
		ClickCount: 1,
	}
	if err := release.Call(page); err != nil {
		return fmt.Errorf("browser: mouse release: %w", err)
	}
	return nil
}

func (p *rodPage) Input(ctx context.Context, selector, value string) error {
	el, err := p.page.Context(ctx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %q: %w", selector, err)
	}
	// Click to focus so the page sees the same event sequence a user
	// produces, then replace any existing content.
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: focus %q: %w", selector, err)
	}
	if err := el.SelectAllText(); err != nil {
		p.logger.Debug("browser: select all text", "selector", selector, "error", err)
	}
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: input %q: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Submit(ctx context.Context, selector string) error {
	_, err := p.page.Context(ctx).Eval(`(sel) => {
		const form = document.querySelector(sel);
		if (!form) throw new Error('form not found: ' + sel);
		if (typeof form.requestSubmit === 'function') {
			form.requestSubmit();
		} else {
			form.submit();
		}
	}`, selector)
	if err != nil {
		return fmt.Errorf("browser: submit %q: %w", selector, err)
	}
	return nil
}

func (p *rodPage) Reload(ctx context.Context) error {
	if err := p.page.Context(ctx).Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	if err := p.page.Context(ctx).WaitLoad(); err != nil {
		return fmt.Errorf("browser: reload wait: %w", err)
	}
	return nil
}

func (p *rodPage) ClickByText(ctx context.Context, phrases []string) (bool, error) {
	res, err := p.page.Context(ctx).Eval(`(phrases) => {
		const candidates = document.querySelectorAll('button, a, [role="button"]');
		for (const el of candidates) {
			const text = (el.innerText || el.value || '').trim().toLowerCase();
			if (!text) continue;
			for (const phrase of phrases) {
				if (text.includes(phrase)) {
					el.click();
					return true;
				}
			}
		}
		return false;
	}`, phrases)
	if err != nil {
		return false, fmt.Errorf("browser: click by text: %w", err)
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) EvalBool(ctx context.Context, js string, args ...interface{}) (bool, error) {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return false, fmt.Errorf("browser: eval: %w", err)
	}
	return res.Value.Bool(), nil
}

func (p *rodPage) Cookies(ctx context.Context, urls ...string) (map[string]string, error) {
	cookies, err := p.page.Context(ctx).Cookies(urls)
	if err != nil {
		return nil, fmt.Errorf("browser: cookies: %w", err)
	}
	out := make(map[string]string, len(cookies))
	for _, c := range cookies {
		out[c.Name] = c.Value
	}
	return out, nil
}

func (p *rodPage) OnMainFrameNavigated(fn func(url string)) {
	go p.page.EachEvent(func(e *proto.PageFrameNavigated) {
		// Only the main frame's URL is authoritative for state detection.
		if e.Frame.ParentID == "" {
			fn(e.Frame.URL)
		}
	})()
}

func (p *rodPage) OnDisconnect(fn func()) {
	p.onDisc.Store(fn)
}

func (p *rodPage) watchDisconnect() {
	p.discWatched.Do(func() {
		go func() {
			<-p.page.GetContext().Done()
			p.closed.Store(true)
			p.onDiscOnce.Do(func() {
				if fn, ok := p.onDisc.Load().(func()); ok && fn != nil {
					fn()
				}
			})
		}()
	})
}

func (p *rodPage) StartScreencast(sink func(frame []byte)) error {
	p.castMu.Lock()
	defer p.castMu.Unlock()

	if p.castCancel != nil {
		return nil // already streaming
	}
	if p.closed.Load() {
		return ErrClosed
	}

	quality := 60
	everyNth := 1
	start := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       &quality,
		EveryNthFrame: &everyNth,
	}
	if err := start.Call(p.page); err != nil {
		return fmt.Errorf("browser: start screencast: %w", err)
	}

	ctx, cancel := context.WithCancel(p.page.GetContext())
	p.castCancel = cancel

	go p.page.Context(ctx).EachEvent(func(e *proto.PageScreencastFrame) {
		// Ack immediately so Chrome keeps producing frames.
		ack := proto.PageScreencastFrameAck{SessionID: e.SessionID}
		if err := ack.Call(p.page); err != nil {
			p.logger.Debug("browser: screencast ack", "error", err)
		}
		sink(e.Data)
	})()

	return nil
}

func (p *rodPage) StopScreencast() error {
	p.castMu.Lock()
	defer p.castMu.Unlock()

	if p.castCancel == nil {
		return nil
	}
	p.castCancel()
	p.castCancel = nil

	if p.closed.Load() {
		return nil
	}
	stop := proto.PageStopScreencast{}
	if err := stop.Call(p.page); err != nil {
		return fmt.Errorf("browser: stop screencast: %w", err)
	}
	return nil
}

func (p *rodPage) IsClosed() bool {
	return p.closed.Load()
}

func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		if err := p.page.Close(); err != nil {
			p.logger.Debug("browser: page close", "error", err)
		}
	})
	return nil
}

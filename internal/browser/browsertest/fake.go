// Package browsertest provides in-memory fakes of the browser interfaces
// so session, transport and executor logic can be tested without Chrome.
package browsertest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talonhq/linkpilot/internal/browser"
)

// FakeLauncher launches FakeBrowsers and counts launches.
type FakeLauncher struct {
	// LaunchErr, when set, fails every launch.
	LaunchErr error
	// LaunchDelay simulates slow Chrome startup.
	LaunchDelay time.Duration
	// NewPage customizes pages handed to new browsers. Nil means a
	// default FakePage.
	NewPage func() *FakePage

	launches atomic.Int64

	mu       sync.Mutex
	browsers []*FakeBrowser
}

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Browser, error) {
	if l.LaunchDelay > 0 {
		select {
		case <-time.After(l.LaunchDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	l.launches.Add(1)

	var page *FakePage
	if l.NewPage != nil {
		page = l.NewPage()
	} else {
		page = NewFakePage()
	}
	b := &FakeBrowser{page: page}

	// Real backends tie the browser's lifetime to the launch context:
	// cancelling it after a successful launch kills the browser. Detached
	// contexts report a nil Done channel and skip the watch.
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			page.FireDisconnect()
		}()
	}

	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Launches returns how many browsers were successfully launched.
func (l *FakeLauncher) Launches() int64 { return l.launches.Load() }

// Browsers returns every browser launched so far.
func (l *FakeLauncher) Browsers() []*FakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*FakeBrowser, len(l.browsers))
	copy(out, l.browsers)
	return out
}

// FakeBrowser owns one FakePage.
type FakeBrowser struct {
	// PageErr, when set, fails page creation.
	PageErr error

	page   *FakePage
	closed atomic.Bool
}

func (b *FakeBrowser) NewPage(cfg browser.PageConfig) (browser.Page, error) {
	if b.PageErr != nil {
		return nil, b.PageErr
	}
	return b.page, nil
}

func (b *FakeBrowser) Close() error {
	b.closed.Store(true)
	b.page.Close()
	return nil
}

// Closed reports whether Close was called.
func (b *FakeBrowser) Closed() bool { return b.closed.Load() }

// Page returns the browser's page for test orchestration.
func (b *FakeBrowser) Page() *FakePage { return b.page }

// FakePage records operations and lets tests script failures and events.
type FakePage struct {
	mu sync.Mutex

	// HTMLContent is returned by HTML.
	HTMLContent string
	// HTMLErr fails HTML when set.
	HTMLErr error
	// TextContent is returned by Text.
	TextContent string
	// TextErr fails Text.
	TextErr error
	// ClickErrs maps selectors to click failures.
	ClickErrs map[string]error
	// ClickByTextHit controls whether the text scan finds a button.
	ClickByTextHit bool
	// ClickByTextErr fails the text scan.
	ClickByTextErr error
	// EvalBoolResult is returned by EvalBool.
	EvalBoolResult bool
	// EvalBoolErr fails EvalBool.
	EvalBoolErr error
	// NavigateErr fails Navigate.
	NavigateErr error
	// CookieJar is returned by Cookies.
	CookieJar map[string]string
	// CookiesErr fails Cookies.
	CookiesErr error

	ops       []string
	navigated []string
	phrases   [][]string

	navCB  func(url string)
	discCB func()

	castMu   sync.Mutex
	castSink func([]byte)

	closed atomic.Bool
}

// NewFakePage returns a page with benign defaults.
func NewFakePage() *FakePage {
	return &FakePage{
		HTMLContent: "<html><body>ok</body></html>",
		TextContent: "ok",
		CookieJar:   map[string]string{},
	}
}

func (p *FakePage) record(op string) {
	p.mu.Lock()
	p.ops = append(p.ops, op)
	p.mu.Unlock()
}

// Ops returns the recorded operations in order.
func (p *FakePage) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.ops))
	copy(out, p.ops)
	return out
}

// NavigatedTo returns every URL passed to Navigate.
func (p *FakePage) NavigatedTo() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.navigated))
	copy(out, p.navigated)
	return out
}

// ScannedPhrases returns the phrase lists given to ClickByText.
func (p *FakePage) ScannedPhrases() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]string, len(p.phrases))
	copy(out, p.phrases)
	return out
}

// FireNavigation simulates a main-frame navigation event.
func (p *FakePage) FireNavigation(url string) {
	p.mu.Lock()
	cb := p.navCB
	p.mu.Unlock()
	if cb != nil {
		cb(url)
	}
}

// FireDisconnect simulates losing the browser connection.
func (p *FakePage) FireDisconnect() {
	p.closed.Store(true)
	p.mu.Lock()
	cb := p.discCB
	p.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// EmitFrame pushes a screencast frame to the registered sink, if any.
func (p *FakePage) EmitFrame(frame []byte) {
	p.castMu.Lock()
	sink := p.castSink
	p.castMu.Unlock()
	if sink != nil {
		sink(frame)
	}
}

// Casting reports whether a screencast sink is registered.
func (p *FakePage) Casting() bool {
	p.castMu.Lock()
	defer p.castMu.Unlock()
	return p.castSink != nil
}

func (p *FakePage) Navigate(ctx context.Context, url string) error {
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	p.record("navigate:" + url)
	return nil
}

func (p *FakePage) WaitSettled(ctx context.Context) error { return nil }

func (p *FakePage) HTML(ctx context.Context) (string, error) {
	if p.HTMLErr != nil {
		return "", p.HTMLErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.HTMLContent, nil
}

func (p *FakePage) Text(ctx context.Context) (string, error) {
	if p.TextErr != nil {
		return "", p.TextErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TextContent, nil
}

func (p *FakePage) Click(ctx context.Context, selector string) error {
	if err := p.ClickErrs[selector]; err != nil {
		return err
	}
	p.record("click:" + selector)
	return nil
}

func (p *FakePage) ClickAt(ctx context.Context, x, y float64) error {
	p.record("click-at")
	return nil
}

func (p *FakePage) Input(ctx context.Context, selector, value string) error {
	p.record("input:" + selector + "=" + value)
	return nil
}

func (p *FakePage) Submit(ctx context.Context, selector string) error {
	p.record("submit:" + selector)
	return nil
}

func (p *FakePage) Reload(ctx context.Context) error {
	p.record("reload")
	return nil
}

func (p *FakePage) ClickByText(ctx context.Context, phrases []string) (bool, error) {
	p.mu.Lock()
	p.phrases = append(p.phrases, phrases)
	p.mu.Unlock()
	if p.ClickByTextErr != nil {
		return false, p.ClickByTextErr
	}
	if p.ClickByTextHit {
		p.record("click-by-text")
	}
	return p.ClickByTextHit, nil
}

func (p *FakePage) EvalBool(ctx context.Context, js string, args ...interface{}) (bool, error) {
	if p.EvalBoolErr != nil {
		return false, p.EvalBoolErr
	}
	return p.EvalBoolResult, nil
}

func (p *FakePage) Cookies(ctx context.Context, urls ...string) (map[string]string, error) {
	if p.CookiesErr != nil {
		return nil, p.CookiesErr
	}
	p.record("cookies")
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.CookieJar))
	for k, v := range p.CookieJar {
		out[k] = v
	}
	return out, nil
}

func (p *FakePage) OnMainFrameNavigated(fn func(url string)) {
	p.mu.Lock()
	p.navCB = fn
	p.mu.Unlock()
}

func (p *FakePage) OnDisconnect(fn func()) {
	p.mu.Lock()
	p.discCB = fn
	p.mu.Unlock()
}

func (p *FakePage) StartScreencast(sink func(frame []byte)) error {
	p.castMu.Lock()
	p.castSink = sink
	p.castMu.Unlock()
	return nil
}

func (p *FakePage) StopScreencast() error {
	p.castMu.Lock()
	p.castSink = nil
	p.castMu.Unlock()
	return nil
}

func (p *FakePage) IsClosed() bool { return p.closed.Load() }

func (p *FakePage) Close() error {
	p.closed.Store(true)
	return nil
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/talonhq/linkpilot/internal/browser"
	"github.com/talonhq/linkpilot/internal/observer"
	"github.com/talonhq/linkpilot/internal/storage"
)

// Config holds registry tunables.
type Config struct {
	// LoginURL is where every new session navigates first.
	LoginURL string

	// NavigationTimeout bounds the initial navigation.
	NavigationTimeout time.Duration

	// IdleTimeout is the inactivity window after which a session is
	// swept. Measured from the last activity timestamp.
	IdleTimeout time.Duration

	// ActionTimeout and ManualActionTimeout are the per-action bounds
	// sessions start with and switch to in manual mode.
	ActionTimeout       time.Duration
	ManualActionTimeout time.Duration

	// Page configures viewport and user agent for new pages.
	Page browser.PageConfig

	// MaxSessions caps concurrent browsers across all users.
	MaxSessions int64
}

// entry serializes all lifecycle operations for one user. Entries are
// kept after close so that concurrent callers for the same user always
// contend on the same lock; the map grows with distinct users, not with
// session churn.
type entry struct {
	mu   sync.Mutex
	sess *Session
}

// Registry is the single source of truth for active sessions. It
// enforces one live session per user and owns the inactivity sweep.
type Registry struct {
	cfg      Config
	launcher browser.Launcher
	store    storage.CredentialStore
	logger   *slog.Logger
	sem      *semaphore.Weighted

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	feedMu     sync.Mutex
	feed       chan Event
	feedClosed bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, l browser.Launcher, store storage.CredentialStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 25
	}
	return &Registry{
		cfg:      cfg,
		launcher: l,
		store:    store,
		logger:   logger,
		sem:      semaphore.NewWeighted(cfg.MaxSessions),
		entries:  make(map[string]*entry),
		feed:     make(chan Event, 64),
	}
}

// Feed streams login-completed and session-closed notifications for
// external consumers such as a campaign scheduler. Events are dropped if
// nobody drains the channel.
func (r *Registry) Feed() <-chan Event { return r.feed }

// GetOrCreate returns the user's live session, creating one if needed.
// Two simultaneous calls for the same user launch exactly one browser;
// calls for different users proceed without shared lock contention.
func (r *Registry) GetOrCreate(ctx context.Context, userID string) (*Session, error) {
	e, err := r.entry(userID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil && !e.sess.Closed() {
		e.sess.Touch()
		return e.sess, nil
	}

	sess, err := r.create(ctx, userID)
	if err != nil {
		return nil, err
	}
	e.sess = sess
	r.armSweep(sess)

	r.logger.Info("session: created",
		"user", userID, "session", sess.ID)
	return sess, nil
}

// Get returns the user's live session or ErrNoActiveSession. A
// successful lookup refreshes the activity timestamp.
func (r *Registry) Get(userID string) (*Session, error) {
	r.mu.Lock()
	e := r.entries[userID]
	r.mu.Unlock()

	if e == nil {
		return nil, ErrNoActiveSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil || e.sess.Closed() {
		return nil, ErrNoActiveSession
	}
	e.sess.Touch()
	return e.sess, nil
}

// Close tears down the user's session: screencast stopped best effort,
// browser terminated (which releases the page), entry cleared. Idempotent.
func (r *Registry) Close(userID string) error {
	r.mu.Lock()
	e := r.entries[userID]
	r.mu.Unlock()

	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	sess := e.sess
	e.sess = nil
	r.teardown(sess)

	r.notify(Event{UserID: userID, Kind: EventClosed, At: time.Now()})
	r.logger.Info("session: closed", "user", userID, "session", sess.ID)
	return nil
}

// CloseAll closes every session. Used at process shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	r.closed = true
	users := make([]string, 0, len(r.entries))
	for u := range r.entries {
		users = append(users, u)
	}
	r.mu.Unlock()

	for _, u := range users {
		if err := r.Close(u); err != nil {
			r.logger.Warn("session: close during shutdown", "user", u, "error", err)
		}
	}

	r.feedMu.Lock()
	if !r.feedClosed {
		r.feedClosed = true
		close(r.feed)
	}
	r.feedMu.Unlock()
}

// Sessions returns a snapshot of the live sessions. Unlike Get this does
// not refresh activity: listing is observation, not use, and must never
// postpone the idle sweep.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	var sessions []*Session
	for _, e := range entries {
		e.mu.Lock()
		if e.sess != nil && !e.sess.Closed() {
			sessions = append(sessions, e.sess)
		}
		e.mu.Unlock()
	}
	return sessions
}

// ActiveUsers returns the users with a live session.
func (r *Registry) ActiveUsers() []string {
	var users []string
	for _, s := range r.Sessions() {
		users = append(users, s.UserID)
	}
	return users
}

func (r *Registry) entry(userID string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	e := r.entries[userID]
	if e == nil {
		e = &entry{}
		r.entries[userID] = e
	}
	return e, nil
}

// create launches a browser, prepares the login page and attaches the
// observer. Any partial state is torn down before an error propagates so
// no process leaks.
func (r *Registry) create(ctx context.Context, userID string) (*Session, error) {
	if !r.sem.TryAcquire(1) {
		return nil, fmt.Errorf("%w (%d browsers)", ErrSessionLimit, r.cfg.MaxSessions)
	}

	// The browser must outlive the request that created it: only explicit
	// close, browser death or the idle sweep end a session. Launchers tie
	// the browser's lifetime to the launch context, so detach it here;
	// navigation keeps its own bound below.
	ctx = context.WithoutCancel(ctx)

	b, err := r.launcher.Launch(ctx)
	if err != nil {
		r.sem.Release(1)
		return nil, fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}

	page, err := b.NewPage(r.cfg.Page)
	if err != nil {
		b.Close()
		r.sem.Release(1)
		return nil, fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}

	navCtx, cancel := context.WithTimeout(ctx, r.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Navigate(navCtx, r.cfg.LoginURL); err != nil {
		b.Close()
		r.sem.Release(1)
		return nil, fmt.Errorf("%w: %v", ErrSessionCreation, err)
	}
	_ = page.WaitSettled(navCtx)

	sess := newSession(userID, b, page, r.cfg.ActionTimeout, r.cfg.ManualActionTimeout)

	observer.Attach(page, observer.Config{
		UserID: userID,
		Store:  r.store,
		Logger: r.logger,
		OnNavigate: func(url string) {
			sess.publish(Event{UserID: userID, Kind: EventNavigation, URL: url, At: time.Now()})
		},
		OnLogin: func(url string, cookies map[string]string) {
			sess.MarkLoggedIn()
			ev := Event{UserID: userID, Kind: EventLoginSucceeded, URL: url, Cookies: cookies, At: time.Now()}
			sess.publish(ev)
			r.notify(ev)
		},
		OnDisconnect: func() {
			sess.publish(Event{UserID: userID, Kind: EventDisconnected, At: time.Now()})
			// A lost browser is fatal to the session.
			go func() {
				if err := r.Close(userID); err != nil {
					r.logger.Warn("session: close after disconnect", "user", userID, "error", err)
				}
			}()
		},
	})

	return sess, nil
}

// teardown releases a session's resources. Caller holds the entry lock.
func (r *Registry) teardown(sess *Session) {
	sess.closed.Store(true)
	sess.stopSweep()

	if err := sess.page.StopScreencast(); err != nil {
		r.logger.Warn("session: stop screencast during close",
			"user", sess.UserID, "error", err)
	}
	if err := sess.browser.Close(); err != nil {
		r.logger.Warn("session: browser close", "user", sess.UserID, "error", err)
	}

	sess.closeEvents()
	r.sem.Release(1)
}

// armSweep schedules the inactivity check for the moment exactly
// IdleTimeout after the last activity. A check that finds fresh activity
// re-arms itself for the remaining time instead of polling on a fixed
// interval, so the effective timeout never drifts.
func (r *Registry) armSweep(sess *Session) {
	if sess.Closed() {
		return
	}
	remaining := r.cfg.IdleTimeout - sess.IdleFor()
	if remaining < 0 {
		remaining = 0
	}
	sess.setSweep(time.AfterFunc(remaining, func() {
		if sess.Closed() {
			return
		}
		if sess.IdleFor() >= r.cfg.IdleTimeout {
			r.logger.Info("session: idle timeout",
				"user", sess.UserID, "idle", sess.IdleFor())
			if err := r.Close(sess.UserID); err != nil {
				r.logger.Warn("session: sweep close", "user", sess.UserID, "error", err)
			}
			return
		}
		r.armSweep(sess)
	}))
}

// notify publishes to the registry feed without blocking.
func (r *Registry) notify(ev Event) {
	r.feedMu.Lock()
	defer r.feedMu.Unlock()
	if r.feedClosed {
		return
	}
	select {
	case r.feed <- ev:
	default:
		r.logger.Debug("session: feed full, dropping event", "kind", ev.Kind, "user", ev.UserID)
	}
}

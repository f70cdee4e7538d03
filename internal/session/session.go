// Package session owns the per-user browser session lifecycle: creation,
// lookup, activity tracking and inactivity-driven teardown.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talonhq/linkpilot/internal/browser"
)

// Typed failures surfaced at the registry boundary. The transport and API
// layers translate these; no raw component error crosses to a client.
var (
	ErrNoActiveSession = errors.New("no active session for user")
	ErrPageClosed      = errors.New("session page is closed")
	ErrSessionLimit    = errors.New("concurrent session limit reached")
	ErrSessionCreation = errors.New("session creation failed")
	ErrRegistryClosed  = errors.New("session registry is shut down")
)

// EventKind classifies session events.
type EventKind string

const (
	// EventNavigation reports a main-frame navigation.
	EventNavigation EventKind = "navigation"
	// EventLoginSucceeded fires exactly once per session when the page
	// reaches an authenticated LinkedIn area.
	EventLoginSucceeded EventKind = "login-succeeded"
	// EventDisconnected reports that the browser connection was lost.
	EventDisconnected EventKind = "disconnected"
	// EventClosed reports that the session was torn down.
	EventClosed EventKind = "closed"
)

// Event is a transient session notification. Login events carry the
// extracted authentication cookies.
type Event struct {
	UserID  string
	Kind    EventKind
	URL     string
	Cookies map[string]string
	At      time.Time
}

// Session binds one user to one exclusively-owned browser and page.
type Session struct {
	UserID    string
	ID        string
	CreatedAt time.Time

	browser browser.Browser
	page    browser.Page

	loggedIn      atomic.Bool
	actionTimeout atomic.Int64 // time.Duration
	manualMode    atomic.Bool

	defaultTimeout time.Duration
	manualTimeout  time.Duration

	activityMu   sync.Mutex
	lastActivity time.Time

	sweepMu sync.Mutex
	sweep   *time.Timer

	eventsMu     sync.Mutex
	events       chan Event
	eventsClosed bool

	closed atomic.Bool
}

func newSession(userID string, b browser.Browser, p browser.Page, actionTimeout, manualTimeout time.Duration) *Session {
	now := time.Now()
	s := &Session{
		UserID:         userID,
		ID:             fmt.Sprintf("%s_%d", userID, now.UnixMilli()),
		CreatedAt:      now,
		browser:        b,
		page:           p,
		defaultTimeout: actionTimeout,
		manualTimeout:  manualTimeout,
		lastActivity:   now,
		events:         make(chan Event, 32),
	}
	s.actionTimeout.Store(int64(actionTimeout))
	return s
}

// Page returns the session's page handle.
func (s *Session) Page() browser.Page { return s.page }

// Touch refreshes the activity timestamp. Every interaction, including a
// bare liveness lookup, counts as activity so an actively polled session
// never races the idle sweep.
func (s *Session) Touch() {
	s.activityMu.Lock()
	s.lastActivity = time.Now()
	s.activityMu.Unlock()
}

// LastActivity returns the most recent activity timestamp.
func (s *Session) LastActivity() time.Time {
	s.activityMu.Lock()
	defer s.activityMu.Unlock()
	return s.lastActivity
}

// IdleFor reports how long the session has been without activity.
func (s *Session) IdleFor() time.Duration {
	return time.Since(s.LastActivity())
}

// MarkLoggedIn flips the logged-in flag. Returns true only for the caller
// that performed the transition, so login side effects run exactly once.
func (s *Session) MarkLoggedIn() bool {
	return s.loggedIn.CompareAndSwap(false, true)
}

// LoggedIn reports whether login success has been observed.
func (s *Session) LoggedIn() bool { return s.loggedIn.Load() }

// SetManualMode switches the per-action timeout between the default and
// the extended manual-mode value. Manual mode lengthens timeouts so a
// human can work through a multi-step challenge; it never removes them.
func (s *Session) SetManualMode(on bool) {
	s.manualMode.Store(on)
	if on {
		s.actionTimeout.Store(int64(s.manualTimeout))
	} else {
		s.actionTimeout.Store(int64(s.defaultTimeout))
	}
}

// ManualMode reports whether manual mode is active.
func (s *Session) ManualMode() bool { return s.manualMode.Load() }

// ActionTimeout returns the current per-action timeout.
func (s *Session) ActionTimeout() time.Duration {
	return time.Duration(s.actionTimeout.Load())
}

// Events returns the session's event stream. The transport is the single
// consumer; the channel is closed when the session is torn down.
func (s *Session) Events() <-chan Event { return s.events }

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool { return s.closed.Load() }

// publish delivers an event without ever blocking the producer. Events
// are dropped, with no retry, if the consumer has fallen 32 events
// behind or the session is already closed.
func (s *Session) publish(ev Event) bool {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if s.eventsClosed {
		return false
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Session) closeEvents() {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

func (s *Session) setSweep(t *time.Timer) {
	s.sweepMu.Lock()
	old := s.sweep
	s.sweep = t
	s.sweepMu.Unlock()
	if old != nil {
		old.Stop()
	}
}

func (s *Session) stopSweep() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweep != nil {
		s.sweep.Stop()
		s.sweep = nil
	}
}

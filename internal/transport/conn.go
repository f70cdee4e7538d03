package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/talonhq/linkpilot/internal/actions"
	"github.com/talonhq/linkpilot/internal/observer"
	"github.com/talonhq/linkpilot/internal/session"
)

const (
	htmlFetchTimeout    = 15 * time.Second
	captchaCheckTimeout = 10 * time.Second
)

// Conn is one client's control channel. Inbound messages are handled on
// a single goroutine so actions apply strictly in receive order, with the
// captcha re-check completing before the next action is read.
type Conn struct {
	hub    *Hub
	id     string
	userID string
	ws     *websocket.Conn

	out    chan ServerMessage
	frames chan []byte // capacity 1: latest frame wins, stale ones drop

	done     chan struct{}
	stopOnce sync.Once

	ready atomic.Bool

	sessMu sync.Mutex
	sess   *session.Session
}

func newConn(hub *Hub, userID string, ws *websocket.Conn) *Conn {
	return &Conn{
		hub:    hub,
		id:     uuid.NewString(),
		userID: userID,
		ws:     ws,
		out:    make(chan ServerMessage, 64),
		frames: make(chan []byte, 1),
		done:   make(chan struct{}),
	}
}

func (c *Conn) run() {
	c.hub.logger.Info("transport: client connected", "user", c.userID, "conn", c.id)

	go c.writeLoop()
	go c.bootstrap()

	c.readLoop()
	c.shutdown()

	c.hub.logger.Info("transport: client disconnected", "user", c.userID, "conn", c.id)
}

// shutdown stops the connection's goroutines and closes the socket. The
// session itself is untouched: it stays alive for reconnects until the
// registry's inactivity sweep collects it.
func (c *Conn) shutdown() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.ws.Close()
		if sess := c.session(); sess != nil && !sess.Closed() {
			if err := sess.Page().StopScreencast(); err != nil {
				c.hub.logger.Debug("transport: stop screencast on disconnect",
					"user", c.userID, "error", err)
			}
		}
	})
}

// bootstrap creates or resumes the user's session and signals readiness.
// It runs on its own goroutine so the read loop can already reject early
// actions with a descriptive error instead of silently dropping them.
// Session creation deliberately uses a background context: a client that
// drops mid-login may reconnect to the session being prepared.
func (c *Conn) bootstrap() {
	sess, err := c.hub.registry.GetOrCreate(context.Background(), c.userID)
	if err != nil {
		c.hub.logger.Error("transport: session start failed", "user", c.userID, "error", err)
		c.send(ServerMessage{Event: EventLoginError, Message: loginErrorMessage(err)})
		return
	}

	c.sessMu.Lock()
	c.sess = sess
	c.sessMu.Unlock()

	go c.eventLoop(sess)

	c.ready.Store(true)
	c.send(ServerMessage{Event: EventReadyForLogin})
}

func (c *Conn) session() *session.Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sess
}

// eventLoop forwards session state transitions to the client.
func (c *Conn) eventLoop(sess *session.Session) {
	for {
		select {
		case <-c.done:
			return
		case ev, ok := <-sess.Events():
			if !ok {
				c.send(ServerMessage{Event: EventSessionClosed})
				return
			}
			switch ev.Kind {
			case session.EventLoginSucceeded:
				c.send(ServerMessage{Event: EventLoginSuccess, URL: ev.URL, Cookies: ev.Cookies})
			case session.EventDisconnected:
				c.send(ServerMessage{Event: EventError, Message: "browser disconnected"})
			}
		}
	}
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.ws.WriteJSON(msg); err != nil {
				c.shutdown()
				return
			}
		case frame := <-c.frames:
			if err := c.ws.WriteJSON(ServerMessage{Event: EventScreencast, Frame: frame}); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

func (c *Conn) readLoop() {
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("transport: read error", "user", c.userID, "error", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg ClientMessage) {
	switch msg.Event {
	case EventStartLogin:
		// Connecting already starts the login flow; re-emit readiness
		// for clients that ask again.
		if c.ready.Load() {
			c.send(ServerMessage{Event: EventReadyForLogin})
		}
	case EventDomAction:
		c.handleAction(msg.Action)
	case EventGetPageHTML:
		c.handlePageHTML()
	case EventEnableManual:
		c.handleManualMode()
	case EventCloseSession:
		c.handleCloseSession()
	case EventStartScreencast:
		c.handleStartScreencast()
	case EventStopScreencast:
		c.handleStopScreencast()
	case EventClientCaptcha:
		c.hub.logger.Info("transport: client-side captcha report",
			"user", c.userID, "html_bytes", len(msg.HTML))
	default:
		c.send(ServerMessage{Event: EventError, Message: "unknown event: " + msg.Event})
	}
}

// liveSession validates that the connection is ready and its session and
// page are usable. Returns a client-facing error message otherwise.
func (c *Conn) liveSession() (*session.Session, string) {
	if !c.ready.Load() {
		return nil, "session is still starting; wait for ready-for-login"
	}
	sess := c.session()
	if sess == nil || sess.Closed() {
		return nil, session.ErrNoActiveSession.Error()
	}
	if sess.Page().IsClosed() {
		return nil, session.ErrPageClosed.Error()
	}
	return sess, ""
}

func (c *Conn) handleAction(a *actions.Action) {
	if a == nil {
		c.send(ServerMessage{Event: EventActionError, Message: "missing action payload"})
		return
	}
	sess, errMsg := c.liveSession()
	if errMsg != "" {
		c.send(ServerMessage{Event: EventActionError, Message: errMsg})
		return
	}

	sess.Touch()
	ctx, cancel := context.WithTimeout(context.Background(), sess.ActionTimeout())
	defer cancel()

	if err := c.hub.executor.Execute(ctx, sess.Page(), *a); err != nil {
		var unknown *actions.UnknownActionError
		if errors.As(err, &unknown) {
			c.send(ServerMessage{Event: EventActionError, Message: unknown.Error()})
		} else {
			c.send(ServerMessage{Event: EventActionError, Message: err.Error()})
		}
		return
	}
	sess.Touch()
	c.send(ServerMessage{Event: EventActionSuccess})

	// Challenge pages appear in response to actions, so the check runs
	// after each successful one, never concurrently with it.
	checkCtx, checkCancel := context.WithTimeout(context.Background(), captchaCheckTimeout)
	defer checkCancel()
	if found, html := observer.DetectCaptcha(checkCtx, sess.Page()); found {
		c.hub.logger.Info("transport: captcha detected", "user", c.userID)
		c.send(ServerMessage{Event: EventCaptchaDetected, HTML: html})
	}
}

func (c *Conn) handlePageHTML() {
	sess, errMsg := c.liveSession()
	if errMsg != "" {
		c.send(ServerMessage{Event: EventError, Message: errMsg})
		return
	}
	sess.Touch()

	ctx, cancel := context.WithTimeout(context.Background(), htmlFetchTimeout)
	defer cancel()
	html, err := sess.Page().HTML(ctx)
	if err != nil {
		c.send(ServerMessage{Event: EventError, Message: "failed to read page html"})
		return
	}
	c.send(ServerMessage{Event: EventPageHTML, HTML: html})
}

func (c *Conn) handleManualMode() {
	sess, errMsg := c.liveSession()
	if errMsg != "" {
		c.send(ServerMessage{Event: EventError, Message: errMsg})
		return
	}
	sess.Touch()
	sess.SetManualMode(true)
	c.send(ServerMessage{Event: EventManualEnabled})
}

func (c *Conn) handleCloseSession() {
	if err := c.hub.registry.Close(c.userID); err != nil {
		c.send(ServerMessage{Event: EventError, Message: "failed to close session"})
		return
	}
	c.ready.Store(false)
	// The event loop also announces the closure when the session's
	// event stream ends; this ack confirms the request itself.
	c.send(ServerMessage{Event: EventSessionClosed})
}

func (c *Conn) handleStartScreencast() {
	sess, errMsg := c.liveSession()
	if errMsg != "" {
		c.send(ServerMessage{Event: EventError, Message: errMsg})
		return
	}
	sess.Touch()
	if err := sess.Page().StartScreencast(c.pushFrame); err != nil {
		c.send(ServerMessage{Event: EventError, Message: "failed to start screencast"})
	}
}

func (c *Conn) handleStopScreencast() {
	sess, errMsg := c.liveSession()
	if errMsg != "" {
		c.send(ServerMessage{Event: EventError, Message: errMsg})
		return
	}
	if err := sess.Page().StopScreencast(); err != nil {
		c.send(ServerMessage{Event: EventError, Message: "failed to stop screencast"})
	}
}

// pushFrame hands a screencast frame to the writer, displacing any
// undelivered older frame. A client that renders slower than Chrome
// produces sees the newest frame, never a growing backlog.
func (c *Conn) pushFrame(frame []byte) {
	for {
		select {
		case c.frames <- frame:
			return
		default:
		}
		select {
		case <-c.frames:
		default:
		}
	}
}

func (c *Conn) send(msg ServerMessage) {
	select {
	case c.out <- msg:
	case <-c.done:
	}
}

// loginErrorMessage maps registry failures to stable client-facing text.
func loginErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrSessionLimit):
		return "too many active sessions, try again later"
	case errors.Is(err, session.ErrSessionCreation):
		return "could not start a browser session"
	case errors.Is(err, session.ErrRegistryClosed):
		return "service is shutting down"
	default:
		return "session start failed"
	}
}

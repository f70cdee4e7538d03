// Package transport implements the per-user remote-control channel:
// inbound action relay and outbound screencast/state events over a
// websocket connection.
package transport

import (
	"github.com/talonhq/linkpilot/internal/actions"
)

// Client → server events.
const (
	EventStartLogin      = "start-login"
	EventDomAction       = "dom-action"
	EventGetPageHTML     = "get-page-html"
	EventEnableManual    = "enable-manual-mode"
	EventCloseSession    = "close-session"
	EventStartScreencast = "start-screencast"
	EventStopScreencast  = "stop-screencast"
	// EventClientCaptcha lets the client forward a captcha detection it
	// made on its side of the canvas.
	EventClientCaptcha = "captcha-detected"
)

// Server → client events.
const (
	EventReadyForLogin   = "ready-for-login"
	EventLoginSuccess    = "login-success"
	EventLoginError      = "login-error"
	EventScreencast      = "screencast"
	EventActionSuccess   = "dom-action-success"
	EventActionError     = "dom-action-error"
	EventCaptchaDetected = "captcha-detected"
	EventPageHTML        = "page-html"
	EventManualEnabled   = "manual-mode-enabled"
	EventSessionClosed   = "session-closed"
	EventError           = "error"
)

// ClientMessage is one inbound websocket frame.
type ClientMessage struct {
	Event  string          `json:"event"`
	Action *actions.Action `json:"action,omitempty"`
	HTML   string          `json:"html,omitempty"`
}

// ServerMessage is one outbound websocket frame. Frame carries a
// base64-encoded screencast frame when Event is "screencast".
type ServerMessage struct {
	Event   string            `json:"event"`
	Message string            `json:"message,omitempty"`
	HTML    string            `json:"html,omitempty"`
	URL     string            `json:"url,omitempty"`
	Cookies map[string]string `json:"cookies,omitempty"`
	Frame   []byte            `json:"frame,omitempty"`
}

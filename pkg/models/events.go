package models

import "time"

// SessionEvent is the API view of a registry notification. An external
// scheduler polls these to learn when a login completed or a session
// closed.
type SessionEvent struct {
	UserID string    `json:"userId"`
	Kind   string    `json:"kind"`
	URL    string    `json:"url,omitempty"`
	At     time.Time `json:"at"`
}

// ActionResult acknowledges a relayed action.
type ActionResult struct {
	OK              bool   `json:"ok"`
	Error           string `json:"error,omitempty"`
	CaptchaDetected bool   `json:"captchaDetected,omitempty"`
	CaptchaHTML     string `json:"captchaHtml,omitempty"`
}

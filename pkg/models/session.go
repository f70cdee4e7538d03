// Package models holds the wire types of the session API.
package models

import "time"

// SessionInfo is the API view of an active browser session. The browser
// and page handles never leave the service.
type SessionInfo struct {
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	LoggedIn     bool      `json:"loggedIn"`
	ManualMode   bool      `json:"manualMode"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// StartSessionRequest creates or resumes a session for a user.
type StartSessionRequest struct {
	UserID string `json:"userId"`
}

// PageHTMLResponse carries the serialized DOM of the session's page.
type PageHTMLResponse struct {
	UserID string `json:"userId"`
	HTML   string `json:"html"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

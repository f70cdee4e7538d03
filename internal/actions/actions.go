// Package actions dispatches remote-control commands onto a session's
// page: clicks, typed input, form submits and reloads relayed from a
// client driving the login flow.
package actions

import (
	"fmt"
)

// Action types understood by the executor.
const (
	TypeClick   = "click"
	TypeInput   = "input"
	TypeSubmit  = "submit"
	TypeRefresh = "refresh"
)

// Action is a transient remote-control command. Exactly one variant is
// meaningful per Type; unknown types fail dispatch.
type Action struct {
	Type     string   `json:"type"`
	Selector string   `json:"selector,omitempty"`
	Value    string   `json:"value,omitempty"`
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
}

// UnknownActionError names an unrecognized action type.
type UnknownActionError struct {
	Type string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action type %q", e.Type)
}

// HasCoordinates reports whether the action carries a viewport position.
// Coordinates arrive already scaled to the page viewport; the client owns
// the canvas-to-viewport scale factor.
func (a Action) HasCoordinates() bool {
	return a.X != nil && a.Y != nil
}

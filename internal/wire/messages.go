// Package wire defines the WebSocket protocol for cascade sessions.
package wire

import (
	"encoding/json"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// ── Client → Server messages ────────────────────────────────────────────────

// ClientMessage is the envelope for all client-to-server WebSocket messages.
type ClientMessage struct {
	Type string          `json:"type"` // "select", "options", "state", "reset", "ping"
	ID   string          `json:"id"`   // Client-assigned request ID
	Data json.RawMessage `json:"data,omitempty"`
}

// SelectData is the payload for "select" messages. An empty value clears
// the position.
type SelectData struct {
	Position int    `json:"position"`
	Value    string `json:"value"`
}

// OptionsData is the payload for "options" messages.
type OptionsData struct {
	Position int    `json:"position"`
	Query    string `json:"query,omitempty"`
}

// ── Server → Client messages ────────────────────────────────────────────────

// ServerMessage is the envelope for all server-to-client WebSocket messages.
type ServerMessage struct {
	Type      string `json:"type"`                 // "session", "state", "options", "output", "error", "pong"
	RequestID string `json:"request_id,omitempty"` // Echoes client ID
	Data      any    `json:"data,omitempty"`
}

// PositionView describes one chain position as it should be rendered.
type PositionView struct {
	Field       string `json:"field"`
	Label       string `json:"label,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Visible     bool   `json:"visible"`
	Value       string `json:"value"`
	Display     string `json:"display,omitempty"` // read-only text on disabled controls
}

// StateData carries the full view of a session after a transition.
type StateData struct {
	Positions []PositionView  `json:"positions"`
	Output    *cascade.Output `json:"output,omitempty"`
	Disabled  bool            `json:"disabled,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OptionsResultData carries candidate values for one position.
type OptionsResultData struct {
	Position int      `json:"position"`
	Options  []string `json:"options"`
}

// ErrorData carries an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionData carries session information.
type SessionData struct {
	SessionID string    `json:"session_id"`
	State     StateData `json:"state"`
}

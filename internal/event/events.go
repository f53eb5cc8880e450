// Package event defines the events a cascade session emits.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/cascade/internal/cascade"
)

// Event types.
const (
	TypeSessionOpened   = "session_opened"
	TypeSessionFailed   = "session_failed"
	TypeOutputPublished = "output_published"
	TypeOutputCleared   = "output_cleared"
)

// Event carries the canonical shape of every session event.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Summary    string          `json:"summary"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// SessionOpenedPayload carries the data for SessionOpened.
type SessionOpenedPayload struct {
	Identity string `json:"identity,omitempty"`
	Records  int    `json:"records"`
}

func NewSessionOpened(sessionID string, p SessionOpenedPayload) Event {
	summary := fmt.Sprintf("Session opened with %d records", p.Records)
	if p.Identity != "" {
		summary += fmt.Sprintf(", seeded from %s", p.Identity)
	}
	return Event{
		ID:         newID(),
		Type:       TypeSessionOpened,
		SessionID:  sessionID,
		OccurredAt: time.Now(),
		Summary:    summary,
		Payload:    mustJSON(p),
	}
}

// SessionFailedPayload carries the data for SessionFailed.
type SessionFailedPayload struct {
	Error string `json:"error"`
}

func NewSessionFailed(sessionID string, err error) Event {
	return Event{
		ID:         newID(),
		Type:       TypeSessionFailed,
		SessionID:  sessionID,
		OccurredAt: time.Now(),
		Summary:    "Record fetch failed",
		Payload:    mustJSON(SessionFailedPayload{Error: err.Error()}),
	}
}

// NewOutputChanged builds the event for a sink notification. A zero value
// means the selection was cleared.
func NewOutputChanged(sessionID string, v cascade.LookupValue) Event {
	if v.IsZero() {
		return Event{
			ID:         newID(),
			Type:       TypeOutputCleared,
			SessionID:  sessionID,
			OccurredAt: time.Now(),
			Summary:    "Selection cleared",
		}
	}
	summary := fmt.Sprintf("Resolved %s %s", v.EntityType, v.ID)
	if v.Name != "" {
		summary += fmt.Sprintf(" (%s)", v.Name)
	}
	return Event{
		ID:         newID(),
		Type:       TypeOutputPublished,
		SessionID:  sessionID,
		OccurredAt: time.Now(),
		Summary:    summary,
		Payload:    mustJSON(v),
	}
}

// LookupValue decodes the payload of an output_published event.
func (e Event) LookupValue() (cascade.LookupValue, bool) {
	if e.Type != TypeOutputPublished {
		return cascade.LookupValue{}, false
	}
	var v cascade.LookupValue
	if err := json.Unmarshal(e.Payload, &v); err != nil {
		return cascade.LookupValue{}, false
	}
	return v, true
}

// Package activity stores the per-session event history: which sessions were
// opened and which identities each one published.
package activity

import (
	"encoding/json"
	"time"
)

// Entry is one stored session event.
type Entry struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	SessionID  string          `json:"session_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Summary    string          `json:"summary"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// QueryOptions controls filtering and pagination for session history queries.
type QueryOptions struct {
	Since  *time.Time // default: no lower bound
	Types  []string   // filter to specific event types
	Limit  int        // max results (default: 100, max: 500)
	Cursor string     // cursor for pagination
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Limit: 100}
}

func (o QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > 500 {
		return 100
	}
	return o.Limit
}

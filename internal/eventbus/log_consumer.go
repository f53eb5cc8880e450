package eventbus

import (
	"context"
	"log"

	"github.com/matthewbaird/cascade/internal/event"
)

// LogConsumer logs all session events.
type LogConsumer struct{}

func NewLogConsumer() *LogConsumer { return &LogConsumer{} }

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.Event) error {
	log.Printf("event: %s [session %s] %s", evt.Type, shortID(evt.SessionID), evt.Summary)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package eventbus

import (
	"context"
	"sync"

	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/event"
)

// OutputConsumer fans output events out to per-session listeners, such as a
// websocket connection pushing "output" messages to its client.
type OutputConsumer struct {
	mu        sync.RWMutex
	listeners map[string]map[int]func(cascade.LookupValue)
	next      int
}

// NewOutputConsumer creates an OutputConsumer with no listeners.
func NewOutputConsumer() *OutputConsumer {
	return &OutputConsumer{listeners: make(map[string]map[int]func(cascade.LookupValue))}
}

// Listen registers fn for a session's output changes. The returned function
// removes the listener.
func (c *OutputConsumer) Listen(sessionID string, fn func(cascade.LookupValue)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	if c.listeners[sessionID] == nil {
		c.listeners[sessionID] = make(map[int]func(cascade.LookupValue))
	}
	c.listeners[sessionID][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[sessionID], id)
		if len(c.listeners[sessionID]) == 0 {
			delete(c.listeners, sessionID)
		}
	}
}

func (c *OutputConsumer) HandleEvent(_ context.Context, evt event.Event) error {
	var v cascade.LookupValue
	switch evt.Type {
	case event.TypeOutputPublished:
		var ok bool
		if v, ok = evt.LookupValue(); !ok {
			return nil
		}
	case event.TypeOutputCleared:
	default:
		return nil
	}

	c.mu.RLock()
	fns := make([]func(cascade.LookupValue), 0, len(c.listeners[evt.SessionID]))
	for _, fn := range c.listeners[evt.SessionID] {
		fns = append(fns, fn)
	}
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
	return nil
}

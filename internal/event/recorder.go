package event

import (
	"context"

	"github.com/matthewbaird/cascade/internal/activity"
)

// Recorder persists session events.
type Recorder interface {
	Record(ctx context.Context, evt Event) error
}

// Publisher sends events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}

// ActivityRecorder implements Recorder by writing each event as an
// activity.Entry. If a Publisher is set, the event is also published after
// the store write succeeds.
type ActivityRecorder struct {
	store activity.Store
	bus   Publisher
}

// NewActivityRecorder creates a new ActivityRecorder backed by the given store.
func NewActivityRecorder(store activity.Store) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

// SetPublisher attaches an event bus. Events are published after store writes.
func (r *ActivityRecorder) SetPublisher(p Publisher) {
	r.bus = p
}

func (r *ActivityRecorder) Record(ctx context.Context, evt Event) error {
	entry := activity.Entry{
		EventID:    evt.ID,
		EventType:  evt.Type,
		SessionID:  evt.SessionID,
		OccurredAt: evt.OccurredAt,
		Summary:    evt.Summary,
		Payload:    evt.Payload,
	}
	if err := r.store.WriteEntries(ctx, []activity.Entry{entry}); err != nil {
		return err
	}

	if r.bus != nil {
		r.bus.Publish(ctx, evt)
	}
	return nil
}

package cascade

// LookupValue is the structured identity published for a resolved record.
// The zero value means "no selection".
type LookupValue struct {
	ID         string `json:"id,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	Name       string `json:"name,omitempty"`
}

// IsZero reports whether v carries no identity.
func (v LookupValue) IsZero() bool {
	return v.ID == ""
}

// Sink receives output notifications: at most one per distinct resolved identity.
type Sink interface {
	Notify(v LookupValue)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(v LookupValue)

func (f SinkFunc) Notify(v LookupValue) {
	f(v)
}

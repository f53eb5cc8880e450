package cascade

import (
	"errors"
	"fmt"
	"log"
	"slices"
)

var (
	// ErrPositionInvalid is returned when a position is not an active chain entry.
	// The controller state is left untouched.
	ErrPositionInvalid = errors.New("position is not configured")
	// ErrPrefixViolation is returned when a value is chosen below an unset position.
	ErrPrefixViolation = errors.New("upstream position is unset")
	// ErrDataUnavailable marks a failed record fetch.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrDisabled is returned when selection is attempted on a disabled control.
	ErrDisabled = errors.New("control is disabled")
)

// noContent is shown in place of an empty selection on a disabled control.
const noContent = "No content"

// Settings is the declarative configuration the controller runs against.
type Settings struct {
	Chain           FieldChain
	IdentifierField string
	PrimaryField    string
	ResultField     string
	EntityType      string
	// Strict disables partial-match resolution: every active position must be set.
	Strict   bool
	Disabled bool
}

// Output is the record the current selection resolves to.
type Output struct {
	Identifier string `json:"identifier"`
	Result     string `json:"result,omitempty"`
	Record     Record `json:"record"`
}

// State is a point-in-time copy of the controller's selection, derived
// dependencies and resolved output.
type State struct {
	Selection    []string        `json:"selection"`
	Dependencies []ConstraintSet `json:"dependencies"`
	Output       *Output         `json:"output,omitempty"`
}

// Controller owns the selection state machine for one control instance.
//
// It is not safe for concurrent use. Transitions are expected to arrive one
// at a time from a single event loop.
type Controller struct {
	settings Settings
	sink     Sink

	store *Store
	err   error

	selection []string
	deps      []ConstraintSet
	output    *Output
	published LookupValue
}

// NewController creates a controller with an empty selection and no records.
// sink may be nil.
func NewController(settings Settings, sink Sink) *Controller {
	c := &Controller{
		settings: settings,
		sink:     sink,
	}
	c.selection = make([]string, settings.Chain.Active())
	c.deps = deriveDependencies(settings.Chain, c.selection)
	return c
}

// Settings returns the configuration the controller was built with.
func (c *Controller) Settings() Settings {
	return c.settings
}

// Load installs a freshly fetched record snapshot. When identity is non-empty
// the selection is seeded from the record carrying that identity, in one step;
// on a miss the previous selection is kept. The seeded record stays the output
// even when an earlier record shares its chain values, and it counts as
// already published, so loading never echoes anything back to the sink.
func (c *Controller) Load(store *Store, identity string) {
	c.store = store
	c.err = nil

	seeded, rec, ok := LookupIdentity(store, c.settings.Chain, c.settings.IdentifierField, identity)
	if !ok {
		if identity != "" && c.settings.IdentifierField != "" {
			log.Printf("cascade: no record with %s=%q", c.settings.IdentifierField, identity)
		}
		c.commit(slices.Clone(c.selection))
		return
	}

	c.selection = seeded
	c.deps = deriveDependencies(c.settings.Chain, seeded)
	if len(seeded) == 0 || seeded[0] == "" {
		c.output = nil
		return
	}
	c.published = c.lookupValue(rec)
	c.setOutput(rec)
}

// Fail records a failed fetch. Until the next Load the controller offers no
// candidates and resolves no output.
func (c *Controller) Fail(err error) {
	c.store = nil
	c.err = fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	c.selection = make([]string, c.settings.Chain.Active())
	c.deps = deriveDependencies(c.settings.Chain, c.selection)
	c.output = nil
}

// Err returns the fetch failure recorded by Fail, or nil.
func (c *Controller) Err() error {
	return c.err
}

// Select is the single selection-change transition. It sets position pos to
// value (empty clears it), clears every downstream position, rebuilds the
// dependency sets and re-resolves the output. Rejected calls leave the state
// unchanged and return the current state with the error.
func (c *Controller) Select(pos int, value string) (State, error) {
	if pos < 0 || pos >= len(c.selection) {
		return c.State(), fmt.Errorf("select position %d: %w", pos, ErrPositionInvalid)
	}
	if c.settings.Disabled {
		return c.State(), ErrDisabled
	}
	if c.err != nil {
		return c.State(), c.err
	}
	if value != "" && pos > 0 && c.selection[pos-1] == "" {
		log.Printf("cascade: rejected selection at position %d: position %d is unset", pos, pos-1)
		return c.State(), fmt.Errorf("select position %d: %w", pos, ErrPrefixViolation)
	}

	next := slices.Clone(c.selection)
	next[pos] = value
	clear(next[pos+1:])
	c.commit(next)
	return c.State(), nil
}

// Reset clears the whole selection. If an identity had been published the
// sink is told there is no selection any more.
func (c *Controller) Reset() State {
	c.selection = make([]string, c.settings.Chain.Active())
	c.deps = deriveDependencies(c.settings.Chain, c.selection)
	c.output = nil
	if !c.published.IsZero() {
		c.published = LookupValue{}
		if c.sink != nil {
			c.sink.Notify(LookupValue{})
		}
	}
	return c.State()
}

// commit swaps in a new selection together with its derived dependencies and
// then re-resolves the output.
func (c *Controller) commit(selection []string) {
	c.selection = selection
	c.deps = deriveDependencies(c.settings.Chain, selection)
	c.resolve()
}

func (c *Controller) resolve() {
	if c.settings.IdentifierField == "" {
		c.output = nil
		return
	}
	rec, ok := ResolveOutput(c.store, c.settings.Chain, c.selection, c.settings.Strict)
	if !ok {
		c.output = nil
		return
	}
	c.setOutput(rec)
	c.notify(rec)
}

func (c *Controller) setOutput(rec Record) {
	out := &Output{Record: rec}
	out.Identifier, _ = rec.Get(c.settings.IdentifierField)
	if c.settings.ResultField != "" {
		out.Result, _ = rec.Get(c.settings.ResultField)
	}
	c.output = out
}

func (c *Controller) notify(rec Record) {
	if c.settings.PrimaryField == "" {
		log.Printf("cascade: notification skipped: primary field not configured")
		return
	}
	v := c.lookupValue(rec)
	if v.ID == "" || v.ID == c.published.ID {
		return
	}
	c.published = v
	if c.sink != nil {
		c.sink.Notify(v)
	}
}

func (c *Controller) lookupValue(rec Record) LookupValue {
	v := LookupValue{EntityType: c.settings.EntityType}
	v.ID, _ = rec.Get(c.settings.IdentifierField)
	if c.settings.PrimaryField != "" {
		v.Name, _ = rec.Get(c.settings.PrimaryField)
	}
	return v
}

// Visible reports whether position pos should currently be displayed: it must
// be active and, past the first, its upstream position must be set.
func (c *Controller) Visible(pos int) bool {
	if pos < 0 || pos >= len(c.selection) {
		return false
	}
	return pos == 0 || c.selection[pos-1] != ""
}

// Options returns the candidate values for position pos given the current
// upstream selection. Hidden positions, disabled controls and failed loads
// have no candidates.
func (c *Controller) Options(pos int) []string {
	if c.err != nil || c.settings.Disabled || !c.Visible(pos) {
		return nil
	}
	var cs ConstraintSet
	if pos > 0 {
		cs = c.deps[pos-1]
	}
	return ResolveOptions(c.store, c.settings.Chain[pos], cs)
}

// DisplayText is the read-only rendering of position pos on a disabled control.
func (c *Controller) DisplayText(pos int) string {
	if pos < 0 || pos >= len(c.selection) || c.selection[pos] == "" {
		return noContent
	}
	return c.selection[pos]
}

// Output returns the currently resolved output, or nil.
func (c *Controller) Output() *Output {
	return c.output
}

// Published returns the last identity handed to the sink.
func (c *Controller) Published() LookupValue {
	return c.published
}

// State returns a copy of the current selection, dependencies and output.
func (c *Controller) State() State {
	st := State{
		Selection:    slices.Clone(c.selection),
		Dependencies: make([]ConstraintSet, len(c.deps)),
	}
	for i, d := range c.deps {
		st.Dependencies[i] = slices.Clone(d)
	}
	if c.output != nil {
		out := *c.output
		st.Output = &out
	}
	return st
}

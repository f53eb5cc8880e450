package wire

import (
	"errors"

	"github.com/matthewbaird/cascade/internal/cascade"
	"github.com/matthewbaird/cascade/internal/config"
)

// BuildState renders the controller's current state for clients. positions
// supplies labels and placeholders; it may be shorter than the chain.
func BuildState(c *cascade.Controller, positions []config.Position) StateData {
	st := c.State()
	settings := c.Settings()
	data := StateData{
		Positions: make([]PositionView, len(st.Selection)),
		Output:    st.Output,
		Disabled:  settings.Disabled,
	}
	for i, v := range st.Selection {
		pv := PositionView{
			Field:   settings.Chain.Field(i),
			Visible: c.Visible(i),
			Value:   v,
		}
		if i < len(positions) {
			pv.Label = positions[i].Label
			pv.Placeholder = positions[i].Placeholder
		}
		if settings.Disabled {
			pv.Display = c.DisplayText(i)
		}
		data.Positions[i] = pv
	}
	if err := c.Err(); err != nil {
		data.Error = err.Error()
	}
	return data
}

// ErrorCode maps controller errors to protocol error codes.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, cascade.ErrPositionInvalid):
		return "invalid_position"
	case errors.Is(err, cascade.ErrPrefixViolation):
		return "prefix_violation"
	case errors.Is(err, cascade.ErrDisabled):
		return "disabled"
	case errors.Is(err, cascade.ErrDataUnavailable):
		return "data_unavailable"
	default:
		return "internal_error"
	}
}

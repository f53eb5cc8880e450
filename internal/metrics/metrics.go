// Package metrics registers the Prometheus collectors for cascade sessions.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/matthewbaird/cascade/internal/cascade"
)

var (
	SelectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_selections_total",
		Help: "Selection transitions by outcome",
	}, []string{"outcome"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_notifications_total",
		Help: "Output notifications delivered to the sink",
	}, []string{"kind"})

	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cascade_sessions_active",
		Help: "Current number of live sessions",
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_fetch_duration_seconds",
		Help:    "Duration of record fetches",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"result"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cascade_events_dropped_total",
		Help: "Events dropped because the bus buffer was full",
	})
)

// Outcome labels for SelectionsTotal.
const (
	OutcomeOK              = "ok"
	OutcomeInvalidPosition = "invalid_position"
	OutcomePrefixViolation = "prefix_violation"
	OutcomeDisabled        = "disabled"
	OutcomeUnavailable     = "unavailable"
	OutcomeError           = "error"
)

// SelectOutcome maps the error returned by Controller.Select to a label.
func SelectOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, cascade.ErrPositionInvalid):
		return OutcomeInvalidPosition
	case errors.Is(err, cascade.ErrPrefixViolation):
		return OutcomePrefixViolation
	case errors.Is(err, cascade.ErrDisabled):
		return OutcomeDisabled
	case errors.Is(err, cascade.ErrDataUnavailable):
		return OutcomeUnavailable
	default:
		return OutcomeError
	}
}

// ObserveSelect counts one selection transition.
func ObserveSelect(err error) {
	SelectionsTotal.WithLabelValues(SelectOutcome(err)).Inc()
}

// ObserveNotification counts one sink notification. A zero value is a clear.
func ObserveNotification(v cascade.LookupValue) {
	kind := "published"
	if v.IsZero() {
		kind = "cleared"
	}
	NotificationsTotal.WithLabelValues(kind).Inc()
}

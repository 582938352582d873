// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breakers guard outbound calls from the tracker, today only capture
// uploads. The component label is the breaker name.
var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "timetrack_breaker_state",
		Help: "Current breaker state per guarded call (1 on the active state). Open means captures stay staged locally.",
	}, []string{"component", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_breaker_trips_total",
		Help: "Times a breaker opened, by cause (threshold_exceeded or half_open_failure)",
	}, []string{"component", "reason"})

	breakerRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "timetrack_breaker_rejected_total",
		Help: "Calls refused without reaching the daemon because the breaker was open",
	}, []string{"component"})
)

var breakerStates = []string{"closed", "half-open", "open"}

// SetCircuitBreakerState marks state as the only active one for component.
// Unknown states are ignored so the gauge never shows two active states.
func SetCircuitBreakerState(component, state string) {
	known := false
	for _, s := range breakerStates {
		if s == state {
			known = true
			break
		}
	}
	if !known {
		return
	}
	for _, s := range breakerStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		breakerState.WithLabelValues(component, s).Set(value)
	}
}

func RecordCircuitBreakerTrip(component, reason string) {
	breakerTrips.WithLabelValues(component, reason).Inc()
}

// RecordCircuitBreakerRejection counts a call short-circuited by an open breaker.
func RecordCircuitBreakerRejection(component string) {
	breakerRejected.WithLabelValues(component).Inc()
}

// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var apiAuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "timetrack_api_auth_failures_total",
	Help: "Rejected Session API requests by reason.",
}, []string{"reason"})

func IncAPIAuthFailure(reason string) { apiAuthFailuresTotal.WithLabelValues(reason).Inc() }

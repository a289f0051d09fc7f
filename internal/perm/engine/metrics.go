// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gridward Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/gridward/gridward/internal/perm/audit"
)

// Metrics for permission resolution.
var (
	// checkDuration tracks the latency of Check() calls.
	checkDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gridward_check_duration_seconds",
		Help:    "Histogram of permission check latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// decisionsCounter counts decisions by outcome and cache source.
	decisionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridward_check_decisions_total",
		Help: "Total number of permission check decisions",
	}, []string{"outcome", "source"})

	// mutationsCounter counts grant/revoke operations by result.
	mutationsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gridward_grant_mutations_total",
		Help: "Total number of grant and revoke operations",
	}, []string{"op", "result"})
)

// recordCheck records metrics for a completed check.
func recordCheck(duration time.Duration, outcome audit.Outcome, source string) {
	checkDuration.Observe(duration.Seconds())
	decisionsCounter.WithLabelValues(string(outcome), source).Inc()
}

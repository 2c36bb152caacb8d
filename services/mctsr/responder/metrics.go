// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package responder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// responderCalls counts Responder calls by backend and outcome.
	// Outcomes: "success", "error", "rejected", "rate_limited".
	responderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mctsr_responder_calls_total",
		Help: "Total Responder calls by backend and outcome",
	}, []string{"backend", "outcome"})

	responderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mctsr_responder_duration_seconds",
		Help:    "Responder call latency",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"backend"})

	responderReplyChars = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mctsr_responder_reply_chars",
		Help:    "Length of Responder replies in characters",
		Buckets: prometheus.ExponentialBuckets(4, 4, 8),
	}, []string{"backend"})

	// breakerState reports the circuit state per backend: 0 closed, 1 open, 2 half-open.
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mctsr_responder_circuit_state",
		Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	}, []string{"backend"})
)

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
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Backend labels the guard's metrics, e.g. "openai".
	Backend string

	// RequestsPerSecond limits the call rate. Zero or negative disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter's bucket size. Values below 1 become 1.
	Burst int

	// Timeout bounds each call to the wrapped Responder. Zero disables it.
	Timeout time.Duration

	// Breaker configures the circuit breaker.
	Breaker BreakerConfig
}

// Guard wraps a Responder with rate limiting, a circuit breaker and
// Prometheus metrics.
//
// Thread Safety: Safe for concurrent use when the wrapped Responder is.
type Guard struct {
	next    Responder
	backend string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewGuard wraps next.
//
// Inputs:
//   - next: The backend to protect. Must not be nil.
//   - cfg: Guard configuration.
//   - logger: Logger for breaker transitions. Nil uses slog.Default().
//
// Outputs:
//   - *Guard: The wrapping Responder.
func NewGuard(next Responder, cfg GuardConfig, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	backend := cfg.Backend
	if backend == "" {
		backend = "unknown"
	}

	g := &Guard{
		next:    next,
		backend: backend,
		timeout: cfg.Timeout,
		breaker: NewCircuitBreaker(cfg.Breaker),
		logger:  logger.With("backend", backend),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	g.breaker.onStateChange = func(state CircuitState) {
		breakerState.WithLabelValues(backend).Set(float64(state))
		g.logger.Warn("Responder circuit state changed", "state", state.String())
	}
	breakerState.WithLabelValues(backend).Set(float64(CircuitClosed))
	return g
}

// Breaker returns the guard's circuit breaker.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Respond implements Responder.
func (g *Guard) Respond(ctx context.Context, conversation []Message) (string, error) {
	allowed, release := g.breaker.Allow()
	if !allowed {
		responderCalls.WithLabelValues(g.backend, "rejected").Inc()
		return "", ErrCircuitOpen
	}
	if release != nil {
		defer release()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			responderCalls.WithLabelValues(g.backend, "rate_limited").Inc()
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := g.next.Respond(ctx, conversation)
	responderDuration.WithLabelValues(g.backend).Observe(time.Since(start).Seconds())
	if err != nil {
		g.breaker.RecordFailure()
		responderCalls.WithLabelValues(g.backend, "error").Inc()
		return "", err
	}

	g.breaker.RecordSuccess()
	responderCalls.WithLabelValues(g.backend, "success").Inc()
	responderReplyChars.WithLabelValues(g.backend).Observe(float64(len(reply)))
	return reply, nil
}

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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg BreakerConfig) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(cfg)
	cb.now = clock.Now
	cb.lastStateChange = clock.Now()
	return cb, clock
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{})
	assert.Equal(t, DefaultBreakerConfig(), cb.config)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 3, OpenDuration: time.Minute})

	for i := 0; i < 2; i++ {
		ok, _ := cb.Allow()
		require.True(t, ok)
		cb.RecordFailure()
	}
	assert.Equal(t, CircuitClosed, cb.State())

	ok, _ := cb.Allow()
	require.True(t, ok)
	cb.RecordFailure()
	assert.Equal(t, CircuitOpen, cb.State())

	ok, release := cb.Allow()
	assert.False(t, ok)
	assert.Nil(t, release)

	stats := cb.Stats()
	assert.Equal(t, "open", stats.State)
	assert.Equal(t, int64(4), stats.TotalCalls)
	assert.Equal(t, int64(3), stats.TotalFailures)
	assert.Equal(t, int64(1), stats.TotalRejections)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(BreakerConfig{FailureThreshold: 2})

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().CurrentFailures)
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		OpenDuration:     10 * time.Second,
		HalfOpenMax:      1,
	})

	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	clock.Advance(9 * time.Second)
	ok, _ := cb.Allow()
	assert.False(t, ok)

	clock.Advance(time.Second)
	ok, release := cb.Allow()
	require.True(t, ok)
	require.NotNil(t, release)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// Only one probe at a time.
	ok, _ = cb.Allow()
	assert.False(t, ok)

	cb.RecordSuccess()
	release()
	release()
	assert.Equal(t, CircuitHalfOpen, cb.State())

	ok, release = cb.Allow()
	require.True(t, ok)
	cb.RecordSuccess()
	release()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenDuration: time.Second})

	cb.RecordFailure()
	clock.Advance(time.Second)

	ok, release := cb.Allow()
	require.True(t, ok)
	cb.RecordFailure()
	release()
	assert.Equal(t, CircuitOpen, cb.State())

	ok, _ = cb.Allow()
	assert.False(t, ok)
}

func TestCircuitBreaker_StateChangeHook(t *testing.T) {
	cb, clock := newTestBreaker(BreakerConfig{FailureThreshold: 1, OpenDuration: time.Second})
	var seen []CircuitState
	cb.onStateChange = func(s CircuitState) { seen = append(seen, s) }

	cb.RecordFailure()
	clock.Advance(time.Second)
	_, release := cb.Allow()
	release()
	cb.Reset()

	assert.Equal(t, []CircuitState{CircuitOpen, CircuitHalfOpen, CircuitClosed}, seen)
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(9).String())
}

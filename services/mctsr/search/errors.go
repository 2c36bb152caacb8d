// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned for invalid search configuration,
	// including an unrecognized selection policy. It aborts before any rollout.
	ErrConfiguration = errors.New("configuration error")

	// ErrResponder wraps any transport or content failure from the Responder.
	ErrResponder = errors.New("responder error")

	// ErrScoreParse is returned when a reward cannot be parsed as an integer
	// within the allowed number of attempts.
	ErrScoreParse = errors.New("score parse error")

	// ErrAlreadyEvaluated is returned when an evaluation is applied twice to a node.
	ErrAlreadyEvaluated = errors.New("node already evaluated")
)

// ScoreParseError describes a reward draw that never produced an integer.
type ScoreParseError struct {
	// Attempts is the number of Responder calls made for this draw.
	Attempts int

	// LastResponse is the final unparseable reply.
	LastResponse string

	// Err is the last parse failure.
	Err error
}

// Error implements error.
func (e *ScoreParseError) Error() string {
	return fmt.Sprintf("%s: %d attempts, last response %q: %v",
		ErrScoreParse, e.Attempts, truncate(e.LastResponse, 40), e.Err)
}

// Unwrap exposes both ErrScoreParse and the underlying parse failure.
func (e *ScoreParseError) Unwrap() []error {
	return []error{ErrScoreParse, e.Err}
}

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

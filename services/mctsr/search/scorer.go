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
	"math"
)

// RootScore is the UCT score of the root. It exceeds every finite value the
// UCT formula can produce, so the root always dominates a comparison.
const RootScore = math.MaxFloat64

// Scorer computes Upper Confidence bounds applied to Trees.
type Scorer struct {
	// ExplorationConstant is c in the UCT formula.
	ExplorationConstant float64

	// Epsilon keeps the denominator positive for unvisited nodes.
	Epsilon float64
}

// NewScorer creates a scorer from the search configuration.
func NewScorer(cfg Config) Scorer {
	return Scorer{
		ExplorationConstant: cfg.ExplorationConstant,
		Epsilon:             cfg.Epsilon,
	}
}

// UCT returns the selection score of n.
//
// For the root this is RootScore. Otherwise:
//
//	Q + c * sqrt(ln(parent.visits + 1) / (visits + epsilon))
//
// The result is finite for every non-root node since visits >= 0 and
// epsilon > 0.
func (s Scorer) UCT(n *Node) float64 {
	if n.parent == nil {
		return RootScore
	}
	exploration := math.Sqrt(math.Log(float64(n.parent.visits)+1) / (float64(n.visits) + s.Epsilon))
	return n.q + s.ExplorationConstant*exploration
}

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
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// SelectionPolicy determines how the next node to expand is chosen.
type SelectionPolicy int

const (
	// PolicyGreedy picks the candidate with maximum UCT; first encountered wins ties.
	PolicyGreedy SelectionPolicy = iota + 1

	// PolicyImportanceSampling draws a candidate with probability proportional to UCT.
	PolicyImportanceSampling

	// PolicyPairwiseImportanceSampling draws a pair weighted by UCT difference
	// and returns its higher-UCT member.
	PolicyPairwiseImportanceSampling
)

var policyNames = map[SelectionPolicy]string{
	PolicyGreedy:                     "GREEDY",
	PolicyImportanceSampling:         "IMPORTANCE_SAMPLING",
	PolicyPairwiseImportanceSampling: "PAIRWISE_IMPORTANCE_SAMPLING",
}

// String returns the canonical policy name.
func (p SelectionPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("SelectionPolicy(%d)", int(p))
}

// IsValid returns true for the three known policies.
func (p SelectionPolicy) IsValid() bool {
	_, ok := policyNames[p]
	return ok
}

// ParseSelectionPolicy parses a policy name, case-insensitively.
// Hyphens are accepted in place of underscores.
//
// Outputs:
//   - SelectionPolicy: The parsed policy.
//   - error: Wraps ErrConfiguration for an unrecognized name.
func ParseSelectionPolicy(name string) (SelectionPolicy, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "-", "_"))
	for policy, policyName := range policyNames {
		if policyName == normalized {
			return policy, nil
		}
	}
	return 0, configErrorf("unknown selection policy %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (p SelectionPolicy) MarshalText() ([]byte, error) {
	if !p.IsValid() {
		return nil, configErrorf("unknown selection policy %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *SelectionPolicy) UnmarshalText(text []byte) error {
	policy, err := ParseSelectionPolicy(string(text))
	if err != nil {
		return err
	}
	*p = policy
	return nil
}

// Selector chooses the next node to expand.
//
// Thread Safety: Safe for concurrent use. The RNG is guarded by its own
// mutex; tree reads happen under the tree's read lock.
type Selector struct {
	policy      SelectionPolicy
	scorer      Scorer
	maxChildren int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector.
//
// Inputs:
//   - policy: One of the three known policies.
//   - scorer: UCT scorer used to weight candidates.
//   - maxChildren: Expansion cap passed to IsFullyExpanded.
//   - rng: Source of randomness for the sampling policies. Must not be nil.
//
// Outputs:
//   - *Selector: The selector.
//   - error: Wraps ErrConfiguration for an unknown policy.
func NewSelector(policy SelectionPolicy, scorer Scorer, maxChildren int, rng *rand.Rand) (*Selector, error) {
	if !policy.IsValid() {
		return nil, configErrorf("unknown selection policy %d", int(policy))
	}
	if rng == nil {
		return nil, configErrorf("selector requires a random source")
	}
	return &Selector{
		policy:      policy,
		scorer:      scorer,
		maxChildren: maxChildren,
		rng:         rng,
	}, nil
}

// Policy returns the configured selection policy.
func (s *Selector) Policy() SelectionPolicy {
	return s.policy
}

// Candidates returns every node in the tree that is not fully expanded,
// in breadth-first order.
func (s *Selector) Candidates(t *Tree) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return s.candidates(t)
}

// Select picks the next node to expand. If no node qualifies the root is
// returned.
//
// The traversal visits every node, including descendants of fully expanded
// nodes.
func (s *Selector) Select(t *Tree) (*Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return s.selectLocked(t)
}

// selectLocked requires the caller to hold t.mu for reading or writing.
func (s *Selector) selectLocked(t *Tree) (*Node, error) {
	candidates := s.candidates(t)
	if len(candidates) == 0 {
		return t.root, nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = s.scorer.UCT(c)
	}

	switch s.policy {
	case PolicyGreedy:
		return candidates[argmax(scores)], nil
	case PolicyImportanceSampling:
		s.mu.Lock()
		idx := weightedIndex(s.rng, scores)
		s.mu.Unlock()
		return candidates[idx], nil
	case PolicyPairwiseImportanceSampling:
		s.mu.Lock()
		idx := pairwiseIndex(s.rng, scores)
		s.mu.Unlock()
		return candidates[idx], nil
	default:
		return nil, configErrorf("unknown selection policy %d", int(s.policy))
	}
}

func (s *Selector) candidates(t *Tree) []*Node {
	var candidates []*Node
	t.bfs(func(n *Node) bool {
		if !IsFullyExpanded(n, s.maxChildren) {
			candidates = append(candidates, n)
		}
		return true
	})
	return candidates
}

func argmax(scores []float64) int {
	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}
	return best
}

// weightedIndex draws an index with probability proportional to weights.
//
// Negative weights count as zero. If every weight is zero the draw is
// uniform. Weights are scaled by their maximum before summing so that
// RootScore cannot overflow the total.
func weightedIndex(rng *rand.Rand, weights []float64) int {
	maxWeight := 0.0
	for _, w := range weights {
		if w > maxWeight {
			maxWeight = w
		}
	}
	if maxWeight == 0 {
		return rng.IntN(len(weights))
	}

	cumulative := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w > 0 {
			total += w / maxWeight
		}
		cumulative[i] = total
	}

	r := rng.Float64() * total
	for i, c := range cumulative {
		if c > r && weights[i] > 0 {
			return i
		}
	}
	// Float rounding can leave r at the very top; take the last positive weight.
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return len(weights) - 1
}

// pairwiseIndex draws an ordered pair (i, j), including i == j, weighted by
// |scores[i] - scores[j]|, and returns the higher-scoring member. If every
// pair weighs zero the draw is uniform over the scores.
func pairwiseIndex(rng *rand.Rand, scores []float64) int {
	n := len(scores)
	weights := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			weights = append(weights, pairWeight(scores[i], scores[j]))
		}
	}

	pair := weightedIndex(rng, weights)
	i, j := pair/n, pair%n
	if weights[pair] == 0 {
		// All pairs tied; weightedIndex drew uniformly over pairs.
		return rng.IntN(n)
	}
	if scores[j] > scores[i] {
		return j
	}
	return i
}

// pairWeight returns |a - b| without overflowing when one side is RootScore.
func pairWeight(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	// a - b overflows to +Inf only when both are huge with opposite signs.
	d := a - b
	if d > RootScore {
		return RootScore
	}
	return d
}

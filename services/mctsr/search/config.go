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

// Default search parameters.
const (
	DefaultMaxRollouts         = 8
	DefaultExplorationConstant = 1.0
	DefaultMaxChildren         = 2
	DefaultEpsilon             = 1e-10
	DefaultRewardLimit         = 95
	DefaultExcessRewardPenalty = 5
	DefaultNumRewardSamples    = 3
	DefaultMaxParseAttempts    = 3
	DefaultRootAnswer          = "I don't know."
)

// Config holds the immutable parameters of one search run.
type Config struct {
	// MaxRollouts is the number of select/refine/evaluate/backpropagate cycles.
	MaxRollouts int `json:"max_rollouts" yaml:"max_rollouts"`

	// ExplorationConstant is c in the UCT formula.
	ExplorationConstant float64 `json:"exploration_constant" yaml:"exploration_constant"`

	// MaxChildren caps how many children a node may have before it is fully expanded.
	MaxChildren int `json:"max_children" yaml:"max_children"`

	// Epsilon guards the UCT division for unvisited nodes.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`

	// RewardLimit is the largest reward accepted without penalty.
	RewardLimit int `json:"reward_limit" yaml:"reward_limit"`

	// ExcessRewardPenalty is subtracted from any reward above RewardLimit.
	ExcessRewardPenalty int `json:"excess_reward_penalty" yaml:"excess_reward_penalty"`

	// SelectionPolicy chooses which candidate node is expanded next.
	SelectionPolicy SelectionPolicy `json:"selection_policy" yaml:"selection_policy"`

	// NumRewardSamples is the number of independent reward draws per node.
	NumRewardSamples int `json:"num_reward_samples" yaml:"num_reward_samples"`

	// MaxParseAttempts bounds the Responder calls for a single reward draw.
	MaxParseAttempts int `json:"max_parse_attempts" yaml:"max_parse_attempts"`

	// RootAnswer is the placeholder answer held by the root.
	RootAnswer string `json:"root_answer" yaml:"root_answer"`

	// Seed seeds the selection RNG. Zero means seed from the clock.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		MaxRollouts:         DefaultMaxRollouts,
		ExplorationConstant: DefaultExplorationConstant,
		MaxChildren:         DefaultMaxChildren,
		Epsilon:             DefaultEpsilon,
		RewardLimit:         DefaultRewardLimit,
		ExcessRewardPenalty: DefaultExcessRewardPenalty,
		SelectionPolicy:     PolicyImportanceSampling,
		NumRewardSamples:    DefaultNumRewardSamples,
		MaxParseAttempts:    DefaultMaxParseAttempts,
		RootAnswer:          DefaultRootAnswer,
	}
}

// Validate checks the configuration for consistency.
//
// Outputs:
//   - error: Wraps ErrConfiguration naming the first invalid field, nil if valid.
func (c Config) Validate() error {
	if c.MaxRollouts <= 0 {
		return configErrorf("max_rollouts must be positive, got %d", c.MaxRollouts)
	}
	if c.ExplorationConstant < 0 || math.IsNaN(c.ExplorationConstant) || math.IsInf(c.ExplorationConstant, 0) {
		return configErrorf("exploration_constant must be finite and non-negative, got %v", c.ExplorationConstant)
	}
	if c.MaxChildren <= 0 {
		return configErrorf("max_children must be positive, got %d", c.MaxChildren)
	}
	if !(c.Epsilon > 0) || math.IsInf(c.Epsilon, 0) {
		return configErrorf("epsilon must be positive, got %v", c.Epsilon)
	}
	if c.ExcessRewardPenalty < 0 {
		return configErrorf("excess_reward_penalty must be non-negative, got %d", c.ExcessRewardPenalty)
	}
	if !c.SelectionPolicy.IsValid() {
		return configErrorf("unknown selection policy %d", int(c.SelectionPolicy))
	}
	if c.NumRewardSamples <= 0 {
		return configErrorf("num_reward_samples must be positive, got %d", c.NumRewardSamples)
	}
	if c.MaxParseAttempts <= 0 {
		return configErrorf("max_parse_attempts must be positive, got %d", c.MaxParseAttempts)
	}
	return nil
}

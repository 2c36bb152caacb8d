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
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

// Evaluation is the aggregated result of scoring one answer.
type Evaluation struct {
	// Rewards are the clamped reward samples in draw order.
	Rewards []int

	// Q is (min + mean) / 2 over Rewards.
	Q float64
}

// Evaluator scores answers by sampling integer rewards from the Responder.
//
// Thread Safety: Safe for concurrent use when the Responder is.
type Evaluator struct {
	responder   responder.Responder
	problem     string
	prompts     Prompts
	samples     int
	maxAttempts int
	limit       int
	penalty     int
	logger      *slog.Logger
	observer    *Observer
}

// NewEvaluator creates an evaluator for problem using cfg's reward settings.
func NewEvaluator(r responder.Responder, problem string, cfg Config, prompts Prompts, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		responder:   r,
		problem:     problem,
		prompts:     prompts.withDefaults(),
		samples:     cfg.NumRewardSamples,
		maxAttempts: cfg.MaxParseAttempts,
		limit:       cfg.RewardLimit,
		penalty:     cfg.ExcessRewardPenalty,
		logger:      logger,
	}
}

// Evaluate scores node's answer and sets its Q. It must run at most once per node.
//
// Outputs:
//   - Evaluation: The rewards and resulting Q.
//   - error: Wraps ErrResponder or ErrScoreParse; ErrAlreadyEvaluated if
//     node was evaluated before.
func (e *Evaluator) Evaluate(ctx context.Context, node *Node) (Evaluation, error) {
	if node.state != NodeUnevaluated {
		return Evaluation{}, fmt.Errorf("node %s: %w", node.ID, ErrAlreadyEvaluated)
	}
	eval, err := e.Score(ctx, node.Answer)
	if err != nil {
		return Evaluation{}, err
	}
	if err := node.applyEvaluation(eval); err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}

// Score draws the configured number of rewards for answer and aggregates them.
func (e *Evaluator) Score(ctx context.Context, answer string) (Evaluation, error) {
	rewards := make([]int, 0, e.samples)
	for i := 0; i < e.samples; i++ {
		reward, err := e.Sample(ctx, answer)
		if err != nil {
			return Evaluation{}, fmt.Errorf("evaluate sample %d: %w", i, err)
		}
		rewards = append(rewards, reward)
	}
	return Evaluation{Rewards: rewards, Q: aggregateRewards(rewards)}, nil
}

// Sample draws one clamped reward.
//
// The evaluation conversation is sent; if the reply does not parse as an
// integer the invalid reply and a correction are appended and the request
// is retried, up to the configured number of attempts. A Responder error is
// not retried.
func (e *Evaluator) Sample(ctx context.Context, answer string) (int, error) {
	conversation := []responder.Message{
		responder.System(e.prompts.Evaluate),
		responder.User(joinSections(
			tagged("problem", e.problem),
			tagged("answer", answer),
		)),
	}

	var (
		lastReply string
		lastErr   error
	)
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		reply, err := e.responder.Respond(ctx, conversation)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrResponder, err)
		}

		reward, err := parseReward(reply)
		if err == nil {
			return clampReward(reward, e.limit, e.penalty), nil
		}

		lastReply, lastErr = reply, err
		if e.observer != nil {
			e.observer.ParseFailure(ctx)
		}
		e.logger.Warn("Failed to parse reward",
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
			"reply", truncate(reply, 40))
		conversation = append(conversation,
			responder.Assistant(reply),
			responder.User(e.prompts.ParseCorrection),
		)
	}

	return 0, &ScoreParseError{
		Attempts:     e.maxAttempts,
		LastResponse: lastReply,
		Err:          lastErr,
	}
}

// parseReward accepts a base-10 integer with optional sign and surrounding
// whitespace.
func parseReward(reply string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(reply))
}

// clampReward subtracts penalty from any reward above limit.
func clampReward(reward, limit, penalty int) int {
	if reward > limit {
		return reward - penalty
	}
	return reward
}

// aggregateRewards returns (min + mean) / 2. rewards must not be empty.
func aggregateRewards(rewards []int) float64 {
	lowest := rewards[0]
	var sum float64
	for _, r := range rewards {
		if r < lowest {
			lowest = r
		}
		sum += float64(r)
	}
	mean := sum / float64(len(rewards))
	return (float64(lowest) + mean) / 2
}

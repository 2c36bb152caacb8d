// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements Monte Carlo Tree Self-Refine: a tree search over
// candidate answers to one problem, driven by an external Responder.
//
// # Rollouts
//
// Each rollout:
//
//  1. Select: every node that is not fully expanded is a candidate; the
//     Selector picks one by UCT under the configured policy.
//  2. Refine: the Responder critiques the node's answer, then rewrites it
//     using the critique. The rewrite becomes a new child.
//  3. Evaluate: the Responder scores the child NumRewardSamples times;
//     Q = (min + mean) / 2.
//  4. Backpropagate: every ancestor's Q moves halfway toward its best
//     child's Q and its visit count goes up by one.
//
// The root holds a placeholder answer and is never scored. After
// MaxRollouts rollouts the answer of the node with the greatest Q wins.
//
// # Concurrency
//
// Search runs rollouts one at a time. ParallelSearch runs them on a worker
// pool; Responder calls happen outside the tree lock and every tree
// mutation happens under it.
//
// # Usage
//
//	s, err := search.New(problem, search.DefaultConfig(), r,
//	    search.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	answer, err := s.Run(ctx)
package search

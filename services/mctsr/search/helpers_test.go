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
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

// testConfig returns a small deterministic configuration.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRollouts = 1
	cfg.Seed = 42
	return cfg
}

// stageResponder answers by recognizing the system prompt of each request.
// Rewards are returned in order from rewards, repeating the last one.
type stageResponder struct {
	calls   atomic.Int64
	rewards []int
	next    atomic.Int64
	failAt  int64
}

func (r *stageResponder) Respond(_ context.Context, conversation []responder.Message) (string, error) {
	call := r.calls.Add(1)
	if r.failAt > 0 && call >= r.failAt {
		return "", errBoom
	}
	switch conversation[0].Content {
	case DefaultCritiquePrompt:
		return "critique " + strconv.FormatInt(call, 10), nil
	case DefaultRefinePrompt:
		return "answer " + strconv.FormatInt(call, 10), nil
	case DefaultEvaluatePrompt:
		i := int(r.next.Add(1) - 1)
		if i >= len(r.rewards) {
			i = len(r.rewards) - 1
		}
		return strconv.Itoa(r.rewards[i]), nil
	}
	return "", errBoom
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom error = boomError{}

// chain builds root -> a -> b with a sibling s of a and returns the nodes.
func chain(tree *Tree) (a, b, s *Node) {
	root := tree.Root()
	a = NewChild(root, "a", "")
	tree.Attach(root, a)
	s = NewChild(root, "s", "")
	tree.Attach(root, s)
	b = NewChild(a, "b", "")
	tree.Attach(a, b)
	return a, b, s
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

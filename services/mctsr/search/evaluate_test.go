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
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

func newTestEvaluator(r responder.Responder) *Evaluator {
	return NewEvaluator(r, "What is 6*7?", DefaultConfig(), DefaultPrompts(), nil)
}

func TestEvaluator_ClampsExcessReward(t *testing.T) {
	r := responder.NewScripted("100", "100", "100")
	eval, err := newTestEvaluator(r).Score(context.Background(), "42")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	for i, reward := range eval.Rewards {
		if reward != 95 {
			t.Errorf("reward %d = %d, want 95", i, reward)
		}
	}
	if eval.Q != 95 {
		t.Errorf("Q = %v, want 95", eval.Q)
	}
}

func TestEvaluator_HugeRewardsDoNotOverflow(t *testing.T) {
	r := responder.NewScripted("9223372036854775807", "9223372036854775807", "9223372036854775807")
	eval, err := newTestEvaluator(r).Score(context.Background(), "42")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if want := float64(math.MaxInt64 - 5); eval.Q != want {
		t.Errorf("Q = %v, want %v", eval.Q, want)
	}
}

func TestClampReward(t *testing.T) {
	tests := []struct {
		reward, want int
	}{
		{95, 95},
		{96, 91},
		{100, 95},
		{-100, -100},
		{0, 0},
	}
	for _, tt := range tests {
		if got := clampReward(tt.reward, 95, 5); got != tt.want {
			t.Errorf("clampReward(%d) = %d, want %d", tt.reward, got, tt.want)
		}
	}
}

func TestAggregateRewards(t *testing.T) {
	tests := []struct {
		rewards []int
		want    float64
	}{
		{[]int{80, 80, 80}, 80},
		{[]int{10, 20, 90}, 25},
		{[]int{-50}, -50},
		{[]int{0, 1}, 0.25},
		{[]int{math.MaxInt64 - 5, math.MaxInt64 - 5, math.MaxInt64 - 5}, float64(math.MaxInt64 - 5)},
	}
	for _, tt := range tests {
		if got := aggregateRewards(tt.rewards); got != tt.want {
			t.Errorf("aggregateRewards(%v) = %v, want %v", tt.rewards, got, tt.want)
		}
	}
}

func TestEvaluator_RetriesUnparseableReply(t *testing.T) {
	r := responder.NewScripted("great answer!", " -7 \n")
	e := NewEvaluator(r, "p", DefaultConfig(), DefaultPrompts(), nil)

	reward, err := e.Sample(context.Background(), "42")
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if reward != -7 {
		t.Errorf("reward = %d, want -7", reward)
	}

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	first, second := calls[0], calls[1]
	if len(first) != 2 {
		t.Errorf("first conversation has %d messages, want 2", len(first))
	}
	if first[0].Role != responder.RoleSystem || first[0].Content != DefaultEvaluatePrompt {
		t.Errorf("first message = %+v, want evaluation system prompt", first[0])
	}
	wantUser := "<problem>\np\n</problem>\n\n<answer>\n42\n</answer>"
	if first[1].Content != wantUser {
		t.Errorf("user content = %q, want %q", first[1].Content, wantUser)
	}
	if len(second) != 4 {
		t.Fatalf("retry conversation has %d messages, want 4", len(second))
	}
	if second[2].Role != responder.RoleAssistant || second[2].Content != "great answer!" {
		t.Errorf("retry message 3 = %+v, want the invalid assistant reply", second[2])
	}
	if second[3].Role != responder.RoleUser || second[3].Content != DefaultParseCorrection {
		t.Errorf("retry message 4 = %+v, want the parse correction", second[3])
	}
}

func TestEvaluator_GivesUpAfterThreeAttempts(t *testing.T) {
	r := responder.NewScripted("x", "y", "z", "50")
	_, err := newTestEvaluator(r).Sample(context.Background(), "42")

	if !errors.Is(err, ErrScoreParse) {
		t.Fatalf("err = %v, want ErrScoreParse", err)
	}
	var parseErr *ScoreParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("err = %T, want *ScoreParseError", err)
	}
	if parseErr.Attempts != 3 || parseErr.LastResponse != "z" {
		t.Errorf("parse error = %+v", parseErr)
	}
	if r.Remaining() != 1 {
		t.Errorf("remaining replies = %d, want 1 (no fourth attempt)", r.Remaining())
	}
}

func TestEvaluator_ResponderErrorIsNotRetried(t *testing.T) {
	r := responder.NewScripted().Push(responder.Reply{Err: errBoom})
	_, err := newTestEvaluator(r).Sample(context.Background(), "42")

	if !errors.Is(err, ErrResponder) || !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want ErrResponder wrapping boom", err)
	}
	if len(r.Calls()) != 1 {
		t.Errorf("calls = %d, want 1", len(r.Calls()))
	}
}

func TestEvaluator_EvaluateSetsNode(t *testing.T) {
	tree := NewTree("p", "root")
	child := NewChild(tree.Root(), "42", "ok")
	tree.Attach(tree.Root(), child)

	r := responder.NewScripted("70", "90", "80")
	eval, err := newTestEvaluator(r).Evaluate(context.Background(), child)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.Q != 75 || child.Q() != 75 {
		t.Errorf("Q = %v / %v, want 75", eval.Q, child.Q())
	}
	if child.State() != NodeEvaluated {
		t.Errorf("state = %s, want evaluated", child.State())
	}

	_, err = newTestEvaluator(responder.NewScripted("1", "1", "1")).Evaluate(context.Background(), child)
	if !errors.Is(err, ErrAlreadyEvaluated) {
		t.Errorf("second Evaluate err = %v, want ErrAlreadyEvaluated", err)
	}
}

func TestRefiner_Refine(t *testing.T) {
	tree := NewTree("What is 6*7?", DefaultRootAnswer)
	r := responder.NewScripted("ok", "42")
	refiner := NewRefiner(r, tree.Problem, DefaultPrompts(), nil)

	child, err := refiner.Refine(context.Background(), tree.Root())
	if err != nil {
		t.Fatalf("Refine: %v", err)
	}
	if child.Answer != "42" || child.Critique != "ok" {
		t.Errorf("child = %q / %q, want 42 / ok", child.Answer, child.Critique)
	}
	if child.Parent() != tree.Root() {
		t.Error("child parent should be the refined node")
	}
	if tree.Root().ChildCount() != 0 {
		t.Error("Refine must not attach the child")
	}

	calls := r.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	wantCritique := "<problem>\nWhat is 6*7?\n</problem>\n\n<current_answer>\nI don't know.\n</current_answer>"
	if calls[0][0].Content != DefaultCritiquePrompt || calls[0][1].Content != wantCritique {
		t.Errorf("critique conversation = %+v", calls[0])
	}
	wantRefine := wantCritique + "\n\n<critique>\nok\n</critique>"
	if calls[1][0].Content != DefaultRefinePrompt || calls[1][1].Content != wantRefine {
		t.Errorf("refine conversation = %+v", calls[1])
	}
}

func TestRefiner_EmptyReplyIsFatal(t *testing.T) {
	r := responder.NewScripted("  ")
	refiner := NewRefiner(r, "p", DefaultPrompts(), nil)

	_, err := refiner.Improve(context.Background(), "a")
	if !errors.Is(err, ErrResponder) || !errors.Is(err, responder.ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrResponder wrapping ErrEmptyResponse", err)
	}
	if len(r.Calls()) != 1 {
		t.Errorf("calls = %d, want 1 (refine must not run after a failed critique)", len(r.Calls()))
	}
}

func TestRefiner_CustomPrompts(t *testing.T) {
	r := responder.NewScripted("c", "a")
	refiner := NewRefiner(r, "p", Prompts{Critique: "be harsh"}, nil)

	if _, err := refiner.Improve(context.Background(), "x"); err != nil {
		t.Fatalf("Improve: %v", err)
	}
	calls := r.Calls()
	if calls[0][0].Content != "be harsh" {
		t.Errorf("critique prompt = %q, want override", calls[0][0].Content)
	}
	if calls[1][0].Content != DefaultRefinePrompt {
		t.Error("empty prompt fields should keep their defaults")
	}
}

func TestBackpropagate(t *testing.T) {
	tree := NewTree("p", "root")
	a, b, s := chain(tree)
	root := tree.Root()
	root.q = 10
	a.q = 20
	s.q = 5
	b.q = 60
	b.visits = 0

	updated := Backpropagate(b)
	if updated != 2 {
		t.Errorf("updated = %d, want 2", updated)
	}

	// a: (20 + 60) / 2 = 40. root: (10 + max(40, 5)) / 2 = 25.
	if a.Q() != 40 || a.Visits() != 1 {
		t.Errorf("a Q=%v visits=%d, want 40 and 1", a.Q(), a.Visits())
	}
	if root.Q() != 25 || root.Visits() != 1 {
		t.Errorf("root Q=%v visits=%d, want 25 and 1", root.Q(), root.Visits())
	}
	if b.Q() != 60 || b.Visits() != 0 {
		t.Error("the evaluated child itself must not change")
	}
	if s.Q() != 5 || s.Visits() != 0 {
		t.Error("nodes off the path must not change")
	}
	if a.State() != NodeBackpropagated || root.State() != NodeBackpropagated {
		t.Error("ancestors should be marked backpropagated")
	}
}

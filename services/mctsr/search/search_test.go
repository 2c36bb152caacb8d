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
	"testing"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

func TestSearch_SingleRollout(t *testing.T) {
	cfg := testConfig()
	cfg.NumRewardSamples = 3
	r := responder.NewScripted("ok", "42", "80", "80", "80")

	s, err := New("What is 6*7?", cfg, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	answer, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if answer != "42" {
		t.Errorf("answer = %q, want 42", answer)
	}
	root := s.Tree().Root()
	if root.ChildCount() != 1 {
		t.Fatalf("root children = %d, want 1", root.ChildCount())
	}
	child := root.Children()[0]
	if child.Q() != 80 {
		t.Errorf("child Q = %v, want 80", child.Q())
	}
	if root.Q() != 40 {
		t.Errorf("root Q = %v, want 40", root.Q())
	}
	if root.Visits() != 1 {
		t.Errorf("root visits = %d, want 1", root.Visits())
	}
	if child.Visits() != 0 {
		t.Errorf("child visits = %d, want 0", child.Visits())
	}
	if r.Remaining() != 0 {
		t.Errorf("unused replies = %d", r.Remaining())
	}
}

func TestSearch_TwoSiblingRollouts(t *testing.T) {
	ctx := context.Background()
	tree := NewTree("p", DefaultRootAnswer)
	root := tree.Root()
	r := responder.NewScripted(
		"c1", "first", "30", "30", "30",
		"c2", "second", "70", "70", "70",
	)
	refiner := NewRefiner(r, tree.Problem, DefaultPrompts(), nil)
	evaluator := newTestEvaluator(r)

	for _, wantRootQ := range []float64{15, 42.5} {
		child, err := refiner.Refine(ctx, root)
		if err != nil {
			t.Fatalf("Refine: %v", err)
		}
		tree.Attach(root, child)
		if _, err := evaluator.Evaluate(ctx, child); err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		Backpropagate(child)
		if root.Q() != wantRootQ {
			t.Errorf("root Q = %v, want %v", root.Q(), wantRootQ)
		}
	}

	if root.Visits() != 2 {
		t.Errorf("root visits = %d, want 2", root.Visits())
	}
	if best := tree.Best(); best.Answer != "second" {
		t.Errorf("best = %q, want second", best.Answer)
	}
}

func TestSearch_TwoRollouts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRollouts = 2
	cfg.SelectionPolicy = PolicyGreedy
	r := &stageResponder{rewards: []int{30, 30, 30, 70, 70, 70}}

	s, err := New("p", cfg, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	answer, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// After rollout 1 the root (Q=15) has a better child (Q=30), so the
	// only candidate is that child and rollout 2 refines it.
	root := s.Tree().Root()
	first := root.Children()[0]
	if first.ChildCount() != 1 {
		t.Fatalf("first child has %d children, want 1", first.ChildCount())
	}
	second := first.Children()[0]
	if second.Q() != 70 {
		t.Errorf("second Q = %v, want 70", second.Q())
	}
	if first.Q() != 50 {
		t.Errorf("first Q = %v, want (30+70)/2 = 50", first.Q())
	}
	if root.Q() != 32.5 {
		t.Errorf("root Q = %v, want (15+50)/2 = 32.5", root.Q())
	}
	if root.Visits() != 2 || first.Visits() != 1 {
		t.Errorf("visits root=%d first=%d, want 2 and 1", root.Visits(), first.Visits())
	}
	if answer != second.Answer {
		t.Errorf("answer = %q, want %q", answer, second.Answer)
	}

	log := s.Log()
	if got := log.SelectedIDs(); len(got) != 2 || got[0] != "0" || got[1] != "0.1" {
		t.Errorf("SelectedIDs = %v, want [0 0.1]", got)
	}
}

func TestSearch_TreeGrowsByOnePerRollout(t *testing.T) {
	for _, policy := range []SelectionPolicy{PolicyGreedy, PolicyImportanceSampling, PolicyPairwiseImportanceSampling} {
		t.Run(policy.String(), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRollouts = 12
			cfg.SelectionPolicy = policy
			r := &stageResponder{rewards: []int{10, 90, -20, 55, 40, 100, 5, 70, 30}}

			var progress []int
			s, err := New("p", cfg, r, WithProgress(func(done, total int) {
				if total != 12 {
					t.Errorf("total = %d, want 12", total)
				}
				progress = append(progress, done)
			}))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if _, err := s.Run(context.Background()); err != nil {
				t.Fatalf("Run: %v", err)
			}

			if s.Tree().Size() != 13 {
				t.Errorf("Size = %d, want 13", s.Tree().Size())
			}
			if s.Tree().Root().Visits() != 12 {
				t.Errorf("root visits = %d, want 12", s.Tree().Root().Visits())
			}
			if len(progress) != 12 || progress[11] != 12 {
				t.Errorf("progress = %v", progress)
			}
			if len(s.Log()) != 12 {
				t.Errorf("log entries = %d, want 12", len(s.Log()))
			}
			s.Tree().Walk(func(n *Node) bool {
				if n.ChildCount() > cfg.MaxChildren {
					t.Errorf("node %s has %d children, max %d", n.ID, n.ChildCount(), cfg.MaxChildren)
				}
				return true
			})
		})
	}
}

func TestSearch_FailureAbortsRun(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRollouts = 5
	cfg.NumRewardSamples = 1
	// Each rollout makes 3 calls; fail on the first call of rollout 3.
	r := &stageResponder{rewards: []int{60}, failAt: 7}

	s, err := New("p", cfg, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	answer, err := s.Run(context.Background())
	if !errors.Is(err, ErrResponder) {
		t.Fatalf("err = %v, want ErrResponder", err)
	}
	if answer != "" {
		t.Errorf("answer = %q, want empty on failure", answer)
	}
	if s.Completed() != 2 {
		t.Errorf("Completed = %d, want 2", s.Completed())
	}
	if s.Tree().Size() != 3 {
		t.Errorf("Size = %d, want 3", s.Tree().Size())
	}
	if best := s.Best(); best.Q() != 60 {
		t.Errorf("Best Q = %v, want 60 from the completed rollouts", best.Q())
	}
}

func TestSearch_EvaluationFailureDiscardsChild(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRollouts = 2
	cfg.NumRewardSamples = 1
	r := responder.NewScripted("c1", "first", "-50", "c2", "unrated")
	r.Push(responder.Reply{Err: errBoom})

	s, err := New("p", cfg, r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrResponder) {
		t.Fatalf("err = %v, want ErrResponder", err)
	}

	if s.Completed() != 1 {
		t.Errorf("Completed = %d, want 1", s.Completed())
	}
	if s.Tree().Size() != 2 {
		t.Errorf("Size = %d, want 2", s.Tree().Size())
	}
	for _, child := range s.Tree().Root().Children() {
		if child.State() == NodeUnevaluated {
			t.Errorf("unevaluated child %s left in tree", child.ID)
		}
	}
	best := s.Best()
	if best.Answer == "unrated" {
		t.Errorf("Best = %q, want an evaluated answer", best.Answer)
	}
	if !best.IsRoot() || best.Q() != -25 {
		t.Errorf("Best = %v, want the root with Q -25", best)
	}
}

func TestSearch_ParseFailureAbortsRun(t *testing.T) {
	r := responder.NewScripted("ok", "42", "no", "nope", "never")
	s, err := New("p", testConfig(), r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrScoreParse) {
		t.Errorf("err = %v, want ErrScoreParse", err)
	}
}

func TestSearch_CancelledBetweenRollouts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig()
	cfg.MaxRollouts = 5
	r := &stageResponder{rewards: []int{50}}
	s, err := New("p", cfg, r, WithProgress(func(done, _ int) {
		if done == 2 {
			cancel()
		}
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if s.Completed() != 2 || s.Tree().Size() != 3 {
		t.Errorf("Completed=%d Size=%d, want 2 and 3", s.Completed(), s.Tree().Size())
	}
}

func TestSearch_RolloutIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := responder.Func(func(ctx context.Context, conv []responder.Message) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if conv[0].Content == DefaultEvaluatePrompt {
			return "10", nil
		}
		return "text", nil
	})
	s, err := New("p", testConfig(), r)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Rollout(ctx); err != nil {
		t.Errorf("Rollout with cancelled context: %v", err)
	}
}

func TestSearch_RunOnlyOnce(t *testing.T) {
	s, err := New("p", testConfig(), &stageResponder{rewards: []int{1}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyRun) {
		t.Errorf("second Run err = %v, want ErrAlreadyRun", err)
	}
}

func TestNew_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rollouts", func(c *Config) { c.MaxRollouts = 0 }},
		{"negative exploration", func(c *Config) { c.ExplorationConstant = -1 }},
		{"zero children", func(c *Config) { c.MaxChildren = 0 }},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }},
		{"unknown policy", func(c *Config) { c.SelectionPolicy = SelectionPolicy(42) }},
		{"zero samples", func(c *Config) { c.NumRewardSamples = 0 }},
		{"zero parse attempts", func(c *Config) { c.MaxParseAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			r := responder.NewScripted()
			if _, err := New("p", cfg, r); !errors.Is(err, ErrConfiguration) {
				t.Errorf("err = %v, want ErrConfiguration", err)
			}
			if len(r.Calls()) != 0 {
				t.Error("no Responder call may happen before validation")
			}
		})
	}

	if _, err := New("p", testConfig(), nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("nil responder err = %v, want ErrConfiguration", err)
	}
}

func TestSearch_SeedIsReproducible(t *testing.T) {
	run := func() []string {
		cfg := testConfig()
		cfg.MaxRollouts = 10
		cfg.MaxChildren = 3
		cfg.Seed = 1234
		r := &stageResponder{rewards: []int{20, 40, 60, 10, 30, 50}}
		s, err := New("p", cfg, r)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		return s.Log().SelectedIDs()
	}

	first, second := run(), run()
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("rollout %d selected %s then %s with the same seed", i, first[i], second[i])
		}
	}
}

func TestSearch_RunLog(t *testing.T) {
	r := responder.NewScripted("ok", "42", "80", "70", "90")
	s, err := New("p", testConfig(), r, WithID("run-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ID() != "run-1" {
		t.Errorf("ID = %s, want run-1", s.ID())
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	log := s.Log()
	if len(log) != 1 {
		t.Fatalf("log entries = %d, want 1", len(log))
	}
	if log.Critiques()[0] != "ok" || log.Refinements()[0] != "42" {
		t.Errorf("log = %+v", log[0])
	}
	if got := log.Rewards()[0]; len(got) != 3 || got[0] != 80 || got[1] != 70 || got[2] != 90 {
		t.Errorf("rewards = %v, want [80 70 90]", got)
	}
	if log[0].ChildID != "0.1" || log[0].Q != 75 {
		t.Errorf("record = %+v", log[0])
	}
}

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
	"strings"
	"testing"
)

func TestParallelSearch_Run(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRollouts = 24
	cfg.MaxChildren = 3
	r := &stageResponder{rewards: []int{10, 80, 35, 60, 95, -10, 45}}

	p, err := NewParallel("p", cfg, r, 6)
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	answer, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tree := p.Tree()
	if tree.Size() != 25 {
		t.Errorf("Size = %d, want 25", tree.Size())
	}
	if tree.Root().Visits() != 24 {
		t.Errorf("root visits = %d, want 24", tree.Root().Visits())
	}
	if p.Completed() != 24 || len(p.Log()) != 24 {
		t.Errorf("Completed=%d log=%d, want 24", p.Completed(), len(p.Log()))
	}
	if answer != tree.Best().Answer {
		t.Errorf("answer = %q, want best %q", answer, tree.Best().Answer)
	}

	seen := make(map[string]bool)
	tree.Walk(func(n *Node) bool {
		if n.ChildCount() > cfg.MaxChildren {
			t.Errorf("node %s has %d children, max %d", n.ID, n.ChildCount(), cfg.MaxChildren)
		}
		if n.pending != 0 {
			t.Errorf("node %s still holds %d reservations", n.ID, n.pending)
		}
		if seen[n.ID] {
			t.Errorf("duplicate node ID %s", n.ID)
		}
		seen[n.ID] = true
		if !n.IsRoot() && n.State() == NodeUnevaluated {
			t.Errorf("node %s attached without evaluation", n.ID)
		}
		return true
	})
}

func TestParallelSearch_FailureReleasesReservation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRollouts = 8
	r := &stageResponder{rewards: []int{50}, failAt: 1}

	p, err := NewParallel("p", cfg, r, 3)
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	_, err = p.Run(context.Background())
	if !errors.Is(err, ErrResponder) {
		t.Fatalf("err = %v, want ErrResponder", err)
	}
	if !strings.Contains(err.Error(), "rollout") {
		t.Errorf("err = %v, want rollout context", err)
	}
	if p.Tree().Root().pending != 0 {
		t.Errorf("root pending = %d, want 0", p.Tree().Root().pending)
	}
	if p.Tree().Size() != 1 {
		t.Errorf("Size = %d, want 1", p.Tree().Size())
	}
}

func TestParallelSearch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := NewParallel("p", testConfig(), &stageResponder{rewards: []int{1}}, 2)
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestNewParallel_WorkerBounds(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRollouts = 3

	p, err := NewParallel("p", cfg, &stageResponder{rewards: []int{1}}, 0)
	if err != nil {
		t.Fatalf("NewParallel: %v", err)
	}
	if p.Workers() != 3 {
		t.Errorf("Workers = %d, want 3 (capped by rollouts)", p.Workers())
	}
}

func TestTree_ToDot(t *testing.T) {
	tree := NewTree("p", "I don't know.")
	a, b, _ := chain(tree)
	b.q = 80
	a.Answer = "has \"quotes\"\nand newlines"

	dot, err := tree.ToDot()
	if err != nil {
		t.Fatalf("ToDot: %v", err)
	}
	for _, want := range []string{"digraph", "n0", "n0_1", "n0_1_1", "n0_2", "n0->n0_1", "n0_1->n0_1_1", "palegreen"} {
		if !strings.Contains(dot, want) {
			t.Errorf("dot output missing %q:\n%s", want, dot)
		}
	}
}

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
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

// DefaultWorkers is the default number of parallel rollout workers.
const DefaultWorkers = 4

// ParallelSearch runs rollouts concurrently on one shared tree.
//
// Slot reservation:
// A worker selects a node and reserves one of its MaxChildren expansion
// slots in a single step under the tree lock, so concurrent workers never
// push a node past MaxChildren. Responder calls run without the lock. The
// finished child is attached, evaluated and backpropagated in one locked
// step, which keeps Q and visits consistent for every reader.
//
// Thread Safety: Run must be called once. The Responder must be safe for
// concurrent use.
type ParallelSearch struct {
	*Search
	workers int
}

// NewParallel creates a parallel search with the given number of workers.
// Non-positive workers use DefaultWorkers.
func NewParallel(problem string, cfg Config, r responder.Responder, workers int, opts ...Option) (*ParallelSearch, error) {
	s, err := New(problem, cfg, r, opts...)
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > cfg.MaxRollouts {
		workers = cfg.MaxRollouts
	}
	return &ParallelSearch{Search: s, workers: workers}, nil
}

// Workers returns the size of the worker pool.
func (p *ParallelSearch) Workers() int {
	return p.workers
}

// Run performs MaxRollouts rollouts across the worker pool and returns the
// best answer.
//
// Workers stop claiming rollouts once ctx is cancelled or any rollout
// fails; rollouts already in flight finish first.
func (p *ParallelSearch) Run(ctx context.Context) (answer string, err error) {
	if !p.started.CompareAndSwap(false, true) {
		return "", ErrAlreadyRun
	}

	ctx, span := p.observer.StartRun(ctx, p.id, p.problem, p.config)
	defer func() {
		p.observer.EndRun(ctx, span, p.tree, p.Completed(), err)
	}()

	var claimed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < p.workers; w++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				index := int(claimed.Add(1) - 1)
				if index >= p.config.MaxRollouts {
					return nil
				}
				if err := p.rolloutParallel(ctx, index); err != nil {
					return fmt.Errorf("rollout %d: %w", index, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if done := p.Completed(); done < p.config.MaxRollouts {
		cause := context.Cause(ctx)
		if cause == nil {
			cause = context.Canceled
		}
		return "", fmt.Errorf("search cancelled after %d rollouts: %w", done, cause)
	}

	p.logger.Info("Parallel search complete",
		slog.Int("workers", p.workers),
		slog.Int("rollouts", p.Completed()),
		slog.Int64("nodes", p.tree.Size()))
	return p.tree.Best().Answer, nil
}

func (p *ParallelSearch) rolloutParallel(ctx context.Context, index int) error {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	ctx, span := p.observer.StartRollout(ctx, index)
	record, child, err := p.reserveAndExpand(ctx, index)
	p.observer.EndRollout(ctx, span, child, time.Since(start), err)
	if err != nil {
		return err
	}
	p.finishRollout(record)
	return nil
}

func (p *ParallelSearch) reserveAndExpand(ctx context.Context, index int) (RolloutRecord, *Node, error) {
	record := RolloutRecord{Rollout: index}
	t := p.tree

	_, span := p.observer.StartPhase(ctx, "select", nil)
	t.mu.Lock()
	node, err := p.selector.selectLocked(t)
	if err == nil {
		node.pending++
	}
	t.mu.Unlock()
	p.observer.EndPhase(span, err)
	if err != nil {
		return record, nil, err
	}
	record.SelectedID = node.ID

	release := func() {
		t.mu.Lock()
		node.pending--
		t.mu.Unlock()
	}

	phaseCtx, span := p.observer.StartPhase(ctx, "refine", node)
	ref, err := p.refiner.Improve(phaseCtx, node.Answer)
	p.observer.EndPhase(span, err)
	if err != nil {
		release()
		return record, nil, fmt.Errorf("refine node %s: %w", node.ID, err)
	}
	record.Critique = ref.Critique
	record.Refinement = ref.Answer

	phaseCtx, span = p.observer.StartPhase(ctx, "evaluate", node)
	eval, err := p.evaluator.Score(phaseCtx, ref.Answer)
	p.observer.EndPhase(span, err)
	if err != nil {
		release()
		return record, nil, fmt.Errorf("evaluate refinement of node %s: %w", node.ID, err)
	}
	record.Rewards = eval.Rewards
	record.Q = eval.Q

	_, span = p.observer.StartPhase(ctx, "backpropagate", node)
	t.mu.Lock()
	node.pending--
	child := NewChild(node, ref.Answer, ref.Critique)
	t.attachLocked(node, child)
	err = child.applyEvaluation(eval)
	if err == nil {
		Backpropagate(child)
	}
	t.mu.Unlock()
	p.observer.EndPhase(span, err)
	if err != nil {
		return record, child, err
	}
	record.ChildID = child.ID
	return record, child, nil
}

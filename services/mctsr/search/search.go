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
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

// ErrAlreadyRun is returned when Run is called a second time on a Search.
var ErrAlreadyRun = errors.New("search already run")

// ProgressFunc is called after each completed rollout.
type ProgressFunc func(done, total int)

// Search drives Monte Carlo Tree Self-Refine over one problem.
//
// Each rollout selects a node, asks the Responder to critique and refine its
// answer, attaches the refinement as a new child, evaluates it and
// backpropagates its quality to the root. After MaxRollouts rollouts the
// answer with the highest Q is returned.
//
// Thread Safety: Run is sequential and must be called once. Accessors such
// as Tree, Best and Log may be used concurrently with Run.
type Search struct {
	id      string
	problem string
	config  Config

	tree      *Tree
	selector  *Selector
	refiner   *Refiner
	evaluator *Evaluator
	observer  *Observer

	logger   *slog.Logger
	prompts  Prompts
	rng      *rand.Rand
	progress ProgressFunc

	started   atomic.Bool
	completed atomic.Int64

	mu  sync.Mutex
	log RunLog
}

// Option configures a Search.
type Option func(*Search)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Search) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver sets the tracing and metrics observer.
func WithObserver(observer *Observer) Option {
	return func(s *Search) {
		s.observer = observer
	}
}

// WithRand sets the random source used by the sampling policies.
// It overrides Config.Seed.
func WithRand(rng *rand.Rand) Option {
	return func(s *Search) {
		s.rng = rng
	}
}

// WithPrompts overrides the Responder prompts. Empty fields keep their defaults.
func WithPrompts(prompts Prompts) Option {
	return func(s *Search) {
		s.prompts = prompts
	}
}

// WithProgress sets a callback invoked after every completed rollout.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Search) {
		s.progress = fn
	}
}

// WithID sets the run identifier. By default a random UUID is used.
func WithID(id string) Option {
	return func(s *Search) {
		if id != "" {
			s.id = id
		}
	}
}

// New creates a search for problem.
//
// Inputs:
//   - problem: The problem statement. Fixed for the run.
//   - cfg: Search configuration. Validated here.
//   - r: The Responder producing critiques, refinements and rewards.
//   - opts: Optional settings.
//
// Outputs:
//   - *Search: The search with a fresh tree holding only the root.
//   - error: Wraps ErrConfiguration if cfg is invalid or r is nil.
func New(problem string, cfg Config, r responder.Responder, opts ...Option) (*Search, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if r == nil {
		return nil, configErrorf("responder is required")
	}

	s := &Search{
		id:      uuid.NewString(),
		problem: problem,
		config:  cfg,
		logger:  slog.Default(),
		prompts: DefaultPrompts(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.rng == nil {
		s.rng = newRand(cfg.Seed)
	}
	if s.observer == nil {
		s.observer = NewObserver(s.logger, false)
	}
	s.logger = s.logger.With(slog.String("run_id", s.id))

	selector, err := NewSelector(cfg.SelectionPolicy, NewScorer(cfg), cfg.MaxChildren, s.rng)
	if err != nil {
		return nil, err
	}
	s.selector = selector
	s.tree = NewTree(problem, cfg.RootAnswer)
	s.refiner = NewRefiner(r, problem, s.prompts, s.logger)
	s.evaluator = NewEvaluator(r, problem, cfg, s.prompts, s.logger)
	s.evaluator.observer = s.observer
	return s, nil
}

func newRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// ID returns the run identifier.
func (s *Search) ID() string {
	return s.id
}

// Problem returns the problem statement.
func (s *Search) Problem() string {
	return s.problem
}

// Config returns the run configuration.
func (s *Search) Config() Config {
	return s.config
}

// Tree returns the search tree.
func (s *Search) Tree() *Tree {
	return s.tree
}

// Best returns the node with the strictly greatest Q, the root on ties.
//
// After a failed Run it still reports the best node among the rollouts that
// completed before the failure.
func (s *Search) Best() *Node {
	return s.tree.Best()
}

// Completed returns the number of rollouts that finished successfully.
func (s *Search) Completed() int {
	return int(s.completed.Load())
}

// Log returns a copy of the per-rollout history.
func (s *Search) Log() RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(RunLog, len(s.log))
	copy(out, s.log)
	return out
}

// Run performs MaxRollouts rollouts and returns the best answer.
//
// Cancellation of ctx is honored between rollouts only. A rollout in
// progress always finishes.
//
// Outputs:
//   - string: The answer of the node with the greatest Q.
//   - error: The first rollout failure, or the context error if cancelled.
//     Any failure aborts the run.
func (s *Search) Run(ctx context.Context) (answer string, err error) {
	if !s.started.CompareAndSwap(false, true) {
		return "", ErrAlreadyRun
	}

	ctx, span := s.observer.StartRun(ctx, s.id, s.problem, s.config)
	defer func() {
		s.observer.EndRun(ctx, span, s.tree, s.Completed(), err)
	}()

	for i := 0; i < s.config.MaxRollouts; i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("search cancelled after %d rollouts: %w", i, ctxErr)
		}
		if _, err := s.Rollout(ctx); err != nil {
			return "", fmt.Errorf("rollout %d: %w", i, err)
		}
	}
	return s.tree.Best().Answer, nil
}

// Rollout performs one select, refine, evaluate, attach and backpropagate
// cycle and returns the new child.
//
// The rollout runs to completion even if ctx is cancelled meanwhile.
func (s *Search) Rollout(ctx context.Context) (*Node, error) {
	ctx = context.WithoutCancel(ctx)
	index := s.Completed()

	start := time.Now()
	ctx, span := s.observer.StartRollout(ctx, index)
	record, child, err := s.rollout(ctx, index)
	s.observer.EndRollout(ctx, span, child, time.Since(start), err)
	if err != nil {
		return nil, err
	}

	s.finishRollout(record)
	return child, nil
}

func (s *Search) rollout(ctx context.Context, index int) (RolloutRecord, *Node, error) {
	record := RolloutRecord{Rollout: index}

	// Select
	_, span := s.observer.StartPhase(ctx, "select", nil)
	node, err := s.selector.Select(s.tree)
	s.observer.EndPhase(span, err)
	if err != nil {
		return record, nil, err
	}
	record.SelectedID = node.ID

	// Refine
	phaseCtx, span := s.observer.StartPhase(ctx, "refine", node)
	ref, err := s.refiner.Improve(phaseCtx, node.Answer)
	s.observer.EndPhase(span, err)
	if err != nil {
		return record, nil, fmt.Errorf("refine node %s: %w", node.ID, err)
	}
	record.Critique = ref.Critique
	record.Refinement = ref.Answer

	// Evaluate before attaching so a failed rollout leaves the tree unchanged.
	phaseCtx, span = s.observer.StartPhase(ctx, "evaluate", node)
	eval, err := s.evaluator.Score(phaseCtx, ref.Answer)
	s.observer.EndPhase(span, err)
	if err != nil {
		return record, nil, fmt.Errorf("evaluate refinement of node %s: %w", node.ID, err)
	}
	record.Rewards = eval.Rewards
	record.Q = eval.Q

	// Attach and backpropagate
	_, span = s.observer.StartPhase(ctx, "backpropagate", node)
	s.tree.mu.Lock()
	child := NewChild(node, ref.Answer, ref.Critique)
	s.tree.attachLocked(node, child)
	err = child.applyEvaluation(eval)
	if err == nil {
		Backpropagate(child)
	}
	s.tree.mu.Unlock()
	s.observer.EndPhase(span, err)
	if err != nil {
		return record, child, err
	}
	record.ChildID = child.ID

	return record, child, nil
}

func (s *Search) finishRollout(record RolloutRecord) {
	s.mu.Lock()
	s.log = append(s.log, record)
	s.mu.Unlock()

	done := int(s.completed.Add(1))
	s.logger.Debug("Rollout complete",
		slog.Int("rollout", record.Rollout),
		slog.String("selected", record.SelectedID),
		slog.String("child", record.ChildID),
		slog.Float64("q", record.Q))
	if s.progress != nil {
		s.progress(done, s.config.MaxRollouts)
	}
}

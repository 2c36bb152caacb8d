// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package solver runs one search end to end: it builds the search,
// records it in the run store as running, runs it and stores the outcome.
// The HTTP API and the CLI share it.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
	"github.com/AleutianAI/mctsr/services/mctsr/search"
	"github.com/AleutianAI/mctsr/services/mctsr/store"
)

// ErrEmptyProblem is returned for a blank problem statement.
var ErrEmptyProblem = errors.New("problem is required")

// Request describes one run.
type Request struct {
	Problem  string
	Config   search.Config
	Prompts  search.Prompts
	Workers  int
	Progress search.ProgressFunc
}

// Result is the outcome of a run. Run is set even when the search failed.
type Result struct {
	Answer string
	Run    *store.Run
	Search *search.Search
}

// Solver runs searches against one Responder.
//
// Thread Safety: Safe for concurrent use.
type Solver struct {
	responder responder.Responder
	store     *store.RunStore
	observer  *search.Observer
	logger    *slog.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithStore persists runs. Without it runs are not stored.
func WithStore(s *store.RunStore) Option {
	return func(sv *Solver) { sv.store = s }
}

// WithObserver sets the search observer shared by all runs.
func WithObserver(o *search.Observer) Option {
	return func(sv *Solver) { sv.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(sv *Solver) {
		if l != nil {
			sv.logger = l
		}
	}
}

// New creates a Solver.
func New(r responder.Responder, opts ...Option) *Solver {
	sv := &Solver{responder: r, logger: slog.Default()}
	for _, opt := range opts {
		opt(sv)
	}
	return sv
}

// runner is what Search and ParallelSearch have in common.
type runner interface {
	Run(ctx context.Context) (string, error)
}

// Solve runs req to completion.
//
// Outputs:
//   - *Result: Never nil once the search was created. Result.Run reflects
//     the final status.
//   - error: Wraps search.ErrConfiguration for bad input, otherwise the
//     search failure. A store failure is logged, not returned.
func (sv *Solver) Solve(ctx context.Context, req Request) (*Result, error) {
	if req.Problem == "" {
		return nil, fmt.Errorf("%w: %w", search.ErrConfiguration, ErrEmptyProblem)
	}

	opts := []search.Option{
		search.WithLogger(sv.logger),
		search.WithPrompts(req.Prompts),
	}
	if sv.observer != nil {
		opts = append(opts, search.WithObserver(sv.observer))
	}
	if req.Progress != nil {
		opts = append(opts, search.WithProgress(req.Progress))
	}

	var (
		s   *search.Search
		run runner
	)
	if req.Workers > 1 {
		p, err := search.NewParallel(req.Problem, req.Config, sv.responder, req.Workers, opts...)
		if err != nil {
			return nil, err
		}
		s, run = p.Search, p
	} else {
		seq, err := search.New(req.Problem, req.Config, sv.responder, opts...)
		if err != nil {
			return nil, err
		}
		s, run = seq, seq
	}

	started := time.Now()
	sv.save(ctx, store.NewRun(s, started, false, "", nil))

	answer, err := run.Run(ctx)
	result := &Result{
		Answer: answer,
		Run:    store.NewRun(s, started, true, answer, err),
		Search: s,
	}
	sv.save(ctx, result.Run)

	if err != nil {
		sv.logger.Warn("Search failed",
			slog.String("run_id", s.ID()),
			slog.Int("rollouts", s.Completed()),
			slog.String("error", err.Error()))
		return result, err
	}
	sv.logger.Info("Search complete",
		slog.String("run_id", s.ID()),
		slog.Int("rollouts", s.Completed()),
		slog.Float64("best_q", result.Run.BestQ),
		slog.Duration("elapsed", time.Since(started)))
	return result, nil
}

func (sv *Solver) save(ctx context.Context, run *store.Run) {
	if sv.store == nil {
		return
	}
	if err := sv.store.Save(context.WithoutCancel(ctx), run); err != nil {
		sv.logger.Error("Failed to store run", slog.String("run_id", run.ID), slog.String("error", err.Error()))
	}
}

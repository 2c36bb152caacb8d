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
	"strings"

	"github.com/AleutianAI/mctsr/services/mctsr/responder"
)

// Refiner produces an improved answer through a critique then refine exchange.
//
// Thread Safety: Safe for concurrent use when the Responder is.
type Refiner struct {
	responder responder.Responder
	problem   string
	prompts   Prompts
	logger    *slog.Logger
}

// NewRefiner creates a refiner for problem.
func NewRefiner(r responder.Responder, problem string, prompts Prompts, logger *slog.Logger) *Refiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Refiner{
		responder: r,
		problem:   problem,
		prompts:   prompts.withDefaults(),
		logger:    logger,
	}
}

// Refinement is the text produced by one critique and refine exchange.
type Refinement struct {
	Critique string
	Answer   string
}

// Refine critiques node's answer and returns an unattached child holding the
// refined answer. The child's parent is node.
//
// Outputs:
//   - *Node: The new unevaluated child.
//   - error: Wraps ErrResponder on any Responder failure or empty reply.
func (r *Refiner) Refine(ctx context.Context, node *Node) (*Node, error) {
	ref, err := r.Improve(ctx, node.Answer)
	if err != nil {
		return nil, err
	}
	return NewChild(node, ref.Answer, ref.Critique), nil
}

// Improve runs the two Responder exchanges for answer without touching the tree.
func (r *Refiner) Improve(ctx context.Context, answer string) (Refinement, error) {
	critique, err := r.ask(ctx, "critique", []responder.Message{
		responder.System(r.prompts.Critique),
		responder.User(joinSections(
			tagged("problem", r.problem),
			tagged("current_answer", answer),
		)),
	})
	if err != nil {
		return Refinement{}, err
	}

	refined, err := r.ask(ctx, "refine", []responder.Message{
		responder.System(r.prompts.Refine),
		responder.User(joinSections(
			tagged("problem", r.problem),
			tagged("current_answer", answer),
			tagged("critique", critique),
		)),
	})
	if err != nil {
		return Refinement{}, err
	}

	r.logger.Debug("Refined answer",
		"critique", truncate(critique, 60),
		"answer", truncate(refined, 60))
	return Refinement{Critique: critique, Answer: refined}, nil
}

func (r *Refiner) ask(ctx context.Context, stage string, conversation []responder.Message) (string, error) {
	reply, err := r.responder.Respond(ctx, conversation)
	if err != nil {
		return "", fmt.Errorf("%s: %w: %w", stage, ErrResponder, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", fmt.Errorf("%s: %w: %w", stage, ErrResponder, responder.ErrEmptyResponse)
	}
	return reply, nil
}

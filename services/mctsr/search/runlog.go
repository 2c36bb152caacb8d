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

// RolloutRecord captures what one rollout did.
type RolloutRecord struct {
	// Rollout is the zero-based rollout index.
	Rollout int `json:"rollout"`

	// SelectedID is the node that was refined.
	SelectedID string `json:"selected_id"`

	// ChildID is the node the rollout added.
	ChildID string `json:"child_id"`

	// Critique is the Responder's critique of the selected answer.
	Critique string `json:"critique"`

	// Refinement is the refined answer.
	Refinement string `json:"refinement"`

	// Rewards are the clamped reward samples of the refined answer.
	Rewards []int `json:"rewards"`

	// Q is the refined answer's Q right after evaluation.
	Q float64 `json:"q"`
}

// RunLog is the per-run history of rollouts in completion order.
type RunLog []RolloutRecord

// Critiques returns every critique in order.
func (l RunLog) Critiques() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.Critique
	}
	return out
}

// Refinements returns every refined answer in order.
func (l RunLog) Refinements() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.Refinement
	}
	return out
}

// Rewards returns the reward samples of every rollout in order.
func (l RunLog) Rewards() [][]int {
	out := make([][]int, len(l))
	for i, r := range l {
		out[i] = append([]int(nil), r.Rewards...)
	}
	return out
}

// SelectedIDs returns the ID of the node selected by every rollout in order.
func (l RunLog) SelectedIDs() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.SelectedID
	}
	return out
}

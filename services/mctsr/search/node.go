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
	"fmt"
	"math"
	"time"
)

// NodeState represents the lifecycle state of an answer node.
type NodeState string

const (
	// NodeUnevaluated is a freshly refined node: Q=0, visits=0.
	NodeUnevaluated NodeState = "unevaluated"

	// NodeEvaluated has had Q set once by the evaluator.
	NodeEvaluated NodeState = "evaluated"

	// NodeBackpropagated has had Q pulled toward a descendant's result at least once.
	NodeBackpropagated NodeState = "backpropagated"
)

// String returns the string representation of the node state.
func (s NodeState) String() string {
	return string(s)
}

// Node is a candidate answer in the search tree.
//
// The parent pointer is a non-owning back reference used only for upward
// traversal. Children are owned by the node and kept in expansion order.
//
// Thread Safety: Not safe for concurrent use on its own. Nodes reachable
// from a Tree are guarded by the tree's lock.
type Node struct {
	// Immutable after creation
	ID        string    `json:"id"`
	Answer    string    `json:"answer"`
	Critique  string    `json:"critique,omitempty"`
	Depth     int       `json:"depth"`
	CreatedAt time.Time `json:"created_at"`

	parent   *Node
	children []*Node

	// spawned counts children created against this node, attached or not.
	spawned int
	// pending counts expansion slots reserved by in-flight parallel rollouts.
	pending int

	visits  int64
	q       float64
	rewards []int
	state   NodeState
}

func newRootNode(answer string) *Node {
	return &Node{
		ID:        "0",
		Answer:    answer,
		CreatedAt: time.Now(),
		children:  make([]*Node, 0),
		state:     NodeUnevaluated,
	}
}

// NewChild creates an unattached child of parent holding a refined answer.
//
// The child's parent link is set here; AddChild attaches it.
//
// Inputs:
//   - parent: The node the answer was refined from. Must not be nil.
//   - answer: The refined answer text.
//   - critique: The critique the refinement was based on.
//
// Outputs:
//   - *Node: The new unevaluated node, never nil.
func NewChild(parent *Node, answer, critique string) *Node {
	parent.spawned++
	return &Node{
		ID:        fmt.Sprintf("%s.%d", parent.ID, parent.spawned),
		Answer:    answer,
		Critique:  critique,
		Depth:     parent.Depth + 1,
		CreatedAt: time.Now(),
		parent:    parent,
		children:  make([]*Node, 0),
		state:     NodeUnevaluated,
	}
}

// AddChild appends child to the node's children. It is the only operation
// that changes the shape of the tree.
func (n *Node) AddChild(child *Node) {
	n.children = append(n.children, child)
}

// Parent returns the parent node, nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot returns true if this node has no parent.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

// Children returns a copy of the children slice.
func (n *Node) Children() []*Node {
	children := make([]*Node, len(n.children))
	copy(children, n.children)
	return children
}

// ChildCount returns the number of attached children.
func (n *Node) ChildCount() int {
	return len(n.children)
}

// Visits returns how many backpropagation passes went through this node.
func (n *Node) Visits() int64 {
	return n.visits
}

// Q returns the node's quality estimate.
func (n *Node) Q() float64 {
	return n.q
}

// Rewards returns a copy of the clamped reward samples the node was evaluated with.
func (n *Node) Rewards() []int {
	rewards := make([]int, len(n.rewards))
	copy(rewards, n.rewards)
	return rewards
}

// State returns the node's lifecycle state.
func (n *Node) State() NodeState {
	return n.state
}

// applyEvaluation records the evaluator's result. A node is evaluated once.
func (n *Node) applyEvaluation(eval Evaluation) error {
	if n.state != NodeUnevaluated {
		return fmt.Errorf("node %s: %w", n.ID, ErrAlreadyEvaluated)
	}
	if math.IsNaN(eval.Q) || math.IsInf(eval.Q, 0) {
		return fmt.Errorf("node %s: non-finite Q %v", n.ID, eval.Q)
	}
	n.rewards = append(make([]int, 0, len(eval.Rewards)), eval.Rewards...)
	n.q = eval.Q
	n.state = NodeEvaluated
	return nil
}

// bestChildQ returns the maximum Q over the attached children.
// ok is false when there are no children.
func (n *Node) bestChildQ() (best float64, ok bool) {
	if len(n.children) == 0 {
		return 0, false
	}
	best = n.children[0].q
	for _, child := range n.children[1:] {
		if child.q > best {
			best = child.q
		}
	}
	return best, true
}

// String returns a human-readable representation of the node.
func (n *Node) String() string {
	return fmt.Sprintf("Node{id=%s, q=%.2f, visits=%d, children=%d, state=%s}",
		n.ID, n.q, n.visits, len(n.children), n.state)
}

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
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tree holds the search tree for one problem.
//
// Thread Safety: Safe for concurrent use. A single RWMutex guards the
// shape and statistics of every node in the tree.
type Tree struct {
	// Problem is the problem statement every node answers.
	Problem string

	// CreatedAt is when the tree was created.
	CreatedAt time.Time

	mu    sync.RWMutex
	root  *Node
	nodes atomic.Int64
}

// NewTree creates a tree holding only a placeholder root.
//
// Inputs:
//   - problem: The problem statement.
//   - rootAnswer: The placeholder answer stored at the root.
//
// Outputs:
//   - *Tree: The new tree with one node, Q=0 and visits=0 at the root.
func NewTree(problem, rootAnswer string) *Tree {
	t := &Tree{
		Problem:   problem,
		CreatedAt: time.Now(),
		root:      newRootNode(rootAnswer),
	}
	t.nodes.Store(1)
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return t.root
}

// Size returns the number of nodes in the tree.
func (t *Tree) Size() int64 {
	return t.nodes.Load()
}

// Attach appends child to parent under the tree lock.
func (t *Tree) Attach(parent, child *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attachLocked(parent, child)
}

func (t *Tree) attachLocked(parent, child *Node) {
	parent.AddChild(child)
	t.nodes.Add(1)
}

// Walk visits every node in breadth-first order, holding the read lock.
// Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(*Node) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.bfs(fn)
}

// bfs requires the caller to hold t.mu.
func (t *Tree) bfs(fn func(*Node) bool) {
	queue := []*Node{t.root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if !fn(node) {
			return
		}
		queue = append(queue, node.children...)
	}
}

// Best returns the node with the strictly greatest Q in breadth-first
// order. The root wins ties since it is visited first.
func (t *Tree) Best() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bestLocked()
}

func (t *Tree) bestLocked() *Node {
	best := t.root
	t.bfs(func(n *Node) bool {
		if n.q > best.q {
			best = n
		}
		return true
	})
	return best
}

// FindNode returns the node with the given ID, or nil.
func (t *Tree) FindNode(id string) *Node {
	var found *Node
	t.Walk(func(n *Node) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// MaxDepth returns the depth of the deepest node. The root has depth 0.
func (t *Tree) MaxDepth() int {
	maxDepth := 0
	t.Walk(func(n *Node) bool {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
		return true
	})
	return maxDepth
}

// CountByState returns node counts grouped by state.
func (t *Tree) CountByState() map[NodeState]int {
	counts := make(map[NodeState]int)
	t.Walk(func(n *Node) bool {
		counts[n.state]++
		return true
	})
	return counts
}

// Format renders the tree depth-first in child insertion order, one entry
// per node, indented two spaces per level:
//
//	answer, Q=80.00, visits=0
//
// Multi-line answers keep the node's indentation on every line.
func (t *Tree) Format() string {
	return t.Snapshot().Format()
}

// Format renders a snapshot the same way as (*Tree).Format.
func (s *TreeSnapshot) Format() string {
	var sb strings.Builder
	if s.Root != nil {
		formatNode(&sb, s.Root, 0)
	}
	return sb.String()
}

func formatNode(sb *strings.Builder, n *NodeSnapshot, level int) {
	indent := strings.Repeat("  ", level)
	entry := fmt.Sprintf("%s, Q=%.2f, visits=%d", n.Answer, n.Q, n.Visits)
	for _, line := range strings.Split(entry, "\n") {
		sb.WriteString(indent)
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	for _, child := range n.Children {
		formatNode(sb, child, level+1)
	}
}

// NodeSnapshot is a point-in-time copy of a node and its subtree.
type NodeSnapshot struct {
	ID        string          `json:"id"`
	Answer    string          `json:"answer"`
	Critique  string          `json:"critique,omitempty"`
	Depth     int             `json:"depth"`
	Q         float64         `json:"q"`
	Visits    int64           `json:"visits"`
	Rewards   []int           `json:"rewards,omitempty"`
	State     NodeState       `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	Children  []*NodeSnapshot `json:"children,omitempty"`
}

// TreeSnapshot is a serializable copy of a whole tree.
type TreeSnapshot struct {
	Problem   string        `json:"problem"`
	CreatedAt time.Time     `json:"created_at"`
	Nodes     int64         `json:"nodes"`
	MaxDepth  int           `json:"max_depth"`
	BestID    string        `json:"best_id"`
	Root      *NodeSnapshot `json:"root"`
}

// Snapshot copies the tree under the read lock.
func (t *Tree) Snapshot() *TreeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	maxDepth := 0
	t.bfs(func(n *Node) bool {
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
		return true
	})

	return &TreeSnapshot{
		Problem:   t.Problem,
		CreatedAt: t.CreatedAt,
		Nodes:     t.nodes.Load(),
		MaxDepth:  maxDepth,
		BestID:    t.bestLocked().ID,
		Root:      snapshotNode(t.root),
	}
}

func snapshotNode(n *Node) *NodeSnapshot {
	snap := &NodeSnapshot{
		ID:        n.ID,
		Answer:    n.Answer,
		Critique:  n.Critique,
		Depth:     n.Depth,
		Q:         n.q,
		Visits:    n.visits,
		Rewards:   n.Rewards(),
		State:     n.state,
		CreatedAt: n.CreatedAt,
	}
	for _, child := range n.children {
		snap.Children = append(snap.Children, snapshotNode(child))
	}
	return snap
}

// MarshalJSON implements json.Marshaler using a snapshot.
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Snapshot())
}

// truncate shortens s to maxLen runes, appending "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

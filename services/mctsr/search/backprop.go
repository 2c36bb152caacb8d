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

// Backpropagate pulls the Q of every ancestor of child toward its best
// child's Q and counts the visit.
//
// Starting at child's parent and ending at the root, each node gets
//
//	Q = (Q + max(children Q)) / 2
//	visits++
//
// child itself is not modified. The caller must hold the tree's write lock
// when other goroutines can observe the tree.
//
// Outputs:
//   - int: The number of nodes updated.
func Backpropagate(child *Node) int {
	updated := 0
	for n := child.parent; n != nil; n = n.parent {
		best, ok := n.bestChildQ()
		if ok {
			n.q = (n.q + best) / 2
		}
		n.visits++
		n.state = NodeBackpropagated
		updated++
	}
	return updated
}

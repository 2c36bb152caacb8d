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

// IsFullyExpanded reports whether n should no longer receive new children.
//
// A node is fully expanded when it holds maxChildren children (attached
// plus slots reserved by in-flight parallel rollouts), or when any attached
// child already has a strictly higher Q than the node itself.
func IsFullyExpanded(n *Node, maxChildren int) bool {
	if len(n.children)+n.pending >= maxChildren {
		return true
	}
	for _, child := range n.children {
		if child.q > n.q {
			return true
		}
	}
	return false
}

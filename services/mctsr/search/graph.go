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
	"strconv"
	"strings"

	"github.com/awalterschulze/gographviz"
)

const dotGraphName = "mctsr"

// ToDot renders the tree as a Graphviz digraph. Each node is labelled with
// its ID, Q, visits and a shortened answer; the best node is highlighted.
func (t *Tree) ToDot() (string, error) {
	return t.Snapshot().ToDot()
}

// ToDot renders a snapshot the same way as (*Tree).ToDot, so stored runs
// can be drawn after the fact.
func (s *TreeSnapshot) ToDot() (string, error) {
	g := gographviz.NewGraph()
	if err := g.SetName(dotGraphName); err != nil {
		return "", fmt.Errorf("set graph name: %w", err)
	}
	if err := g.SetDir(true); err != nil {
		return "", fmt.Errorf("set graph direction: %w", err)
	}
	if s.Root == nil {
		return g.String(), nil
	}

	type item struct {
		node   *NodeSnapshot
		parent string
	}
	queue := []item{{node: s.Root}}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		n := it.node

		attrs := map[string]string{
			"shape":    "box",
			"fontname": "Monaco",
			"label":    strconv.Quote(dotLabel(n)),
		}
		if n.ID == s.BestID {
			attrs["style"] = "filled"
			attrs["fillcolor"] = "palegreen"
		}
		name := dotNodeName(n.ID)
		if err := g.AddNode(dotGraphName, name, attrs); err != nil {
			return "", fmt.Errorf("add node %s: %w", n.ID, err)
		}
		if it.parent != "" {
			if err := g.AddEdge(it.parent, name, true, nil); err != nil {
				return "", fmt.Errorf("add edge to %s: %w", n.ID, err)
			}
		}
		for _, child := range n.Children {
			queue = append(queue, item{node: child, parent: name})
		}
	}
	return g.String(), nil
}

func dotNodeName(id string) string {
	return "n" + strings.ReplaceAll(id, ".", "_")
}

func dotLabel(n *NodeSnapshot) string {
	answer := strings.Join(strings.Fields(n.Answer), " ")
	return fmt.Sprintf("%s\nQ=%.2f visits=%d\n%s", n.ID, n.Q, n.Visits, truncate(answer, 48))
}

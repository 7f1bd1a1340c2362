// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dot renders program graphs in the Graphviz DOT language.
//
// The output is canonical: it depends only on the node and edge sets of the
// graph, never on the order in which they were inserted. Nodes are emitted
// by descending index and edges by descending (source, target), so the
// exit sentinel comes first and the entry sentinel last.
package dot

import (
	"sort"
	"strings"

	"github.com/AleutianAI/flowdom/services/flowdom/graph"
)

const (
	header = "strict digraph  {\n"
	footer = "}\n"
)

// Render returns the DOT text for g.
//
// Description:
//
//	Emits one quoted node statement per node and one quoted edge statement
//	per edge, using Node.String() as the identifier:
//
//	    strict digraph  {
//	    "ProgramGraphNode(3)";
//	    "ProgramGraphNode(0)";
//	    "ProgramGraphNode(3)" -> "ProgramGraphNode(0)";
//	    }
//
// Inputs:
//
//   - g: The graph to render. A nil graph renders as an empty digraph.
//
// Outputs:
//
//   - string: The DOT text. Calling Render twice yields identical text.
//
// Thread Safety: Safe for concurrent use on a frozen graph.
//
// Complexity: O(V log V + E log E).
func Render[T any](g *graph.ProgramGraph[T]) string {
	var sb strings.Builder
	sb.WriteString(header)
	if g == nil {
		sb.WriteString(footer)
		return sb.String()
	}

	nodes := g.Nodes()
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Index > nodes[j].Index
	})
	for _, node := range nodes {
		writeID(&sb, node.Index)
		sb.WriteString(";\n")
	}

	edges := append([]graph.Edge(nil), g.Edges()...)
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From > edges[j].From
		}
		return edges[i].To > edges[j].To
	})
	for _, edge := range edges {
		writeID(&sb, edge.From)
		sb.WriteString(" -> ")
		writeID(&sb, edge.To)
		sb.WriteString(";\n")
	}

	sb.WriteString(footer)
	return sb.String()
}

func writeID(sb *strings.Builder, index int) {
	sb.WriteByte('"')
	sb.WriteString(graph.NodeLabel(index))
	sb.WriteByte('"')
}

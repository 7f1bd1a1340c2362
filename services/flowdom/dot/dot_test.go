// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dot

import (
	"testing"

	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const conditionalPostDominatorDOT = `strict digraph  {
"ProgramGraphNode(9223372036854775807)";
"ProgramGraphNode(3)";
"ProgramGraphNode(2)";
"ProgramGraphNode(1)";
"ProgramGraphNode(0)";
"ProgramGraphNode(-1)";
"ProgramGraphNode(9223372036854775807)" -> "ProgramGraphNode(3)";
"ProgramGraphNode(3)" -> "ProgramGraphNode(2)";
"ProgramGraphNode(3)" -> "ProgramGraphNode(1)";
"ProgramGraphNode(3)" -> "ProgramGraphNode(0)";
"ProgramGraphNode(0)" -> "ProgramGraphNode(-1)";
}
`

func build(t *testing.T, indices []int, edges [][2]int) *graph.ProgramGraph[string] {
	t.Helper()
	g := graph.New[string]()
	for _, i := range indices {
		_, err := g.AddNode(graph.NewNode(i, ""))
		require.NoError(t, err)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	g.Freeze()
	return g
}

func TestRender_ConditionalFixture(t *testing.T) {
	g := build(t,
		[]int{graph.RootIndex, 3, 0, 1, 2, graph.EntryIndex},
		[][2]int{
			{graph.RootIndex, 3},
			{3, 0},
			{3, 1},
			{0, graph.EntryIndex},
			{3, 2},
		},
	)

	assert.Equal(t, conditionalPostDominatorDOT, Render(g))
}

func TestRender_IndependentOfInsertionOrder(t *testing.T) {
	edges := [][2]int{{graph.EntryIndex, 0}, {0, 4}, {0, 2}, {2, 4}, {4, graph.ExitIndex}}
	a := build(t, []int{graph.EntryIndex, 0, 2, 4, graph.ExitIndex}, edges)

	reversed := make([][2]int, len(edges))
	for i, e := range edges {
		reversed[len(edges)-1-i] = e
	}
	b := build(t, []int{graph.ExitIndex, 4, 2, 0, graph.EntryIndex}, reversed)

	assert.Equal(t, Render(a), Render(b))
}

func TestRender_Idempotent(t *testing.T) {
	g := build(t, []int{0, 1}, [][2]int{{0, 1}})
	first := Render(g)
	assert.Equal(t, first, Render(g))
	assert.Equal(t, "strict digraph  {\n"+
		"\"ProgramGraphNode(1)\";\n"+
		"\"ProgramGraphNode(0)\";\n"+
		"\"ProgramGraphNode(0)\" -> \"ProgramGraphNode(1)\";\n"+
		"}\n", first)
}

func TestRender_Empty(t *testing.T) {
	assert.Equal(t, "strict digraph  {\n}\n", Render[string](nil))
	assert.Equal(t, "strict digraph  {\n}\n", Render(graph.New[int]()))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dominators

import (
	"context"
	"testing"

	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/AleutianAI/flowdom/services/flowdom/cfg"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/stretchr/testify/require"
)

// Block 0 branches to 1, 2 and 3; 1 and 2 flow into 3, which returns.
var conditionalJumpListing = []bytecode.Instruction{
	{Offset: 0, Kind: bytecode.OpCondJump, JumpTargets: []int{2, 3}},
	{Offset: 1, Kind: bytecode.OpJump, JumpTargets: []int{3}},
	{Offset: 2, Kind: bytecode.OpLinear},
	{Offset: 3, Kind: bytecode.OpReturn},
}

const conditionalJumpPostDominatorDOT = `strict digraph  {
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

// for x in y: body; return
var forLoopListing = []bytecode.Instruction{
	{Offset: 0, Kind: bytecode.OpLinear},
	{Offset: 2, Kind: bytecode.OpCondJump, JumpTargets: []int{8}},
	{Offset: 4, Kind: bytecode.OpLinear},
	{Offset: 6, Kind: bytecode.OpJump, JumpTargets: []int{2}},
	{Offset: 8, Kind: bytecode.OpReturn},
}

// Dead code after the first return.
var unreachableListing = []bytecode.Instruction{
	{Offset: 0, Kind: bytecode.OpReturn},
	{Offset: 2, Kind: bytecode.OpLinear},
	{Offset: 4, Kind: bytecode.OpReturn},
}

func buildCFG(t *testing.T, listing []bytecode.Instruction) *cfg.CFG {
	t.Helper()
	c, err := cfg.Build(context.Background(), listing)
	require.NoError(t, err)
	return c
}

func buildGraph(t *testing.T, indices []int, edges [][2]int) *graph.ProgramGraph[string] {
	t.Helper()
	g := graph.New[string]()
	for _, index := range indices {
		_, err := g.AddNode(graph.NewNode(index, ""))
		require.NoError(t, err)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	g.Freeze()
	return g
}

// smallControlFlowGraph has a diamond 5 -> {4, 3} -> 2 and a unique sink
// carrying the root sentinel.
func smallControlFlowGraph(t *testing.T) *graph.ProgramGraph[string] {
	return buildGraph(t,
		[]int{0, 6, 5, 4, 3, 2, graph.ExitIndex},
		[][2]int{
			{0, 6},
			{6, 5},
			{5, 4},
			{5, 3},
			{4, 2},
			{3, 2},
			{2, graph.ExitIndex},
		},
	)
}

// largerControlFlowGraph has two nested loops, 110..210 and 140..190, with
// a conditional skip 160 -> 190 inside the inner loop.
func largerControlFlowGraph(t *testing.T) *graph.ProgramGraph[string] {
	return buildGraph(t,
		[]int{
			graph.EntryIndex, 1, 2, 3, 5, 100, 110, 120, 130, 140, 150,
			160, 170, 180, 190, 200, 210, 300, graph.ExitIndex,
		},
		[][2]int{
			{graph.EntryIndex, 1},
			{1, 2},
			{2, 3},
			{3, 5},
			{5, 100},
			{100, 110},
			{110, 120},
			{120, 130},
			{130, 140},
			{140, 150},
			{150, 160},
			{160, 170},
			{170, 180},
			{180, 190},
			{160, 190},
			{190, 140},
			{140, 200},
			{200, 210},
			{210, 110},
			{110, 300},
			{300, graph.ExitIndex},
		},
	)
}

func edgeSet[T any](g *graph.ProgramGraph[T]) map[graph.Edge]bool {
	result := make(map[graph.Edge]bool, g.EdgeCount())
	for _, e := range g.Edges() {
		result[e] = true
	}
	return result
}

func nodeSet[T any](g *graph.ProgramGraph[T]) map[int]struct{} {
	result := make(map[int]struct{}, g.Len())
	for _, n := range g.Nodes() {
		result[n.Index] = struct{}{}
	}
	return result
}

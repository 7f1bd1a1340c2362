// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

import (
	"context"
	"testing"

	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// if a: b else: c; return
var ifElseListing = []bytecode.Instruction{
	{Offset: 0, Kind: bytecode.OpCondJump, JumpTargets: []int{2}},
	{Offset: 1, Kind: bytecode.OpJump, JumpTargets: []int{3}},
	{Offset: 2, Kind: bytecode.OpLinear},
	{Offset: 3, Kind: bytecode.OpReturn},
}

// for x in y: body; return
var forLoopListing = []bytecode.Instruction{
	{Offset: 0, Kind: bytecode.OpLinear},
	{Offset: 2, Kind: bytecode.OpCondJump, JumpTargets: []int{8}},
	{Offset: 4, Kind: bytecode.OpLinear},
	{Offset: 6, Kind: bytecode.OpJump, JumpTargets: []int{2}},
	{Offset: 8, Kind: bytecode.OpReturn},
}

func edgeSet(g *graph.ProgramGraph[*bytecode.BasicBlock]) map[graph.Edge]bool {
	result := make(map[graph.Edge]bool, g.EdgeCount())
	for _, e := range g.Edges() {
		result[e] = true
	}
	return result
}

func assertSingleRoot(t *testing.T, c *CFG) {
	t.Helper()
	sources := c.Graph().Sources()
	require.Len(t, sources, 1)
	assert.Equal(t, graph.EntryIndex, sources[0].Index)

	sinks := c.Graph().Sinks()
	require.Len(t, sinks, 1)
	assert.Equal(t, graph.ExitIndex, sinks[0].Index)
}

func TestBuild_StraightLine(t *testing.T) {
	c, err := Build(context.Background(), []bytecode.Instruction{
		{Offset: 0, Kind: bytecode.OpLinear},
		{Offset: 2, Kind: bytecode.OpReturn},
	})
	require.NoError(t, err)

	assert.True(t, c.Graph().IsFrozen())
	assert.Equal(t, 3, c.Graph().Len())
	assert.Equal(t, map[graph.Edge]bool{
		{From: graph.EntryIndex, To: 0}: true,
		{From: 0, To: graph.ExitIndex}: true,
	}, edgeSet(c.Graph()))
	assert.Empty(t, c.Unreachable())
	assert.Equal(t, 1, c.CyclomaticComplexity())
	assertSingleRoot(t, c)

	entry, err := c.Graph().Entry()
	require.NoError(t, err)
	assert.True(t, entry.Synthetic)
	exit, err := c.Graph().Exit()
	require.NoError(t, err)
	assert.Equal(t, graph.ExitIndex, exit.Index)
}

func TestBuild_IfElse(t *testing.T) {
	c, err := Build(context.Background(), ifElseListing)
	require.NoError(t, err)

	assert.Equal(t, map[graph.Edge]bool{
		{From: graph.EntryIndex, To: 0}: true,
		{From: 0, To: 2}:                true,
		{From: 0, To: 1}:                true,
		{From: 1, To: 3}:                true,
		{From: 2, To: 3}:                true,
		{From: 3, To: graph.ExitIndex}:  true,
	}, edgeSet(c.Graph()))
	assert.Equal(t, 2, c.CyclomaticComplexity())
	assertSingleRoot(t, c)

	blk, ok := c.Block(2)
	require.True(t, ok)
	assert.Equal(t, bytecode.OpLinear, blk.Last().Kind)
	_, ok = c.Block(graph.EntryIndex)
	assert.False(t, ok, "sentinels carry no block")
}

func TestBuild_ForLoop(t *testing.T) {
	c, err := Build(context.Background(), forLoopListing)
	require.NoError(t, err)

	assert.Equal(t, map[graph.Edge]bool{
		{From: graph.EntryIndex, To: 0}: true,
		{From: 0, To: 2}:                true,
		{From: 2, To: 8}:                true,
		{From: 2, To: 4}:                true,
		{From: 4, To: 2}:                true,
		{From: 8, To: graph.ExitIndex}:  true,
	}, edgeSet(c.Graph()))
	assert.Equal(t, []int{0, 4}, indices(c.Graph().Predecessors(2)))
	assertSingleRoot(t, c)
}

func indices(nodes []*graph.Node[*bytecode.BasicBlock]) []int {
	result := make([]int, 0, len(nodes))
	for _, n := range nodes {
		result = append(result, n.Index)
	}
	return result
}

func TestBuild_UnreachableBlockRetained(t *testing.T) {
	c, err := Build(context.Background(), []bytecode.Instruction{
		{Offset: 0, Kind: bytecode.OpReturn},
		{Offset: 2, Kind: bytecode.OpLinear},
		{Offset: 4, Kind: bytecode.OpReturn},
	})
	require.NoError(t, err)

	assert.True(t, c.Graph().Contains(2))
	assert.Equal(t, []int{2}, c.Unreachable())
	assert.False(t, c.IsReachable(2))
	assert.True(t, c.IsReachable(0))
	assert.True(t, c.IsReachable(graph.EntryIndex))
	assert.True(t, c.IsReachable(graph.ExitIndex))
	assert.False(t, c.IsReachable(99))

	// The unreachable block still flows into EXIT.
	assert.True(t, c.Graph().HasEdge(2, graph.ExitIndex))

	// Unreachable returns a copy.
	c.Unreachable()[0] = 42
	assert.Equal(t, []int{2}, c.Unreachable())
}

func TestBuild_InfiniteLoopLeavesExitUnreachable(t *testing.T) {
	c, err := Build(context.Background(), []bytecode.Instruction{
		{Offset: 0, Kind: bytecode.OpJump, JumpTargets: []int{0}},
	})
	require.NoError(t, err)

	assert.False(t, c.IsReachable(graph.ExitIndex))
	assert.Empty(t, c.Graph().Predecessors(graph.ExitIndex))
}

func TestFromBlocks_Errors(t *testing.T) {
	tests := []struct {
		name    string
		blocks  []*bytecode.BasicBlock
		opts    []Option
		wantErr error
	}{
		{
			name:    "empty",
			wantErr: bytecode.ErrMalformedInput,
		},
		{
			name:    "nil block",
			blocks:  []*bytecode.BasicBlock{nil},
			wantErr: bytecode.ErrMalformedInput,
		},
		{
			name: "duplicate index",
			blocks: []*bytecode.BasicBlock{
				{Index: 0, Successors: []int{4}},
				{Index: 4},
				{Index: 4},
			},
			wantErr: graph.ErrDuplicateNode,
		},
		{
			name: "unknown successor",
			blocks: []*bytecode.BasicBlock{
				{Index: 0, Successors: []int{7}},
			},
			wantErr: bytecode.ErrMalformedInput,
		},
		{
			name: "successor is a sentinel",
			blocks: []*bytecode.BasicBlock{
				{Index: 0, Successors: []int{graph.EntryIndex}},
			},
			wantErr: bytecode.ErrMalformedInput,
		},
		{
			name: "block uses sentinel index",
			blocks: []*bytecode.BasicBlock{
				{Index: graph.ExitIndex},
			},
			wantErr: bytecode.ErrMalformedInput,
		},
		{
			name: "too many nodes",
			blocks: []*bytecode.BasicBlock{
				{Index: 0},
			},
			opts:    []Option{WithMaxNodes(2)},
			wantErr: graph.ErrMaxNodesExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := FromBlocks(context.Background(), tt.blocks, tt.opts...)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, c)
		})
	}
}

func TestBuild_MalformedListing(t *testing.T) {
	_, err := Build(context.Background(), []bytecode.Instruction{
		{Offset: 0, Kind: bytecode.OpJump, JumpTargets: []int{5}},
	})
	assert.ErrorIs(t, err, bytecode.ErrMalformedInput)
}

func TestFromBlocks_EveryBlockEdgeOnce(t *testing.T) {
	c, err := FromBlocks(context.Background(), []*bytecode.BasicBlock{
		{Index: 1, Successors: []int{2, 3}},
		{Index: 2, Successors: []int{3}},
		{Index: 3},
	})
	require.NoError(t, err)

	// ENTRY->1, 1->2, 1->3, 2->3, 3->EXIT
	assert.Equal(t, 5, c.Graph().EdgeCount())
	assert.Len(t, c.Blocks(), 3)
}

func TestCFG_ToDOT(t *testing.T) {
	c, err := Build(context.Background(), ifElseListing)
	require.NoError(t, err)

	text := c.ToDOT()
	assert.Equal(t, text, c.ToDOT())
	assert.Contains(t, text, "\"ProgramGraphNode(-1)\" -> \"ProgramGraphNode(0)\";")
	assert.Contains(t, text, "\"ProgramGraphNode(3)\" -> \"ProgramGraphNode(9223372036854775807)\";")
}

func TestFromBlocks_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	_, err := Build(context.Background(), forLoopListing)
	require.NoError(t, err)

	var found bool
	for _, span := range recorder.Ended() {
		if span.Name() == "cfg.FromBlocks" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestFromBlocks_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	_, err := Build(context.Background(), ifElseListing)
	require.NoError(t, err)
	_, err = Build(context.Background(), nil)
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "cfg_build_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	assert.GreaterOrEqual(t, total, int64(1))
}

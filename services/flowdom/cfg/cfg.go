// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cfg builds control-flow graphs from basic blocks.
//
// A CFG is a frozen program graph whose real nodes are basic blocks, plus a
// synthetic ENTRY node (graph.EntryIndex) with a single edge to the first
// block and a unified EXIT node (graph.ExitIndex) that every exiting block
// flows into. Blocks that cannot be reached from ENTRY are kept in the graph
// and reported by Unreachable.
package cfg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/AleutianAI/flowdom/services/flowdom/dot"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "flowdom.cfg"

// CFG is the control-flow graph of one unit of code.
//
// Thread Safety: Safe for concurrent use after construction.
type CFG struct {
	graph       *graph.ProgramGraph[*bytecode.BasicBlock]
	blocks      []*bytecode.BasicBlock
	reachable   map[int]struct{}
	unreachable []int
}

// Option configures CFG construction.
type Option func(*options)

type options struct {
	graphOptions []graph.GraphOption
}

// WithMaxNodes caps the number of nodes, sentinels included.
func WithMaxNodes(n int) Option {
	return func(o *options) {
		o.graphOptions = append(o.graphOptions, graph.WithMaxNodes(n))
	}
}

// Build partitions instructions into basic blocks and builds their CFG.
//
// Errors:
//
//	bytecode.ErrMalformedInput - The instructions cannot be partitioned
//	graph.ErrMaxNodesExceeded - More blocks than the configured cap
func Build(ctx context.Context, instructions []bytecode.Instruction, opts ...Option) (*CFG, error) {
	blocks, err := bytecode.Partition(instructions)
	if err != nil {
		return nil, err
	}
	return FromBlocks(ctx, blocks, opts...)
}

// FromBlocks builds the CFG of already partitioned basic blocks.
//
// Description:
//
//	Adds ENTRY, every block in the given order, and EXIT. ENTRY gets one
//	edge to blocks[0]. Each block gets one edge per successor, or a single
//	edge to EXIT when it has none. The graph is frozen before it is
//	returned.
//
// Inputs:
//
//   - ctx: Used for tracing and logging only.
//   - blocks: Non-empty. blocks[0] is the entry block. Indices must be
//     unique and non-negative; successors must name blocks in the slice.
//
// Outputs:
//
//   - *CFG: The frozen control-flow graph.
//   - error: Non-nil if the blocks do not form a valid graph.
//
// Errors:
//
//	bytecode.ErrMalformedInput - Empty input, sentinel index, or unknown successor
//	graph.ErrDuplicateNode - Two blocks share an index
//	graph.ErrMaxNodesExceeded - More blocks than the configured cap
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(V + E).
func FromBlocks(ctx context.Context, blocks []*bytecode.BasicBlock, opts ...Option) (*CFG, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()

	ctx, span := telemetry.StartSpan(ctx, tracerName, "cfg.FromBlocks",
		trace.WithAttributes(attribute.Int("block_count", len(blocks))),
	)
	defer span.End()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	g, err := assemble(blocks, o)
	if err != nil {
		telemetry.RecordError(span, err)
		recordBuildMetrics(ctx, time.Since(startTime), 0, 0, false)
		return nil, err
	}
	g.Freeze()

	c := &CFG{
		graph:     g,
		blocks:    blocks,
		reachable: g.Reachable(graph.EntryIndex),
	}

	logger := telemetry.LoggerWithTrace(ctx, slog.Default())
	for _, blk := range blocks {
		if _, ok := c.reachable[blk.Index]; ok {
			continue
		}
		c.unreachable = append(c.unreachable, blk.Index)
		logger.Warn("cfg: unreachable block", slog.Int("block", blk.Index))
	}
	if _, ok := c.reachable[graph.ExitIndex]; !ok {
		span.AddEvent("exit_unreachable")
		logger.Warn("cfg: exit is unreachable from entry")
	}

	span.SetAttributes(
		attribute.Int("node_count", g.Len()),
		attribute.Int("edge_count", g.EdgeCount()),
		attribute.Int("unreachable_count", len(c.unreachable)),
	)
	telemetry.SetSpanOK(span)
	recordBuildMetrics(ctx, time.Since(startTime), g.Len(), g.EdgeCount(), true)

	logger.Debug("cfg: build complete",
		slog.Int("blocks", len(blocks)),
		slog.Int("edges", g.EdgeCount()),
		slog.Int("unreachable", len(c.unreachable)),
		slog.Duration("duration", time.Since(startTime)),
	)

	return c, nil
}

func assemble(blocks []*bytecode.BasicBlock, o options) (*graph.ProgramGraph[*bytecode.BasicBlock], error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%w: no basic blocks", bytecode.ErrMalformedInput)
	}

	g := graph.New[*bytecode.BasicBlock](o.graphOptions...)
	if _, err := g.AddNode(graph.NewSyntheticNode[*bytecode.BasicBlock](graph.EntryIndex)); err != nil {
		return nil, err
	}
	for _, blk := range blocks {
		if blk == nil {
			return nil, fmt.Errorf("%w: nil basic block", bytecode.ErrMalformedInput)
		}
		if blk.Index < 0 || blk.Index == graph.ExitIndex {
			return nil, fmt.Errorf("%w: block index %d collides with a sentinel",
				bytecode.ErrMalformedInput, blk.Index)
		}
		if _, err := g.AddNode(graph.NewNode(blk.Index, blk)); err != nil {
			return nil, err
		}
	}
	if _, err := g.AddNode(graph.NewSyntheticNode[*bytecode.BasicBlock](graph.ExitIndex)); err != nil {
		return nil, err
	}

	if err := g.AddEdge(graph.EntryIndex, blocks[0].Index); err != nil {
		return nil, err
	}
	for _, blk := range blocks {
		if len(blk.Successors) == 0 {
			if err := g.AddEdge(blk.Index, graph.ExitIndex); err != nil {
				return nil, err
			}
			continue
		}
		for _, succ := range blk.Successors {
			if succ < 0 || succ == graph.ExitIndex || !g.Contains(succ) {
				return nil, fmt.Errorf("%w: block %d has unknown successor %d",
					bytecode.ErrMalformedInput, blk.Index, succ)
			}
			if err := g.AddEdge(blk.Index, succ); err != nil {
				return nil, err
			}
		}
	}

	if err := g.SetEntry(graph.EntryIndex); err != nil {
		return nil, err
	}
	if err := g.SetExit(graph.ExitIndex); err != nil {
		return nil, err
	}
	return g, nil
}

// Graph returns the underlying frozen program graph.
func (c *CFG) Graph() *graph.ProgramGraph[*bytecode.BasicBlock] {
	return c.graph
}

// Blocks returns the basic blocks in the order they were given. Callers
// should NOT modify the returned slice.
func (c *CFG) Blocks() []*bytecode.BasicBlock {
	return c.blocks
}

// Block returns the basic block with the given index.
func (c *CFG) Block(index int) (*bytecode.BasicBlock, bool) {
	node, ok := c.graph.Node(index)
	if !ok || node.Synthetic {
		return nil, false
	}
	return node.Payload, true
}

// Unreachable returns the indices of blocks that cannot be reached from
// ENTRY, in block order.
func (c *CFG) Unreachable() []int {
	return append([]int(nil), c.unreachable...)
}

// IsReachable reports whether the node is reachable from ENTRY. ENTRY
// itself is reachable; unknown indices are not.
func (c *CFG) IsReachable(index int) bool {
	_, ok := c.reachable[index]
	return ok
}

// CyclomaticComplexity returns E - N + 2 over the whole graph, sentinels
// included.
func (c *CFG) CyclomaticComplexity() int {
	return c.graph.EdgeCount() - c.graph.Len() + 2
}

// ToDOT renders the graph in DOT format.
func (c *CFG) ToDOT() string {
	return dot.Render(c.graph)
}

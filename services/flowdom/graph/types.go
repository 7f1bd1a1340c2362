// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"math"
	"strconv"
)

// Reserved node indices. Real basic blocks are indexed by the offset of
// their first instruction, which is never negative and never math.MaxInt.
const (
	// EntryIndex identifies the synthetic ENTRY node of a control-flow graph.
	EntryIndex = -1

	// RootIndex identifies the root of a post-dominator tree.
	RootIndex = math.MaxInt

	// ExitIndex identifies the unified EXIT node of a control-flow graph.
	// It shares the value of RootIndex so that the post-dominator tree of a
	// CFG is rooted directly at its exit.
	ExitIndex = RootIndex
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes a graph can hold.
	DefaultMaxNodes = 1_000_000
)

// GraphState represents the lifecycle state of the graph.
type GraphState int

const (
	// GraphStateBuilding indicates the graph is accepting AddNode/AddEdge calls.
	GraphStateBuilding GraphState = iota

	// GraphStateReadOnly indicates the graph is frozen and read-only.
	GraphStateReadOnly
)

// String returns the string representation of the GraphState.
func (s GraphState) String() string {
	switch s {
	case GraphStateBuilding:
		return "building"
	case GraphStateReadOnly:
		return "readonly"
	default:
		return "unknown"
	}
}

// Node is a vertex of a ProgramGraph.
//
// Identity and equality are defined by Index alone; two nodes with the same
// index are interchangeable. Payload is optional and is the zero value for
// synthetic nodes.
type Node[T any] struct {
	// Index is the node identity.
	Index int

	// Payload is the value carried by the node, e.g. a basic block.
	Payload T

	// Synthetic marks nodes with no correspondence to real code.
	Synthetic bool
}

// NewNode creates a node carrying a payload.
func NewNode[T any](index int, payload T) *Node[T] {
	return &Node[T]{Index: index, Payload: payload}
}

// NewSyntheticNode creates a node without payload, such as ENTRY or EXIT.
func NewSyntheticNode[T any](index int) *Node[T] {
	return &Node[T]{Index: index, Synthetic: true}
}

// String returns the label used for the node in diagnostics.
func (n *Node[T]) String() string {
	if n == nil {
		return "ProgramGraphNode(<nil>)"
	}
	return NodeLabel(n.Index)
}

// NodeLabel returns the diagnostic label for a node index.
func NodeLabel(index int) string {
	return "ProgramGraphNode(" + strconv.Itoa(index) + ")"
}

// Edge is a directed edge between two node indices.
type Edge struct {
	// From is the index of the source node.
	From int

	// To is the index of the target node.
	To int
}

// GraphOptions configures ProgramGraph behavior and limits.
type GraphOptions struct {
	// MaxNodes is the maximum number of nodes the graph can hold.
	// Default: 1,000,000
	MaxNodes int
}

// DefaultGraphOptions returns sensible defaults for graph configuration.
func DefaultGraphOptions() GraphOptions {
	return GraphOptions{
		MaxNodes: DefaultMaxNodes,
	}
}

// GraphOption is a functional option for configuring ProgramGraph.
type GraphOption func(*GraphOptions)

// WithMaxNodes sets the maximum number of nodes the graph can hold.
// Non-positive values keep the default.
func WithMaxNodes(n int) GraphOption {
	return func(o *GraphOptions) {
		if n > 0 {
			o.MaxNodes = n
		}
	}
}

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
	"fmt"
)

// adjacency keeps the neighbours of one node in insertion order together
// with a membership set for O(1) duplicate checks.
type adjacency struct {
	order []int
	set   map[int]struct{}
}

func newAdjacency() *adjacency {
	return &adjacency{set: make(map[int]struct{})}
}

func (a *adjacency) add(index int) bool {
	if _, ok := a.set[index]; ok {
		return false
	}
	a.set[index] = struct{}{}
	a.order = append(a.order, index)
	return true
}

func (a *adjacency) has(index int) bool {
	_, ok := a.set[index]
	return ok
}

// ProgramGraph is a directed graph of nodes carrying payloads of type T.
//
// Thread Safety:
//
//	ProgramGraph is NOT safe for concurrent use during building. After
//	Freeze() is called, the graph can be safely read from multiple
//	goroutines, but no further modifications are allowed.
type ProgramGraph[T any] struct {
	// nodes maps index to node.
	nodes map[int]*Node[T]

	// order records node indices in insertion order.
	order []int

	// succs and preds are kept consistent by AddEdge.
	succs map[int]*adjacency
	preds map[int]*adjacency

	// edges records every distinct edge in insertion order.
	edges []Edge

	// entry and exit are optional designated endpoints.
	entry    int
	hasEntry bool
	exit     int
	hasExit  bool

	state   GraphState
	options GraphOptions
}

// New creates an empty graph in the Building state.
//
// Example:
//
//	g := graph.New[*bytecode.BasicBlock](graph.WithMaxNodes(10_000))
func New[T any](opts ...GraphOption) *ProgramGraph[T] {
	options := DefaultGraphOptions()
	for _, opt := range opts {
		opt(&options)
	}

	return &ProgramGraph[T]{
		nodes:   make(map[int]*Node[T]),
		order:   make([]int, 0),
		succs:   make(map[int]*adjacency),
		preds:   make(map[int]*adjacency),
		edges:   make([]Edge, 0),
		state:   GraphStateBuilding,
		options: options,
	}
}

// State returns the current lifecycle state of the graph.
func (g *ProgramGraph[T]) State() GraphState {
	return g.state
}

// IsFrozen returns true if the graph is in read-only mode.
func (g *ProgramGraph[T]) IsFrozen() bool {
	return g.state == GraphStateReadOnly
}

// Freeze transitions the graph to read-only mode. It is irreversible and
// idempotent. It must not be called concurrently with readers.
func (g *ProgramGraph[T]) Freeze() {
	g.state = GraphStateReadOnly
}

// Len returns the number of nodes in the graph.
func (g *ProgramGraph[T]) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges in the graph.
func (g *ProgramGraph[T]) EdgeCount() int {
	return len(g.edges)
}

// AddNode inserts a node.
//
// Description:
//
//	Adds the node under its index. The graph is left untouched when an
//	error is returned.
//
// Outputs:
//
//	*Node[T] - The inserted node.
//	error - Non-nil if the graph is frozen, at capacity, or the index is taken.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrDuplicateNode - Node with same index already exists
//	ErrMaxNodesExceeded - Graph is at node capacity
func (g *ProgramGraph[T]) AddNode(node *Node[T]) (*Node[T], error) {
	if g.state == GraphStateReadOnly {
		return nil, ErrGraphFrozen
	}
	if node == nil {
		return nil, fmt.Errorf("%w: nil node", ErrNodeNotFound)
	}
	if _, exists := g.nodes[node.Index]; exists {
		return nil, fmt.Errorf("%w: %d", ErrDuplicateNode, node.Index)
	}
	if len(g.nodes) >= g.options.MaxNodes {
		return nil, ErrMaxNodesExceeded
	}

	g.nodes[node.Index] = node
	g.order = append(g.order, node.Index)
	g.succs[node.Index] = newAdjacency()
	g.preds[node.Index] = newAdjacency()
	return node, nil
}

// AddEdge inserts the directed edge from -> to.
//
// Both endpoints must already exist. Adding an edge that is already present
// is a no-op.
//
// Errors:
//
//	ErrGraphFrozen - Graph has been frozen
//	ErrNodeNotFound - Source or target node doesn't exist
func (g *ProgramGraph[T]) AddEdge(from, to int) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("%w: source %d", ErrNodeNotFound, from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("%w: target %d", ErrNodeNotFound, to)
	}

	if !g.succs[from].add(to) {
		return nil
	}
	g.preds[to].add(from)
	g.edges = append(g.edges, Edge{From: from, To: to})
	return nil
}

// SetEntry designates the entry node, overriding source detection.
func (g *ProgramGraph[T]) SetEntry(index int) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[index]; !ok {
		return fmt.Errorf("%w: entry %d", ErrNodeNotFound, index)
	}
	g.entry, g.hasEntry = index, true
	return nil
}

// SetExit designates the exit node, overriding sink detection.
func (g *ProgramGraph[T]) SetExit(index int) error {
	if g.state == GraphStateReadOnly {
		return ErrGraphFrozen
	}
	if _, ok := g.nodes[index]; !ok {
		return fmt.Errorf("%w: exit %d", ErrNodeNotFound, index)
	}
	g.exit, g.hasExit = index, true
	return nil
}

// Node returns the node with the given index.
func (g *ProgramGraph[T]) Node(index int) (*Node[T], bool) {
	node, ok := g.nodes[index]
	return node, ok
}

// Contains reports whether a node with the given index exists.
func (g *ProgramGraph[T]) Contains(index int) bool {
	_, ok := g.nodes[index]
	return ok
}

// Nodes returns all nodes in insertion order. The slice is freshly
// allocated and may be modified by the caller.
func (g *ProgramGraph[T]) Nodes() []*Node[T] {
	result := make([]*Node[T], 0, len(g.order))
	for _, index := range g.order {
		result = append(result, g.nodes[index])
	}
	return result
}

// Edges returns all edges in insertion order. Callers should NOT modify the
// returned slice.
func (g *ProgramGraph[T]) Edges() []Edge {
	return g.edges
}

// HasEdge reports whether the edge from -> to exists.
func (g *ProgramGraph[T]) HasEdge(from, to int) bool {
	adj, ok := g.succs[from]
	return ok && adj.has(to)
}

// Successors returns the successors of a node in edge insertion order.
// Returns nil for unknown nodes.
func (g *ProgramGraph[T]) Successors(index int) []*Node[T] {
	adj, ok := g.succs[index]
	if !ok {
		return nil
	}
	return g.resolve(adj.order)
}

// Predecessors returns the predecessors of a node in edge insertion order.
// Returns nil for unknown nodes.
func (g *ProgramGraph[T]) Predecessors(index int) []*Node[T] {
	adj, ok := g.preds[index]
	if !ok {
		return nil
	}
	return g.resolve(adj.order)
}

// SuccessorIndices is Successors without node resolution. Callers should NOT
// modify the returned slice.
func (g *ProgramGraph[T]) SuccessorIndices(index int) []int {
	if adj, ok := g.succs[index]; ok {
		return adj.order
	}
	return nil
}

// PredecessorIndices is Predecessors without node resolution. Callers should
// NOT modify the returned slice.
func (g *ProgramGraph[T]) PredecessorIndices(index int) []int {
	if adj, ok := g.preds[index]; ok {
		return adj.order
	}
	return nil
}

func (g *ProgramGraph[T]) resolve(indices []int) []*Node[T] {
	result := make([]*Node[T], 0, len(indices))
	for _, index := range indices {
		result = append(result, g.nodes[index])
	}
	return result
}

// Sources returns the nodes without predecessors, in insertion order.
func (g *ProgramGraph[T]) Sources() []*Node[T] {
	result := make([]*Node[T], 0, 1)
	for _, index := range g.order {
		if len(g.preds[index].order) == 0 {
			result = append(result, g.nodes[index])
		}
	}
	return result
}

// Sinks returns the nodes without successors, in insertion order.
func (g *ProgramGraph[T]) Sinks() []*Node[T] {
	result := make([]*Node[T], 0, 1)
	for _, index := range g.order {
		if len(g.succs[index].order) == 0 {
			result = append(result, g.nodes[index])
		}
	}
	return result
}

// Entry returns the designated entry node or, failing that, the unique node
// without predecessors.
//
// Errors:
//
//	ErrNoEntry - No designated entry and zero or several sources
func (g *ProgramGraph[T]) Entry() (*Node[T], error) {
	if g.hasEntry {
		return g.nodes[g.entry], nil
	}
	sources := g.Sources()
	if len(sources) != 1 {
		return nil, fmt.Errorf("%w: %d candidate sources", ErrNoEntry, len(sources))
	}
	return sources[0], nil
}

// Exit returns the designated exit node or, failing that, the unique node
// without successors.
//
// Errors:
//
//	ErrNoExit - No designated exit and zero or several sinks
func (g *ProgramGraph[T]) Exit() (*Node[T], error) {
	if g.hasExit {
		return g.nodes[g.exit], nil
	}
	sinks := g.Sinks()
	if len(sinks) != 1 {
		return nil, fmt.Errorf("%w: %d candidate sinks", ErrNoExit, len(sinks))
	}
	return sinks[0], nil
}

// Reachable returns the set of node indices reachable from start, including
// start itself. Returns an empty set for unknown nodes.
func (g *ProgramGraph[T]) Reachable(start int) map[int]struct{} {
	visited := make(map[int]struct{})
	if _, ok := g.nodes[start]; !ok {
		return visited
	}

	stack := []int{start}
	visited[start] = struct{}{}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range g.succs[current].order {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return visited
}

// Reversed returns a frozen copy of the graph with every edge flipped.
//
// Description:
//
//	The node set and node order are identical; the designated entry and
//	exit are swapped. Node values are shared with the receiver, not copied.
//	Used to compute post-dominance with the forward dominance engine.
//
// Thread Safety: Safe for concurrent use once the receiver is frozen.
func (g *ProgramGraph[T]) Reversed() *ProgramGraph[T] {
	reversed := &ProgramGraph[T]{
		nodes:   make(map[int]*Node[T], len(g.nodes)),
		order:   append(make([]int, 0, len(g.order)), g.order...),
		succs:   make(map[int]*adjacency, len(g.nodes)),
		preds:   make(map[int]*adjacency, len(g.nodes)),
		edges:   make([]Edge, 0, len(g.edges)),
		options: g.options,
	}
	for index, node := range g.nodes {
		reversed.nodes[index] = node
		reversed.succs[index] = newAdjacency()
		reversed.preds[index] = newAdjacency()
	}
	for _, edge := range g.edges {
		reversed.succs[edge.To].add(edge.From)
		reversed.preds[edge.From].add(edge.To)
		reversed.edges = append(reversed.edges, Edge{From: edge.To, To: edge.From})
	}
	reversed.entry, reversed.hasEntry = g.exit, g.hasExit
	reversed.exit, reversed.hasExit = g.entry, g.hasEntry
	reversed.state = GraphStateReadOnly
	return reversed
}

// Clone returns an unfrozen deep copy of the graph structure that shares
// node values with the receiver. Used to extend a frozen graph, e.g. with an
// injected root node.
func (g *ProgramGraph[T]) Clone() *ProgramGraph[T] {
	clone := New[T]()
	clone.options = g.options
	for _, index := range g.order {
		node := g.nodes[index]
		clone.nodes[index] = node
		clone.order = append(clone.order, index)
		clone.succs[index] = newAdjacency()
		clone.preds[index] = newAdjacency()
	}
	for _, edge := range g.edges {
		clone.succs[edge.From].add(edge.To)
		clone.preds[edge.To].add(edge.From)
		clone.edges = append(clone.edges, edge)
	}
	clone.entry, clone.hasEntry = g.entry, g.hasEntry
	clone.exit, clone.hasExit = g.exit, g.hasExit
	return clone
}

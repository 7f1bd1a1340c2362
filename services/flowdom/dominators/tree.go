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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/flowdom/services/flowdom/dot"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Dominator Trees - Cooper-Harvey-Kennedy Algorithm
// =============================================================================

var (
	dominatorTracer     = otel.Tracer("flowdom.dominators")
	postDominatorTracer = otel.Tracer("flowdom.post_dominators")
)

// DefaultMaxIterations caps fixpoint iterations.
const DefaultMaxIterations = 100

// Kind distinguishes dominator trees from post-dominator trees.
type Kind int

const (
	// Dominance trees are rooted at the graph entry.
	Dominance Kind = iota

	// PostDominance trees are rooted at graph.RootIndex.
	PostDominance
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Dominance:
		return "dominance"
	case PostDominance:
		return "post_dominance"
	default:
		return "unknown"
	}
}

// Option configures a dominator computation.
type Option func(*options)

type options struct {
	maxIterations int
}

func defaultOptions() options {
	return options{maxIterations: DefaultMaxIterations}
}

// WithMaxIterations caps the fixpoint iterations. Non-positive values are
// ignored.
func WithMaxIterations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// Tree is a dominator or post-dominator tree.
//
// The tree is itself a frozen program graph over the same node values as
// the source graph, with one edge idom(n) -> n per non-root node.
//
// Thread Safety: Safe for concurrent use after construction.
type Tree[T any] struct {
	graph *graph.ProgramGraph[T]
	kind  Kind
	root  int

	// idom maps node -> immediate dominator. The root maps to itself.
	idom map[int]int

	// depth maps node -> distance from the root.
	depth map[int]int

	iterations int
	converged  bool
}

// Compute builds the dominator tree of g.
//
// Description:
//
//	The root is g.Entry(). Only nodes reachable from the root are part of
//	the tree.
//
// Inputs:
//
//   - ctx: Used for tracing and logging. Checked for cancellation once per
//     iteration.
//   - g: A frozen graph with a designated or unique entry.
//   - opts: Optional settings such as WithMaxIterations.
//
// Outputs:
//
//   - *Tree[T]: The dominator tree.
//   - error: Non-nil if the graph is not usable or ctx is cancelled.
//
// Errors:
//
//	ErrGraphNotFrozen - g is nil or still in the Building state
//	graph.ErrNoEntry - g has no designated or unique entry
//
// Example:
//
//	tree, err := dominators.Compute(ctx, c.Graph())
//	if err != nil {
//	    return fmt.Errorf("dominators: %w", err)
//	}
//	below, err := tree.TransitiveSuccessors(0)
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(E) typical, O(V²) worst case.
func Compute[T any](ctx context.Context, g *graph.ProgramGraph[T], opts ...Option) (*Tree[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil || !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}

	ctx, span := dominatorTracer.Start(ctx, "dominators.Compute",
		trace.WithAttributes(
			attribute.Int("node_count", g.Len()),
			attribute.Int("edge_count", g.EdgeCount()),
		),
	)
	defer span.End()

	entry, err := g.Entry()
	if err != nil {
		span.AddEvent("entry_not_found")
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("entry", entry.Index))

	tree, err := solve(ctx, span, g, entry.Index, nil, Dominance, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanOK(span)
	return tree, nil
}

// ComputePostDominatorTree builds the post-dominator tree of g.
//
// Description:
//
//	Runs the dominator engine on g.Reversed(), rooted at graph.RootIndex.
//	When g's exit node already carries graph.RootIndex, as the EXIT of a
//	CFG does, that node is the root. Otherwise a synthetic root is added to
//	a copy of g with an edge from every sink. When g has an entry, nodes
//	unreachable from it are left out of the tree.
//
// Inputs:
//
//   - ctx: Used for tracing and logging.
//   - g: A frozen graph with at least one sink.
//   - opts: Optional settings such as WithMaxIterations.
//
// Outputs:
//
//   - *Tree[T]: The post-dominator tree. Root() == graph.RootIndex.
//   - error: Non-nil if the graph is not usable or ctx is cancelled.
//
// Errors:
//
//	ErrGraphNotFrozen - g is nil or still in the Building state
//	graph.ErrNoExit - g has no sink to attach the root to
//	graph.ErrDuplicateNode - g uses graph.RootIndex for a non-exit node
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(E) typical, O(V²) worst case.
func ComputePostDominatorTree[T any](ctx context.Context, g *graph.ProgramGraph[T], opts ...Option) (*Tree[T], error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil || !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}

	ctx, span := postDominatorTracer.Start(ctx, "dominators.ComputePostDominatorTree",
		trace.WithAttributes(
			attribute.Int("node_count", g.Len()),
			attribute.Int("edge_count", g.EdgeCount()),
		),
	)
	defer span.End()

	rooted, injected, err := withRoot(g)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("injected_root", injected))

	var allowed map[int]struct{}
	if entry, err := g.Entry(); err == nil {
		allowed = g.Reachable(entry.Index)
		allowed[graph.RootIndex] = struct{}{}
	}

	tree, err := solve(ctx, span, rooted.Reversed(), graph.RootIndex, allowed, PostDominance, opts)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetSpanOK(span)
	return tree, nil
}

// withRoot returns g itself when its exit is the root sentinel, or a frozen
// copy with an injected root that every sink flows into.
func withRoot[T any](g *graph.ProgramGraph[T]) (*graph.ProgramGraph[T], bool, error) {
	if exit, err := g.Exit(); err == nil && exit.Index == graph.RootIndex {
		return g, false, nil
	}

	sinks := g.Sinks()
	if len(sinks) == 0 {
		return nil, false, fmt.Errorf("%w: no node without successors", graph.ErrNoExit)
	}

	rooted := g.Clone()
	if _, err := rooted.AddNode(graph.NewSyntheticNode[T](graph.RootIndex)); err != nil {
		return nil, false, err
	}
	for _, sink := range sinks {
		if err := rooted.AddEdge(sink.Index, graph.RootIndex); err != nil {
			return nil, false, err
		}
	}
	if err := rooted.SetExit(graph.RootIndex); err != nil {
		return nil, false, err
	}
	rooted.Freeze()
	return rooted, true, nil
}

// solve runs the fixpoint over g from root and materializes the tree.
// A non-nil allowed set restricts the nodes the traversal may visit.
func solve[T any](
	ctx context.Context,
	span trace.Span,
	g *graph.ProgramGraph[T],
	root int,
	allowed map[int]struct{},
	kind Kind,
	opts []Option,
) (*Tree[T], error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	startTime := time.Now()
	logger := telemetry.LoggerWithTrace(ctx, slog.Default())

	if err := ctx.Err(); err != nil {
		span.AddEvent("context_cancelled_early")
		return nil, err
	}

	postOrder := reversePostorder(g, root, allowed)
	postIndex := make(map[int]int, len(postOrder))
	for i, index := range postOrder {
		postIndex[index] = i
	}
	span.AddEvent("postorder_complete", trace.WithAttributes(
		attribute.Int("reachable_nodes", len(postOrder)),
	))

	idom := make(map[int]int, len(postOrder))
	idom[root] = root

	changed := true
	iterations := 0
	for changed && iterations < o.maxIterations {
		if err := ctx.Err(); err != nil {
			span.AddEvent("context_cancelled", trace.WithAttributes(
				attribute.Int("iteration", iterations),
			))
			return nil, err
		}

		changed = false
		iterations++

		// Reverse postorder, root (last in postorder) excluded.
		for i := len(postOrder) - 2; i >= 0; i-- {
			index := postOrder[i]

			newIdom, found := 0, false
			for _, pred := range g.PredecessorIndices(index) {
				if _, ok := postIndex[pred]; !ok {
					continue
				}
				if _, ok := idom[pred]; !ok {
					continue
				}
				if !found {
					newIdom, found = pred, true
					continue
				}
				newIdom = intersect(idom, postIndex, pred, newIdom)
			}
			if !found {
				continue
			}

			if old, ok := idom[index]; !ok || old != newIdom {
				idom[index] = newIdom
				changed = true
			}
		}

		if iterations <= 10 || !changed {
			span.AddEvent("iteration_complete", trace.WithAttributes(
				attribute.Int("iteration", iterations),
				attribute.Bool("changed", changed),
			))
		}
		logger.Debug("dominators: iteration complete",
			slog.String("kind", kind.String()),
			slog.Int("iteration", iterations),
			slog.Bool("changed", changed),
		)
	}

	if changed {
		logger.Warn("dominators: did not converge",
			slog.String("kind", kind.String()),
			slog.Int("iterations", iterations),
			slog.Int("max_iterations", o.maxIterations),
		)
	}

	tree, err := materialize(g, root, kind, postOrder, idom)
	if err != nil {
		return nil, err
	}
	tree.iterations = iterations
	tree.converged = !changed

	span.AddEvent("algorithm_complete", trace.WithAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", tree.converged),
		attribute.Int("tree_nodes", tree.graph.Len()),
	))
	logger.Debug("dominators: analysis complete",
		slog.String("kind", kind.String()),
		slog.Int("root", root),
		slog.Int("iterations", iterations),
		slog.Bool("converged", tree.converged),
		slog.Int("tree_nodes", tree.graph.Len()),
		slog.Duration("duration", time.Since(startTime)),
	)

	return tree, nil
}

// reversePostorder returns the nodes reachable from root in postorder via
// iterative DFS. The root is always last.
func reversePostorder[T any](g *graph.ProgramGraph[T], root int, allowed map[int]struct{}) []int {
	type frame struct {
		index int
		next  int
	}

	visited := map[int]bool{root: true}
	postOrder := make([]int, 0, g.Len())
	stack := []frame{{index: root}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := g.SuccessorIndices(top.index)

		pushed := false
		for top.next < len(succs) {
			child := succs[top.next]
			top.next++
			if visited[child] {
				continue
			}
			if allowed != nil {
				if _, ok := allowed[child]; !ok {
					continue
				}
			}
			visited[child] = true
			stack = append(stack, frame{index: child})
			pushed = true
			break
		}

		if !pushed {
			postOrder = append(postOrder, top.index)
			stack = stack[:len(stack)-1]
		}
	}
	return postOrder
}

// intersect walks two fingers up the partial tree until they meet. Nodes
// closer to the root have higher postorder indices.
func intersect(idom, postIndex map[int]int, b1, b2 int) int {
	finger1, finger2 := b1, b2
	for finger1 != finger2 {
		for postIndex[finger1] < postIndex[finger2] {
			finger1 = idom[finger1]
		}
		for postIndex[finger2] < postIndex[finger1] {
			finger2 = idom[finger2]
		}
	}
	return finger1
}

// materialize turns the idom map into a frozen tree graph. Nodes are added
// in reverse postorder so every parent precedes its children.
func materialize[T any](g *graph.ProgramGraph[T], root int, kind Kind, postOrder []int, idom map[int]int) (*Tree[T], error) {
	tg := graph.New[T](graph.WithMaxNodes(len(postOrder)))
	depth := make(map[int]int, len(postOrder))

	for i := len(postOrder) - 1; i >= 0; i-- {
		index := postOrder[i]
		parent, ok := idom[index]
		if !ok {
			continue
		}
		node, _ := g.Node(index)
		if _, err := tg.AddNode(node); err != nil {
			return nil, fmt.Errorf("materialize %d: %w", index, err)
		}
		if index == root {
			depth[index] = 0
			continue
		}
		if err := tg.AddEdge(parent, index); err != nil {
			return nil, fmt.Errorf("materialize %d -> %d: %w", parent, index, err)
		}
		depth[index] = depth[parent] + 1
	}

	if err := tg.SetEntry(root); err != nil {
		return nil, err
	}
	tg.Freeze()

	return &Tree[T]{
		graph: tg,
		kind:  kind,
		root:  root,
		idom:  idom,
		depth: depth,
	}, nil
}

// Graph returns the tree as a frozen program graph.
func (t *Tree[T]) Graph() *graph.ProgramGraph[T] {
	return t.graph
}

// Kind returns whether t is a dominator or a post-dominator tree.
func (t *Tree[T]) Kind() Kind {
	return t.kind
}

// Root returns the index of the tree root.
func (t *Tree[T]) Root() int {
	return t.root
}

// Entry returns the root node.
func (t *Tree[T]) Entry() *graph.Node[T] {
	node, _ := t.graph.Node(t.root)
	return node
}

// Len returns the number of nodes in the tree.
func (t *Tree[T]) Len() int {
	return t.graph.Len()
}

// Iterations returns the number of fixpoint iterations performed.
func (t *Tree[T]) Iterations() int {
	return t.iterations
}

// Converged reports whether the fixpoint was reached within the iteration
// cap.
func (t *Tree[T]) Converged() bool {
	return t.converged
}

// ToDOT renders the tree in DOT format.
func (t *Tree[T]) ToDOT() string {
	return dot.Render(t.graph)
}

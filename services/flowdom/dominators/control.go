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
	"sort"
	"time"

	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Control Dependence
// =============================================================================

var controlDependenceTracer = otel.Tracer("flowdom.control_dependence")

// ControlDependence is the control dependence relation of a graph.
//
// A node B is control dependent on A if A has a successor from which every
// path to the exit passes through B, while A itself is not post-dominated
// by B. In other words, the branch taken at A decides whether B executes.
// Nodes that execute on every run are control dependent on the entry.
//
// Thread Safety: Safe for concurrent use after construction.
type ControlDependence struct {
	// dependencies maps node -> nodes it is control dependent on.
	dependencies map[int][]int

	// dependents maps node -> nodes control dependent on it.
	dependents map[int][]int

	edgeCount int
}

// ComputeControlDependence derives control dependence from g and its
// post-dominator tree.
//
// Description:
//
//	For every edge A -> S of a branching node A, walks the post-dominator
//	tree from S up to, but excluding, ipdom(A), marking each visited node
//	as control dependent on A. When g has an entry, the nodes on the
//	post-dominator path from ipdom(entry) up to the root are marked as
//	control dependent on the entry. Nodes outside pdt are ignored.
//
// Inputs:
//
//   - ctx: Used for tracing and logging.
//   - g: The frozen graph pdt was computed from.
//   - pdt: A post-dominator tree of g.
//
// Outputs:
//
//   - *ControlDependence: The relation. Never nil on success.
//   - error: Non-nil if the inputs are unusable.
//
// Errors:
//
//	ErrGraphNotFrozen - g is nil or not frozen
//	ErrWrongTreeKind - pdt is nil or not a post-dominator tree
//
// Example:
//
//	cd, err := dominators.ComputeControlDependence(ctx, c.Graph(), pdt)
//	controllers := cd.DependenciesOf(4)
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(E × depth) worst case.
func ComputeControlDependence[T any](ctx context.Context, g *graph.ProgramGraph[T], pdt *Tree[T]) (*ControlDependence, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil || !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}
	if pdt == nil || pdt.Kind() != PostDominance {
		return nil, fmt.Errorf("%w: control dependence needs a post-dominator tree", ErrWrongTreeKind)
	}

	startTime := time.Now()
	ctx, span := controlDependenceTracer.Start(ctx, "dominators.ComputeControlDependence",
		trace.WithAttributes(
			attribute.Int("node_count", g.Len()),
			attribute.Int("tree_nodes", pdt.Len()),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.AddEvent("context_cancelled_early")
		return nil, err
	}

	sets := make(map[int]map[int]struct{})
	mark := func(controller, controlled int) {
		if sets[controller] == nil {
			sets[controller] = make(map[int]struct{})
		}
		sets[controller][controlled] = struct{}{}
	}

	for _, node := range g.Nodes() {
		index := node.Index
		succs := g.SuccessorIndices(index)
		if len(succs) < 2 || !pdt.Contains(index) {
			continue
		}
		stop := pdt.idom[index]

		for _, succ := range succs {
			if !pdt.Contains(succ) {
				continue
			}
			for runner := succ; runner != stop; {
				mark(index, runner)
				parent := pdt.idom[runner]
				if parent == runner {
					break
				}
				runner = parent
			}
		}
	}

	if entry, err := g.Entry(); err == nil && pdt.Contains(entry.Index) && entry.Index != pdt.root {
		for runner := pdt.idom[entry.Index]; runner != pdt.root; runner = pdt.idom[runner] {
			mark(entry.Index, runner)
		}
	}

	result := &ControlDependence{
		dependencies: make(map[int][]int),
		dependents:   make(map[int][]int, len(sets)),
	}
	for controller, controlled := range sets {
		for index := range controlled {
			result.dependencies[index] = append(result.dependencies[index], controller)
			result.dependents[controller] = append(result.dependents[controller], index)
			result.edgeCount++
		}
	}
	for _, list := range result.dependencies {
		sort.Ints(list)
	}
	for _, list := range result.dependents {
		sort.Ints(list)
	}

	span.AddEvent("post_dominance_frontier_complete", trace.WithAttributes(
		attribute.Int("controllers", len(result.dependents)),
		attribute.Int("edges", result.edgeCount),
	))
	telemetry.SetSpanOK(span)

	telemetry.LoggerWithTrace(ctx, slog.Default()).Debug("control_dependence: analysis complete",
		slog.Int("controllers", len(result.dependents)),
		slog.Int("edges", result.edgeCount),
		slog.Duration("duration", time.Since(startTime)),
	)

	return result, nil
}

// DependenciesOf returns the nodes that control whether index executes, in
// ascending order. The result is nil when nothing controls it.
func (cd *ControlDependence) DependenciesOf(index int) []int {
	if cd == nil {
		return nil
	}
	return append([]int(nil), cd.dependencies[index]...)
}

// DependentsOf returns the nodes whose execution index controls, in
// ascending order.
func (cd *ControlDependence) DependentsOf(index int) []int {
	if cd == nil {
		return nil
	}
	return append([]int(nil), cd.dependents[index]...)
}

// IsController reports whether any node is control dependent on index.
func (cd *ControlDependence) IsController(index int) bool {
	return cd != nil && len(cd.dependents[index]) > 0
}

// EdgeCount returns the number of (controller, controlled) pairs.
func (cd *ControlDependence) EdgeCount() int {
	if cd == nil {
		return 0
	}
	return cd.edgeCount
}

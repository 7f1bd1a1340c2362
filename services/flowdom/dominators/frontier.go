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

	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Dominance Frontier
// =============================================================================

var dominanceFrontierTracer = otel.Tracer("flowdom.dominance_frontier")

// DominanceFrontier maps each node to the nodes where its dominance ends.
//
// Y is in DF(X) if X dominates a predecessor of Y but does not strictly
// dominate Y. For a post-dominator tree the relation is computed on the
// reversed graph, so DF(X) lists the branches X is control dependent on.
//
// Thread Safety: Safe for concurrent use after construction.
type DominanceFrontier struct {
	frontier map[int][]int

	// mergeCount maps node -> number of frontiers it appears in.
	mergeCount map[int]int
}

// ComputeDominanceFrontier computes the dominance frontier of every node in
// tree.
//
// Description:
//
//	For every join node (two or more predecessors in the tree), walks up
//	from each predecessor to the join node's immediate dominator, adding
//	the join node to the frontier of every node visited.
//
// Errors:
//
//	ErrGraphNotFrozen - g is nil or not frozen
//	ErrWrongTreeKind - tree is nil
//
// Thread Safety: Safe for concurrent use.
//
// Complexity: O(E × depth) worst case.
func ComputeDominanceFrontier[T any](ctx context.Context, g *graph.ProgramGraph[T], tree *Tree[T]) (*DominanceFrontier, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if g == nil || !g.IsFrozen() {
		return nil, ErrGraphNotFrozen
	}
	if tree == nil {
		return nil, fmt.Errorf("%w: nil tree", ErrWrongTreeKind)
	}

	ctx, span := dominanceFrontierTracer.Start(ctx, "dominators.ComputeDominanceFrontier",
		trace.WithAttributes(
			attribute.String("kind", tree.Kind().String()),
			attribute.Int("tree_nodes", tree.Len()),
		),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		span.AddEvent("context_cancelled_early")
		return nil, err
	}

	flow := g
	if tree.Kind() == PostDominance {
		flow = g.Reversed()
	}

	sets := make(map[int]map[int]struct{})
	for _, node := range flow.Nodes() {
		join := node.Index
		if !tree.Contains(join) {
			continue
		}

		preds := make([]int, 0, len(flow.PredecessorIndices(join)))
		for _, pred := range flow.PredecessorIndices(join) {
			if tree.Contains(pred) {
				preds = append(preds, pred)
			}
		}
		if len(preds) < 2 {
			continue
		}

		stop := tree.idom[join]
		for _, pred := range preds {
			for runner := pred; runner != stop; {
				if sets[runner] == nil {
					sets[runner] = make(map[int]struct{})
				}
				sets[runner][join] = struct{}{}
				parent := tree.idom[runner]
				if parent == runner {
					break
				}
				runner = parent
			}
		}
	}

	result := &DominanceFrontier{
		frontier:   make(map[int][]int, len(sets)),
		mergeCount: make(map[int]int),
	}
	total := 0
	for index, set := range sets {
		list := make([]int, 0, len(set))
		for join := range set {
			list = append(list, join)
			result.mergeCount[join]++
		}
		sort.Ints(list)
		result.frontier[index] = list
		total += len(list)
	}

	span.AddEvent("frontier_complete", trace.WithAttributes(
		attribute.Int("nodes_with_frontiers", len(result.frontier)),
		attribute.Int("total_frontier_entries", total),
	))
	telemetry.SetSpanOK(span)

	telemetry.LoggerWithTrace(ctx, slog.Default()).Debug("dominance_frontier: analysis complete",
		slog.String("kind", tree.Kind().String()),
		slog.Int("nodes_with_frontiers", len(result.frontier)),
		slog.Int("total_frontier_entries", total),
	)

	return result, nil
}

// Of returns the frontier of index in ascending order.
func (df *DominanceFrontier) Of(index int) []int {
	if df == nil {
		return nil
	}
	return append([]int(nil), df.frontier[index]...)
}

// IsMergePoint reports whether index is in the frontier of some node.
func (df *DominanceFrontier) IsMergePoint(index int) bool {
	return df != nil && df.mergeCount[index] > 0
}

// MergePointDegree returns the number of frontiers index appears in.
func (df *DominanceFrontier) MergePointDegree(index int) int {
	if df == nil {
		return 0
	}
	return df.mergeCount[index]
}

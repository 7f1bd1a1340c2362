// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/flowdom/services/flowdom/dot"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
)

// ErrUnknownView is returned by ParseView for an unsupported view name.
var ErrUnknownView = errors.New("unknown view")

// View selects which relation of a Result to render.
type View string

const (
	// ViewCFG renders the control-flow graph.
	ViewCFG View = "cfg"

	// ViewDominators renders the dominator tree.
	ViewDominators View = "dom"

	// ViewPostDominators renders the post-dominator tree.
	ViewPostDominators View = "postdom"

	// ViewControlDependence renders controller -> dependent edges.
	ViewControlDependence View = "cdg"
)

// Views lists every supported view in display order.
func Views() []View {
	return []View{ViewCFG, ViewDominators, ViewPostDominators, ViewControlDependence}
}

// ParseView resolves a view name, case-insensitively.
func ParseView(name string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Views() {
		if v == known {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, name)
}

// DOT renders the selected view in the canonical DOT form.
func (r *Result) DOT(view View) (string, error) {
	switch view {
	case ViewCFG:
		return r.CFG.ToDOT(), nil
	case ViewDominators:
		return r.Dominators.ToDOT(), nil
	case ViewPostDominators:
		return r.PostDominators.ToDOT(), nil
	case ViewControlDependence:
		return dot.Render(r.ControlDependenceGraph()), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownView, string(view))
	}
}

// ControlDependenceGraph returns the control dependence relation as a
// frozen graph with an edge from each controller to its dependents. Blocks
// left out of the post-dominator tree are left out of the graph.
func (r *Result) ControlDependenceGraph() *graph.ProgramGraph[Block] {
	g := graph.New[Block]()
	cfgGraph := r.CFG.Graph()

	for _, node := range cfgGraph.Nodes() {
		if !r.PostDominators.Contains(node.Index) || node.Index == graph.ExitIndex {
			continue
		}
		// Copy so the CFG's nodes are never shared with another graph.
		clone := *node
		_, _ = g.AddNode(&clone)
	}
	for _, node := range g.Nodes() {
		for _, controller := range r.ControlDependence.DependenciesOf(node.Index) {
			_ = g.AddEdge(controller, node.Index)
		}
	}
	g.Freeze()
	return g
}

// Dominated returns the blocks strictly dominated by index, or strictly
// post-dominated when post is true, in ascending order.
//
// Errors:
//
//	dominators.ErrUnreachableNode - index is not in the tree
func (r *Result) Dominated(index int, post bool) ([]int, error) {
	tree := r.Dominators
	if post {
		tree = r.PostDominators
	}
	return tree.TransitiveSuccessors(index)
}

// Summary describes the result in a few lines of plain text.
func (r *Result) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "listing:        %s\n", r.Name)
	fmt.Fprintf(&sb, "run:            %s\n", r.RunID)
	fmt.Fprintf(&sb, "fingerprint:    %016x\n", r.Fingerprint)
	fmt.Fprintf(&sb, "blocks:         %d\n", len(r.CFG.Blocks()))
	fmt.Fprintf(&sb, "edges:          %d\n", r.CFG.Graph().EdgeCount())
	fmt.Fprintf(&sb, "unreachable:    %v\n", r.CFG.Unreachable())
	fmt.Fprintf(&sb, "complexity:     %d\n", r.CFG.CyclomaticComplexity())
	fmt.Fprintf(&sb, "dom depth:      %d\n", r.Dominators.MaxDepth())
	fmt.Fprintf(&sb, "postdom depth:  %d\n", r.PostDominators.MaxDepth())
	fmt.Fprintf(&sb, "cd edges:       %d\n", r.ControlDependence.EdgeCount())

	merges := make([]int, 0)
	for _, block := range r.CFG.Blocks() {
		if r.DominanceFrontier.IsMergePoint(block.Index) {
			merges = append(merges, block.Index)
		}
	}
	sort.Ints(merges)
	fmt.Fprintf(&sb, "merge points:   %v\n", merges)
	fmt.Fprintf(&sb, "cached:         %t\n", r.Cached)
	return sb.String()
}

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

	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDominanceFrontier_ConditionalJump(t *testing.T) {
	c := buildCFG(t, conditionalJumpListing)
	dt, err := Compute(context.Background(), c.Graph())
	require.NoError(t, err)

	df, err := ComputeDominanceFrontier(context.Background(), c.Graph(), dt)
	require.NoError(t, err)

	assert.Equal(t, []int{3}, df.Of(1))
	assert.Equal(t, []int{3}, df.Of(2))
	assert.Empty(t, df.Of(0))
	assert.True(t, df.IsMergePoint(3))
	assert.Equal(t, 2, df.MergePointDegree(3))
	assert.False(t, df.IsMergePoint(1))
}

func TestComputeDominanceFrontier_ForLoop(t *testing.T) {
	c := buildCFG(t, forLoopListing)
	dt, err := Compute(context.Background(), c.Graph())
	require.NoError(t, err)

	df, err := ComputeDominanceFrontier(context.Background(), c.Graph(), dt)
	require.NoError(t, err)

	assert.Equal(t, []int{2}, df.Of(4))
	assert.Equal(t, []int{2}, df.Of(2), "loop header is in its own frontier")
}

func TestComputeDominanceFrontier_PostDominanceMatchesControlDependence(t *testing.T) {
	g := largerControlFlowGraph(t)
	pdt, err := ComputePostDominatorTree(context.Background(), g)
	require.NoError(t, err)

	pdf, err := ComputeDominanceFrontier(context.Background(), g, pdt)
	require.NoError(t, err)
	cd, err := ComputeControlDependence(context.Background(), g, pdt)
	require.NoError(t, err)

	// Control dependence additionally ties unconditional nodes to the entry.
	for _, node := range g.Nodes() {
		var branches []int
		for _, controller := range cd.DependenciesOf(node.Index) {
			if controller != graph.EntryIndex {
				branches = append(branches, controller)
			}
		}
		assert.Equal(t, branches, pdf.Of(node.Index), "node %s", node)
	}

	assert.Equal(t, []int{110}, pdf.Of(200))
	assert.Equal(t, []int{160}, pdf.Of(170))
}

func TestComputeDominanceFrontier_Errors(t *testing.T) {
	c := buildCFG(t, forLoopListing)

	_, err := ComputeDominanceFrontier[*int](context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrGraphNotFrozen)

	_, err = ComputeDominanceFrontier(context.Background(), c.Graph(), nil)
	assert.ErrorIs(t, err, ErrWrongTreeKind)

	var nilDF *DominanceFrontier
	assert.Nil(t, nilDF.Of(0))
	assert.False(t, nilDF.IsMergePoint(0))
	assert.Zero(t, nilDF.MergePointDegree(0))
}

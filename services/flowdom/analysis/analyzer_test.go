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
	"context"
	"math"
	"sync"
	"testing"

	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/AleutianAI/flowdom/services/flowdom/config"
	"github.com/AleutianAI/flowdom/services/flowdom/dominators"
	"github.com/AleutianAI/flowdom/services/flowdom/graph"
	"github.com/AleutianAI/flowdom/services/flowdom/listing"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func conditionalListing(name string) *listing.Listing {
	return &listing.Listing{
		Name: name,
		Instructions: []bytecode.Instruction{
			{Offset: 0, Kind: bytecode.OpCondJump, JumpTargets: []int{2, 3}},
			{Offset: 1, Kind: bytecode.OpJump, JumpTargets: []int{3}},
			{Offset: 2, Kind: bytecode.OpLinear},
			{Offset: 3, Kind: bytecode.OpReturn},
		},
	}
}

const conditionalControlDependenceDOT = `strict digraph  {
"ProgramGraphNode(3)";
"ProgramGraphNode(2)";
"ProgramGraphNode(1)";
"ProgramGraphNode(0)";
"ProgramGraphNode(-1)";
"ProgramGraphNode(0)" -> "ProgramGraphNode(2)";
"ProgramGraphNode(0)" -> "ProgramGraphNode(1)";
"ProgramGraphNode(-1)" -> "ProgramGraphNode(3)";
"ProgramGraphNode(-1)" -> "ProgramGraphNode(0)";
}
`

func newAnalyzer(t *testing.T, mutate func(*config.Config)) *Analyzer {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MaxIterations = 0

	a, err := New(cfg)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Nil(t, a)
}

func TestAnalyze_NilArguments(t *testing.T) {
	a := newAnalyzer(t, nil)

	//nolint:staticcheck // exercising nil context guard
	_, err := a.Analyze(nil, conditionalListing("c"))
	assert.ErrorIs(t, err, ErrNilContext)

	_, err = a.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilListing)
}

func TestAnalyze_Conditional(t *testing.T) {
	a := newAnalyzer(t, nil)

	res, err := a.Analyze(context.Background(), conditionalListing("conditional"))
	require.NoError(t, err)

	_, err = uuid.Parse(res.RunID)
	assert.NoError(t, err)
	assert.Equal(t, "conditional", res.Name)
	assert.False(t, res.Cached)
	assert.Len(t, res.CFG.Blocks(), 4)

	idom, err := res.Dominators.ImmediateDominator(3)
	require.NoError(t, err)
	assert.Equal(t, 0, idom)

	ipdom, err := res.PostDominators.ImmediateDominator(0)
	require.NoError(t, err)
	assert.Equal(t, 3, ipdom)

	assert.Equal(t, []int{0}, res.ControlDependence.DependenciesOf(1))
	assert.Equal(t, []int{0}, res.ControlDependence.DependenciesOf(2))
	assert.Equal(t, []int{-1}, res.ControlDependence.DependenciesOf(3))
	assert.Equal(t, []int{3}, res.DominanceFrontier.Of(1))
	assert.True(t, res.Dominators.Converged())
	assert.True(t, res.PostDominators.Converged())
}

func TestAnalyze_CacheHit(t *testing.T) {
	a := newAnalyzer(t, nil)
	ctx := context.Background()
	before := testutil.ToFloat64(analysesTotal.WithLabelValues("success", "cache"))

	first, err := a.Analyze(ctx, conditionalListing("first"))
	require.NoError(t, err)

	second, err := a.Analyze(ctx, conditionalListing("second"))
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.RunID, second.RunID)
	assert.Equal(t, "second", second.Name)
	assert.Equal(t, "first", first.Name, "cached entry is not modified")
	assert.Same(t, first.CFG, second.CFG)

	stats := a.CacheStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, before+1, testutil.ToFloat64(analysesTotal.WithLabelValues("success", "cache")))
}

func TestAnalyze_FingerprintCollisionBypassesCache(t *testing.T) {
	a := newAnalyzer(t, nil)
	ctx := context.Background()

	conditional, err := a.Analyze(ctx, conditionalListing("conditional"))
	require.NoError(t, err)

	straight := &listing.Listing{
		Name: "straight",
		Instructions: []bytecode.Instruction{
			{Offset: 0, Kind: bytecode.OpLinear},
			{Offset: 1, Kind: bytecode.OpReturn},
		},
	}
	// Plant the conditional result under the straight listing's key, as a
	// hash collision would.
	a.cache.Put(Fingerprint(straight), conditional)
	before := testutil.ToFloat64(fingerprintCollisions)

	res, err := a.Analyze(ctx, straight)
	require.NoError(t, err)

	assert.False(t, res.Cached)
	assert.NotEqual(t, conditional.RunID, res.RunID)
	assert.Equal(t, "straight", res.Name)
	assert.Len(t, res.CFG.Blocks(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(fingerprintCollisions))
}

func TestSameCode(t *testing.T) {
	base := conditionalListing("a")
	assert.True(t, sameCode(base, conditionalListing("renamed")))
	assert.True(t, sameCode(cloneCode(base), base))

	retargeted := conditionalListing("a")
	retargeted.Instructions[0].JumpTargets = []int{3, 2}
	assert.False(t, sameCode(base, retargeted))

	withHandler := conditionalListing("a")
	withHandler.Handlers = []int{2}
	assert.False(t, sameCode(base, withHandler))

	assert.False(t, sameCode(base, nil))

	// The stored copy does not alias the caller's slices.
	copied := cloneCode(base)
	base.Instructions[0].JumpTargets[0] = 1
	assert.Equal(t, 2, copied.Instructions[0].JumpTargets[0])
}

func TestAnalyze_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	a := newAnalyzer(t, nil)
	_, err := a.Analyze(context.Background(), conditionalListing("traced"))
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
	}
	assert.True(t, names["analysis.Analyze"])
	assert.True(t, names["cfg.FromBlocks"])
}

func TestAnalyze_CacheDisabled(t *testing.T) {
	a := newAnalyzer(t, func(c *config.Config) { c.CacheSize = 0 })
	ctx := context.Background()

	first, err := a.Analyze(ctx, conditionalListing("c"))
	require.NoError(t, err)
	second, err := a.Analyze(ctx, conditionalListing("c"))
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.False(t, second.Cached)
	assert.Equal(t, int64(0), a.CacheStats().Hits)
}

func TestAnalyze_Concurrent(t *testing.T) {
	a := newAnalyzer(t, nil)
	ctx := context.Background()

	const workers = 8
	results := make([]*Result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Analyze(ctx, conditionalListing("c"))
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, results[0].RunID, res.RunID)
	}
}

func TestAnalyze_Errors(t *testing.T) {
	t.Run("malformed listing", func(t *testing.T) {
		a := newAnalyzer(t, nil)
		l := &listing.Listing{
			Name: "bad",
			Instructions: []bytecode.Instruction{
				{Offset: 0, Kind: bytecode.OpJump, JumpTargets: []int{7}},
			},
		}

		res, err := a.Analyze(context.Background(), l)
		assert.ErrorIs(t, err, bytecode.ErrMalformedInput)
		assert.Nil(t, res)
		assert.Equal(t, 0, a.cache.Len(), "errors are not cached")
	})

	t.Run("too many nodes", func(t *testing.T) {
		a := newAnalyzer(t, func(c *config.Config) { c.MaxNodes = 3 })

		_, err := a.Analyze(context.Background(), conditionalListing("c"))
		assert.ErrorIs(t, err, graph.ErrMaxNodesExceeded)
	})

	t.Run("cancelled context", func(t *testing.T) {
		a := newAnalyzer(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := a.Analyze(ctx, conditionalListing("c"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestFingerprint(t *testing.T) {
	a := conditionalListing("a")
	b := conditionalListing("b")
	assert.Equal(t, Fingerprint(a), Fingerprint(b), "name does not contribute")

	b.Handlers = []int{2}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	c := conditionalListing("c")
	c.Instructions[0].JumpTargets = []int{3, 2}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c), "target order matters")
}

func TestParseView(t *testing.T) {
	for _, v := range Views() {
		parsed, err := ParseView(string(v))
		require.NoError(t, err)
		assert.Equal(t, v, parsed)
	}

	v, err := ParseView(" CDG ")
	require.NoError(t, err)
	assert.Equal(t, ViewControlDependence, v)

	_, err = ParseView("callgraph")
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestResult_DOT(t *testing.T) {
	a := newAnalyzer(t, nil)
	res, err := a.Analyze(context.Background(), conditionalListing("c"))
	require.NoError(t, err)

	out, err := res.DOT(ViewControlDependence)
	require.NoError(t, err)
	assert.Equal(t, conditionalControlDependenceDOT, out)

	out, err = res.DOT(ViewCFG)
	require.NoError(t, err)
	assert.Equal(t, res.CFG.ToDOT(), out)

	out, err = res.DOT(ViewPostDominators)
	require.NoError(t, err)
	assert.Equal(t, res.PostDominators.ToDOT(), out)

	out, err = res.DOT(ViewDominators)
	require.NoError(t, err)
	assert.Equal(t, res.Dominators.ToDOT(), out)

	_, err = res.DOT(View("heap"))
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestResult_Dominated(t *testing.T) {
	a := newAnalyzer(t, nil)
	res, err := a.Analyze(context.Background(), conditionalListing("c"))
	require.NoError(t, err)

	below, err := res.Dominated(0, false)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, math.MaxInt}, below)

	below, err = res.Dominated(3, true)
	require.NoError(t, err)
	assert.Equal(t, []int{-1, 0, 1, 2}, below)

	_, err = res.Dominated(99, false)
	assert.ErrorIs(t, err, dominators.ErrUnreachableNode)
}

func TestResult_Summary(t *testing.T) {
	a := newAnalyzer(t, nil)
	res, err := a.Analyze(context.Background(), conditionalListing("conditional"))
	require.NoError(t, err)

	summary := res.Summary()
	assert.Contains(t, summary, "listing:        conditional")
	assert.Contains(t, summary, "blocks:         4")
	assert.Contains(t, summary, "merge points:   [3]")
	assert.Contains(t, summary, "cached:         false")
}

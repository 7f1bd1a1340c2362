// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"sort"
	"strconv"

	"github.com/AleutianAI/flowdom/services/flowdom/analysis"
	"github.com/AleutianAI/flowdom/services/flowdom/dominators"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "1.0.0"

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable error code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// AnalyzeResponse is the body of POST /analyze.
//
// Tree and dependence maps are keyed by decimal node index. The synthetic
// ENTRY node is -1 and EXIT is the largest int.
type AnalyzeResponse struct {
	RunID       string `json:"run_id"`
	Name        string `json:"name"`
	Fingerprint string `json:"fingerprint"`
	Cached      bool   `json:"cached"`
	DurationMs  int64  `json:"duration_ms"`

	Blocks               []int `json:"blocks"`
	Unreachable          []int `json:"unreachable"`
	CyclomaticComplexity int   `json:"cyclomatic_complexity"`

	// ImmediateDominators maps node -> idom. The root maps to itself.
	ImmediateDominators map[string]int `json:"immediate_dominators"`

	// ImmediatePostDominators maps node -> ipdom. The root maps to itself.
	ImmediatePostDominators map[string]int `json:"immediate_post_dominators"`

	// ControlDependence maps node -> nodes it is control dependent on.
	ControlDependence map[string][]int `json:"control_dependence"`

	// DominanceFrontier maps node -> its dominance frontier. Nodes with an
	// empty frontier are omitted.
	DominanceFrontier map[string][]int `json:"dominance_frontier"`
}

// DominatedResponse is the body of POST /dominated.
type DominatedResponse struct {
	Node      int   `json:"node"`
	Post      bool  `json:"post"`
	Dominated []int `json:"dominated"`
}

func newAnalyzeResponse(res *analysis.Result) AnalyzeResponse {
	blocks := make([]int, 0, len(res.CFG.Blocks()))
	for _, b := range res.CFG.Blocks() {
		blocks = append(blocks, b.Index)
	}
	sort.Ints(blocks)

	resp := AnalyzeResponse{
		RunID:                   res.RunID,
		Name:                    res.Name,
		Fingerprint:             strconv.FormatUint(res.Fingerprint, 16),
		Cached:                  res.Cached,
		DurationMs:              res.Duration.Milliseconds(),
		Blocks:                  blocks,
		Unreachable:             res.CFG.Unreachable(),
		CyclomaticComplexity:    res.CFG.CyclomaticComplexity(),
		ImmediateDominators:     idomMap(res.Dominators),
		ImmediatePostDominators: idomMap(res.PostDominators),
		ControlDependence:       make(map[string][]int),
		DominanceFrontier:       make(map[string][]int),
	}
	if resp.Unreachable == nil {
		resp.Unreachable = []int{}
	}

	for _, node := range res.CFG.Graph().Nodes() {
		key := strconv.Itoa(node.Index)
		if deps := res.ControlDependence.DependenciesOf(node.Index); len(deps) > 0 {
			resp.ControlDependence[key] = deps
		}
		if df := res.DominanceFrontier.Of(node.Index); len(df) > 0 {
			resp.DominanceFrontier[key] = df
		}
	}
	return resp
}

func idomMap(tree *dominators.Tree[analysis.Block]) map[string]int {
	out := make(map[string]int, tree.Len())
	for _, node := range tree.Graph().Nodes() {
		idom, err := tree.ImmediateDominator(node.Index)
		if err != nil {
			continue
		}
		out[strconv.Itoa(node.Index)] = idom
	}
	return out
}

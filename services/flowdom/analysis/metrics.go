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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Analyses
// =============================================================================

var (
	// analysesTotal counts Analyze calls.
	// Labels: status (success, error), source (computed, cache)
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdom",
		Subsystem: "analysis",
		Name:      "runs_total",
		Help:      "Total analyses by status and source",
	}, []string{"status", "source"})

	// analysisDuration measures the wall time of a computed analysis.
	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowdom",
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "Time to build the CFG and all derived relations",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	// fixpointIterations tracks how many passes the dominator engine needed.
	// Labels: kind (dominance, post_dominance)
	fixpointIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flowdom",
		Subsystem: "dominators",
		Name:      "iterations",
		Help:      "Fixpoint iterations per dominator tree",
		Buckets:   []float64{1, 2, 3, 4, 5, 10, 25, 50, 100},
	}, []string{"kind"})

	// notConverged counts trees that hit the iteration cap.
	// Labels: kind
	notConverged = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flowdom",
		Subsystem: "dominators",
		Name:      "not_converged_total",
		Help:      "Dominator trees returned before reaching a fixpoint",
	}, []string{"kind"})

	// cfgBlocks tracks the number of basic blocks per analyzed unit.
	cfgBlocks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flowdom",
		Subsystem: "cfg",
		Name:      "blocks",
		Help:      "Basic blocks per analyzed unit",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	})

	// unreachableBlocks counts blocks with no path from the entry.
	unreachableBlocks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowdom",
		Subsystem: "cfg",
		Name:      "unreachable_blocks_total",
		Help:      "Total basic blocks unreachable from the entry",
	})

	// fingerprintCollisions counts cached results whose listing differed
	// from the requested one despite an equal fingerprint.
	fingerprintCollisions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flowdom",
		Subsystem: "analysis",
		Name:      "fingerprint_collisions_total",
		Help:      "Cache entries rejected because their listing did not match",
	})
)

func recordRun(status, source string) {
	analysesTotal.WithLabelValues(status, source).Inc()
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cfg

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("flowdom.cfg")

// Metrics for CFG construction.
var (
	buildLatency metric.Float64Histogram
	buildTotal   metric.Int64Counter
	nodesCreated metric.Int64Histogram
	edgesCreated metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"cfg_build_duration_seconds",
			metric.WithDescription("Duration of CFG construction"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"cfg_build_total",
			metric.WithDescription("Total number of CFG constructions"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesCreated, err = meter.Int64Histogram(
			"cfg_nodes_created",
			metric.WithDescription("Nodes per CFG, sentinels included"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		edgesCreated, err = meter.Int64Histogram(
			"cfg_edges_created",
			metric.WithDescription("Edges per CFG"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

// recordBuildMetrics records one FromBlocks call.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodeCount, edgeCount int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(attribute.Bool("success", success))
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)

	if success {
		nodesCreated.Record(ctx, int64(nodeCount))
		edgesCreated.Record(ctx, int64(edgeCount))
	}
}

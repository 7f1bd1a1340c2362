// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis runs the complete flowdom pipeline on a listing: basic
// block partitioning, CFG construction, dominator and post-dominator trees,
// control dependence, and the dominance frontier.
//
// Results are memoized by a structural fingerprint of the listing, so
// re-analyzing an unchanged listing (e.g. from the watch command) is a
// cache lookup.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/AleutianAI/flowdom/services/flowdom/bytecode"
	"github.com/AleutianAI/flowdom/services/flowdom/cache"
	"github.com/AleutianAI/flowdom/services/flowdom/cfg"
	"github.com/AleutianAI/flowdom/services/flowdom/config"
	"github.com/AleutianAI/flowdom/services/flowdom/dominators"
	"github.com/AleutianAI/flowdom/services/flowdom/listing"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "flowdom.analysis"

var (
	// ErrNilContext is returned when Analyze is called with a nil context.
	ErrNilContext = errors.New("analysis: nil context")

	// ErrNilListing is returned when Analyze is called without a listing.
	ErrNilListing = errors.New("analysis: nil listing")
)

// Block is the node payload of every graph in a Result.
type Block = *bytecode.BasicBlock

// Result holds every relation computed for one listing.
//
// A Result is immutable and may be shared between goroutines.
type Result struct {
	// RunID identifies the computation that produced the result. Cached
	// copies keep the RunID of the original run.
	RunID string

	// Name is the listing name.
	Name string

	// Fingerprint is the structural hash the result is cached under.
	Fingerprint uint64

	// Cached is true when the result was served from the cache.
	Cached bool

	// Duration is the wall time of the original computation.
	Duration time.Duration

	CFG               *cfg.CFG
	Dominators        *dominators.Tree[Block]
	PostDominators    *dominators.Tree[Block]
	ControlDependence *dominators.ControlDependence
	DominanceFrontier *dominators.DominanceFrontier

	// source is a private copy of the analyzed code, compared on cache hits.
	source *listing.Listing
}

// Analyzer runs analyses with a shared configuration and cache.
//
// Thread Safety: Safe for concurrent use.
type Analyzer struct {
	cfg    config.Config
	cache  *cache.LRU[uint64, *Result]
	logger *slog.Logger
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the base logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Analyzer. A CacheSize of zero disables memoization.
//
// Errors:
//
//	config.ErrInvalidConfig - cfg fails validation
func New(cfg config.Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Analyzer{
		cfg:    cfg,
		logger: slog.Default(),
	}
	if cfg.CacheSize > 0 {
		a.cache = cache.New[uint64, *Result](cfg.CacheSize)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Analyze computes every relation for l.
//
// # Description
//
// Partitions the listing into basic blocks and builds the CFG. The
// dominator and post-dominator trees are then computed concurrently; the
// dominance frontier follows the dominator tree and control dependence
// follows the post-dominator tree.
//
// # Inputs
//
//   - ctx: Cancels the computation. Must not be nil.
//   - l: The listing to analyze. Must not be nil.
//
// # Outputs
//
//   - *Result: Never nil on success.
//   - error: The first failure of any stage.
//
// # Errors
//
//	ErrNilContext, ErrNilListing - Missing arguments
//	bytecode.ErrMalformedInput - The listing cannot be partitioned
//	graph.ErrMaxNodesExceeded - More blocks than config.MaxNodes allows
//
// # Example
//
//	res, err := analyzer.Analyze(ctx, l)
//	if err != nil {
//	    return fmt.Errorf("analyze %s: %w", l.Name, err)
//	}
//	deps := res.ControlDependence.DependenciesOf(4)
func (a *Analyzer) Analyze(ctx context.Context, l *listing.Listing) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if l == nil {
		return nil, ErrNilListing
	}

	fp := Fingerprint(l)
	ctx, span := telemetry.StartSpan(ctx, tracerName, "analysis.Analyze",
		trace.WithAttributes(
			attribute.String("listing", l.Name),
			attribute.Int("instructions", len(l.Instructions)),
			attribute.String("fingerprint", strconv.FormatUint(fp, 16)),
		),
	)
	defer span.End()

	logger := telemetry.LoggerWithTrace(ctx, a.logger)

	if a.cache == nil {
		res, err := a.run(ctx, l, fp)
		if err != nil {
			recordRun("error", "computed")
			telemetry.RecordError(span, err)
			return nil, err
		}
		recordRun("success", "computed")
		telemetry.SetSpanOK(span)
		return res, nil
	}

	res, hit, err := a.cache.GetOrCompute(ctx, fp, func(ctx context.Context) (*Result, error) {
		return a.run(ctx, l, fp)
	})
	if err != nil {
		recordRun("error", "computed")
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !sameCode(res.source, l) {
		span.AddEvent("fingerprint_collision")
		fingerprintCollisions.Inc()
		logger.Warn("analysis: fingerprint collision, computing without cache",
			slog.String("listing", l.Name),
			slog.String("cached_listing", res.source.Name),
		)
		res, err = a.run(ctx, l, fp)
		if err != nil {
			recordRun("error", "computed")
			telemetry.RecordError(span, err)
			return nil, err
		}
		recordRun("success", "computed")
		telemetry.SetSpanOK(span)
		return res, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", hit))
	telemetry.SetSpanOK(span)

	if !hit {
		recordRun("success", "computed")
		return res, nil
	}

	recordRun("success", "cache")
	logger.Debug("analysis: cache hit",
		slog.String("listing", l.Name),
		slog.String("run_id", res.RunID),
	)
	cached := *res
	cached.Cached = true
	cached.Name = l.Name
	return &cached, nil
}

// CacheStats returns the cache counters. All zero when caching is disabled.
func (a *Analyzer) CacheStats() cache.Stats {
	if a.cache == nil {
		return cache.Stats{}
	}
	return a.cache.Stats()
}

// Config returns the configuration the analyzer was created with.
func (a *Analyzer) Config() config.Config {
	return a.cfg
}

func (a *Analyzer) run(ctx context.Context, l *listing.Listing, fp uint64) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:       uuid.NewString(),
		Name:        l.Name,
		Fingerprint: fp,
		source:      cloneCode(l),
	}
	logger := telemetry.LoggerWithTrace(ctx, a.logger).With(
		slog.String("listing", l.Name),
		slog.String("run_id", res.RunID),
	)

	blocks, err := l.Blocks()
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", l.Name, err)
	}

	c, err := cfg.FromBlocks(ctx, blocks, cfg.WithMaxNodes(a.cfg.MaxNodes))
	if err != nil {
		return nil, fmt.Errorf("build cfg: %w", err)
	}
	res.CFG = c
	cfgBlocks.Observe(float64(len(blocks)))
	unreachableBlocks.Add(float64(len(c.Unreachable())))

	g := c.Graph()
	treeOpts := []dominators.Option{dominators.WithMaxIterations(a.cfg.MaxIterations)}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		tree, err := dominators.Compute(egCtx, g, treeOpts...)
		if err != nil {
			return fmt.Errorf("dominator tree: %w", err)
		}
		df, err := dominators.ComputeDominanceFrontier(egCtx, g, tree)
		if err != nil {
			return fmt.Errorf("dominance frontier: %w", err)
		}
		res.Dominators = tree
		res.DominanceFrontier = df
		return nil
	})
	eg.Go(func() error {
		pdt, err := dominators.ComputePostDominatorTree(egCtx, g, treeOpts...)
		if err != nil {
			return fmt.Errorf("post-dominator tree: %w", err)
		}
		cd, err := dominators.ComputeControlDependence(egCtx, g, pdt)
		if err != nil {
			return fmt.Errorf("control dependence: %w", err)
		}
		res.PostDominators = pdt
		res.ControlDependence = cd
		return nil
	})
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for _, tree := range []*dominators.Tree[Block]{res.Dominators, res.PostDominators} {
		kind := tree.Kind().String()
		fixpointIterations.WithLabelValues(kind).Observe(float64(tree.Iterations()))
		if !tree.Converged() {
			notConverged.WithLabelValues(kind).Inc()
		}
	}

	res.Duration = time.Since(start)
	analysisDuration.Observe(res.Duration.Seconds())

	logger.Info("analysis: complete",
		slog.Int("blocks", len(blocks)),
		slog.Int("unreachable", len(c.Unreachable())),
		slog.Int("cd_edges", res.ControlDependence.EdgeCount()),
		slog.Duration("duration", res.Duration),
	)
	return res, nil
}

// Fingerprint hashes the control-flow structure of l: instruction offsets,
// kinds, jump targets, and handlers. The name is not part of it, so two
// listings with the same structure share a fingerprint.
func Fingerprint(l *listing.Listing) uint64 {
	d := xxhash.New()
	buf := make([]byte, 0, 64)
	for _, inst := range l.Instructions {
		buf = buf[:0]
		buf = strconv.AppendInt(buf, int64(inst.Offset), 10)
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, int64(inst.Kind), 10)
		for _, target := range inst.JumpTargets {
			buf = append(buf, ',')
			buf = strconv.AppendInt(buf, int64(target), 10)
		}
		buf = append(buf, ';')
		_, _ = d.Write(buf)
	}
	_, _ = d.WriteString("handlers")
	for _, h := range l.Handlers {
		buf = strconv.AppendInt(buf[:0], int64(h), 10)
		buf = append(buf, ';')
		_, _ = d.Write(buf)
	}
	return d.Sum64()
}

// cloneCode copies the parts of l that Fingerprint covers.
func cloneCode(l *listing.Listing) *listing.Listing {
	instructions := make([]bytecode.Instruction, len(l.Instructions))
	for i, inst := range l.Instructions {
		inst.JumpTargets = slices.Clone(inst.JumpTargets)
		instructions[i] = inst
	}
	return &listing.Listing{
		Name:         l.Name,
		Instructions: instructions,
		Handlers:     slices.Clone(l.Handlers),
	}
}

// sameCode reports whether a and b agree on everything Fingerprint covers.
func sameCode(a, b *listing.Listing) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.Instructions) != len(b.Instructions) || !slices.Equal(a.Handlers, b.Handlers) {
		return false
	}
	for i := range a.Instructions {
		x, y := a.Instructions[i], b.Instructions[i]
		if x.Offset != y.Offset || x.Kind != y.Kind || !slices.Equal(x.JumpTargets, y.JumpTargets) {
			return false
		}
	}
	return true
}

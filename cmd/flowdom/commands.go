// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/AleutianAI/flowdom/pkg/logging"
	"github.com/AleutianAI/flowdom/services/flowdom/analysis"
	"github.com/AleutianAI/flowdom/services/flowdom/config"
	"github.com/AleutianAI/flowdom/services/flowdom/listing"
	"github.com/AleutianAI/flowdom/services/flowdom/telemetry"
	"github.com/spf13/cobra"
)

// app holds the state shared by all commands of one invocation.
type app struct {
	out    io.Writer
	errOut io.Writer

	// Persistent flags.
	configPath     string
	logLevel       string
	logFormat      string
	logDir         string
	traceExporter  string
	metricExporter string

	cfg      config.Config
	logger   *logging.Logger
	analyzer *analysis.Analyzer
	shutdown func(context.Context) error
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

// setup loads configuration and wires logging, telemetry, and the analyzer.
func (a *app) setup(cmd *cobra.Command) error {
	cfg := config.Default()
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.logFormat
	}
	if flags.Changed("log-dir") {
		cfg.LogDir = a.logDir
	}
	if flags.Changed("trace") {
		cfg.TraceExporter = a.traceExporter
	}
	if flags.Changed("metrics") {
		cfg.MetricExporter = a.metricExporter
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Config{
		Level:   cfg.SlogLevel(),
		Format:  cfg.LogFormat,
		Writer:  a.errOut,
		LogDir:  cfg.LogDir,
		Service: "flowdom",
	})
	slog.SetDefault(a.logger.Slog())

	tcfg := telemetry.DefaultConfig()
	tcfg.TraceExporter = cfg.TraceExporter
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.OTLPInsecure = cfg.OTLPInsecure
	tcfg.MetricExporter = cfg.MetricExporter
	tcfg.Writer = a.errOut
	shutdown, err := telemetry.Init(cmd.Context(), tcfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	a.shutdown = shutdown

	analyzer, err := analysis.New(cfg, analysis.WithLogger(a.logger.Slog()))
	if err != nil {
		return err
	}
	a.analyzer = analyzer
	return nil
}

// close flushes telemetry and closes the log file. Safe to call when setup
// never ran.
func (a *app) close() {
	if a.shutdown != nil {
		if err := a.shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
		a.shutdown = nil
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// analyzeFile loads and analyzes the listing at path.
func (a *app) analyzeFile(ctx context.Context, path string) (*analysis.Result, error) {
	l, err := listing.Load(path)
	if err != nil {
		return nil, err
	}
	return a.analyzer.Analyze(ctx, l)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "flowdom",
		Short: "Control-flow graphs, dominator trees, and control dependence",
		Long: `flowdom partitions instruction listings into basic blocks, builds their
control-flow graph, and computes dominator and post-dominator trees,
control dependence, and dominance frontiers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "Path to a YAML configuration file")
	pf.StringVar(&a.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&a.logFormat, "log-format", "auto", "Log format: text, json, auto")
	pf.StringVar(&a.logDir, "log-dir", "", "Also write JSON logs to this directory")
	pf.StringVar(&a.traceExporter, "trace", "none", "Trace exporter: none, stdout, otlp")
	pf.StringVar(&a.metricExporter, "metrics", "none", "OTel metric exporter: none, stdout, prometheus")

	root.AddCommand(
		newAnalyzeCmd(a),
		newDotCmd(a),
		newDominatedCmd(a),
		newDepsCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
	)
	return root
}

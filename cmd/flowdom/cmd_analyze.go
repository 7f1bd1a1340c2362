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
	"fmt"
	"strings"

	"github.com/AleutianAI/flowdom/services/flowdom/analysis"
	"github.com/spf13/cobra"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <listing.yaml>",
		Short: "Print a summary of the CFG, both trees, and control dependence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.analyzeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), res.Summary())
			return err
		},
	}
}

func newDotCmd(a *app) *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "dot <listing.yaml>",
		Short: "Render a graph of the listing in DOT format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := analysis.ParseView(view)
			if err != nil {
				return err
			}
			res, err := a.analyzeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := res.DOT(v)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().StringVar(&view, "view", string(analysis.ViewCFG), viewUsage())
	return cmd
}

func newDominatedCmd(a *app) *cobra.Command {
	var (
		node int
		post bool
	)
	cmd := &cobra.Command{
		Use:   "dominated <listing.yaml>",
		Short: "List the blocks strictly dominated by a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.analyzeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			dominated, err := res.Dominated(node, post)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), joinInts(dominated))
			return err
		},
	}
	cmd.Flags().IntVar(&node, "node", 0, "Block index (-1 is ENTRY)")
	cmd.Flags().BoolVar(&post, "post", false, "Use the post-dominator tree")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func newDepsCmd(a *app) *cobra.Command {
	var node int
	cmd := &cobra.Command{
		Use:   "deps <listing.yaml>",
		Short: "Show the control dependencies of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.analyzeFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !res.PostDominators.Contains(node) {
				return fmt.Errorf("node %d is not reachable from the entry", node)
			}
			cd := res.ControlDependence
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "depends on: %s\n", joinInts(cd.DependenciesOf(node)))
			_, err = fmt.Fprintf(out, "controls:   %s\n", joinInts(cd.DependentsOf(node)))
			return err
		},
	}
	cmd.Flags().IntVar(&node, "node", 0, "Block index (-1 is ENTRY)")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func viewUsage() string {
	names := make([]string, 0, len(analysis.Views()))
	for _, v := range analysis.Views() {
		names = append(names, string(v))
	}
	return "View to render: " + strings.Join(names, ", ")
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, " ")
}

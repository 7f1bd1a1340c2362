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
	"sync"

	"github.com/AleutianAI/flowdom/services/flowdom/analysis"
	"github.com/AleutianAI/flowdom/services/flowdom/listing"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var view string
	cmd := &cobra.Command{
		Use:   "watch <listing.yaml>",
		Short: "Re-render a view every time the listing changes",
		Long: `Renders the view once, then again after every change to the listing
file until interrupted. Invalid edits are logged and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := analysis.ParseView(view)
			if err != nil {
				return err
			}
			return a.watch(cmd.Context(), args[0], v, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&view, "view", string(analysis.ViewCFG), viewUsage())
	return cmd
}

func (a *app) watch(ctx context.Context, path string, view analysis.View, out io.Writer) error {
	var mu sync.Mutex
	render := func(ctx context.Context, l *listing.Listing) error {
		res, err := a.analyzer.Analyze(ctx, l)
		if err != nil {
			return err
		}
		text, err := res.DOT(view)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprint(out, text)
		return err
	}

	l, err := listing.Load(path)
	if err != nil {
		return err
	}
	if err := render(ctx, l); err != nil {
		return err
	}

	w, err := listing.NewWatcher(path, func(ctx context.Context, l *listing.Listing, err error) {
		if err == nil {
			err = render(ctx, l)
		}
		if err != nil {
			slog.Warn("watch: skipping update", slog.String("path", path), slog.String("error", err.Error()))
		}
	}, listing.WithLogger(a.logger.Slog()))
	if err != nil {
		return err
	}
	defer w.Stop()

	if err := w.Start(ctx); err != nil {
		return err
	}
	slog.Info("watch: watching listing", slog.String("path", w.Path()), slog.String("view", string(view)))

	<-ctx.Done()
	return nil
}

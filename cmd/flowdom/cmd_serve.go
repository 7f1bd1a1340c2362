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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/flowdom/services/flowdom/api"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var (
		listen string
		debug  bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyses over HTTP",
		Long: `Starts the HTTP API (POST /v1/flowdom/analyze, /dot, /dominated) and the
Prometheus /metrics endpoint. Stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				gin.SetMode(gin.DebugMode)
			} else {
				gin.SetMode(gin.ReleaseMode)
			}

			serverCfg := a.cfg.Server
			if cmd.Flags().Changed("listen") {
				serverCfg.ListenAddr = listen
			}

			srv := &http.Server{
				Addr:              serverCfg.ListenAddr,
				Handler:           api.NewRouter(a.analyzer, serverCfg),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return serveUntilDone(cmd.Context(), srv)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address, overrides server.listen_addr")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable gin debug mode")
	return cmd
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting flowdom server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down flowdom server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

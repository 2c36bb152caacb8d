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
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/mctsr/services/mctsr/api"
	"github.com/AleutianAI/mctsr/services/mctsr/config"
	"github.com/AleutianAI/mctsr/services/mctsr/search"
	"github.com/AleutianAI/mctsr/services/mctsr/solver"
	"github.com/AleutianAI/mctsr/services/mctsr/telemetry"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves the solve and runs endpoints over HTTP.

When started with --config, edits to the file's search and server
sections apply to the next request. Responder, store and telemetry
settings are read once at startup.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				root.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), root)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, e.g. 127.0.0.1:8088")
	return cmd
}

func runServe(ctx context.Context, root *rootOptions) error {
	cfg := root.cfg
	logger := root.logger.Slog()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetryConfig(root))
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.WithoutCancel(ctx)) }()

	r, err := root.newResponder(cfg.Responder, logger)
	if err != nil {
		return err
	}
	st, err := root.openStore(true)
	if err != nil {
		return err
	}
	defer st.Close()

	settings := api.Settings(func() config.FullConfig { return cfg })
	if root.configPath != "" {
		watcher, err := config.NewWatcher(root.configPath, cfg, nil, logger)
		if err != nil {
			return err
		}
		defer watcher.Stop()
		go watcher.Start(ctx)
		settings = func() config.FullConfig {
			current := watcher.Current()
			current.Server.Addr = cfg.Server.Addr
			return current
		}
	}

	var metrics http.Handler
	if cfg.Observability.MetricsExporter == "prometheus" {
		metrics = telemetry.MetricsHandler()
	}

	sv := solver.New(r,
		solver.WithStore(st),
		solver.WithLogger(logger),
		solver.WithObserver(search.NewObserver(logger, cfg.Observability.TracingEnabled)))
	server, err := api.NewServer(api.Deps{
		Solver:   sv,
		Store:    st,
		Settings: settings,
		Metrics:  metrics,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.Router(cfg.Observability.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting mctsr API", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down mctsr API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

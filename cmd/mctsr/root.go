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
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/mctsr/pkg/logging"
	"github.com/AleutianAI/mctsr/services/mctsr/config"
	"github.com/AleutianAI/mctsr/services/mctsr/responder"
	"github.com/AleutianAI/mctsr/services/mctsr/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// responderFactory builds the Responder for a command. Tests replace it.
type responderFactory func(cfg config.ResponderConfig, logger *slog.Logger) (responder.Responder, error)

// rootOptions is state shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg          config.FullConfig
	logger       *logging.Logger
	newResponder responderFactory
}

func newRootCmd() *cobra.Command {
	return newRootCmdWithOptions(&rootOptions{newResponder: config.NewResponder})
}

func newRootCmdWithOptions(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mctsr",
		Short: "Monte Carlo Tree Self-Refine answer search",
		Long: `mctsr improves an answer to a problem by building a tree of candidate
answers. Each rollout picks a promising node, asks the model to critique
and rewrite it, scores the rewrite and propagates the score upward.

Configuration comes from --config (YAML or JSON), then MCTSR_* environment
variables, then command flags.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return opts.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", os.Getenv("MCTSR_CONFIG"), "config file (YAML or JSON)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")

	cmd.AddCommand(newSolveCmd(opts), newServeCmd(opts), newRunsCmd(opts))
	return cmd
}

// load reads configuration and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}
	if o.logLevel != "" {
		cfg.Observability.LogLevel = o.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Observability.LogJSON = o.logJSON
	}

	level, err := logging.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Observability.LogDir,
		Service: cfg.Observability.ServiceName,
		JSON:    cfg.Observability.LogJSON,
		Writer:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(o.logger.Slog())
	return nil
}

func (o *rootOptions) close() error {
	if o.logger == nil {
		return nil
	}
	return o.logger.Close()
}

// openStore opens the configured run store. gc enables background value
// log collection, which only long-running commands want.
func (o *rootOptions) openStore(gc bool) (*store.RunStore, error) {
	sc := o.cfg.Store
	cfg := store.DefaultConfig(sc.Path)
	cfg.InMemory = sc.InMemory
	cfg.RunTTL = sc.RunTTL
	cfg.Logger = o.logger.Slog()
	cfg.GCInterval = 0
	if gc {
		cfg.GCInterval = sc.GCInterval
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open run store at %s: %w", sc.Path, err)
	}
	return st, nil
}

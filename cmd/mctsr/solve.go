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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/mctsr/pkg/ux"
	"github.com/AleutianAI/mctsr/services/mctsr/search"
	"github.com/AleutianAI/mctsr/services/mctsr/solver"
	"github.com/AleutianAI/mctsr/services/mctsr/store"
	"github.com/AleutianAI/mctsr/services/mctsr/telemetry"
)

type solveOptions struct {
	rollouts    int
	policy      string
	exploration float64
	maxChildren int
	samples     int
	seed        uint64
	workers     int

	backend string
	model   string
	baseURL string

	problemFile string
	noStore     bool
	showTree    bool
	dotPath     string
	jsonOutput  bool
	quiet       bool
}

func newSolveCmd(root *rootOptions) *cobra.Command {
	opts := &solveOptions{}
	cmd := &cobra.Command{
		Use:   "solve [problem...]",
		Short: "Search for the best answer to a problem",
		Long: `Runs a search for the given problem and prints the best answer found.

The problem is taken from the arguments, from --problem-file, or from
stdin when the only argument is "-".

Examples:
  mctsr solve "Prove that the square root of 2 is irrational."
  mctsr solve --rollouts 16 --policy pairwise-importance-sampling -f problem.txt
  echo "What is 17*23?" | mctsr solve - --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSolve(cmd, root, opts, args)
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.rollouts, "rollouts", "n", 0, "number of rollouts")
	f.StringVarP(&opts.policy, "policy", "p", "", "selection policy: greedy, importance-sampling, pairwise-importance-sampling")
	f.Float64Var(&opts.exploration, "exploration", 0, "UCT exploration constant")
	f.IntVar(&opts.maxChildren, "max-children", 0, "children before a node counts as fully expanded")
	f.IntVar(&opts.samples, "samples", 0, "reward samples per evaluation")
	f.Uint64Var(&opts.seed, "seed", 0, "random seed for the sampling policies (0 picks one)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "parallel rollout workers (1 runs sequentially)")
	f.StringVar(&opts.backend, "backend", "", "responder backend: openai or ollama")
	f.StringVar(&opts.model, "model", "", "model name")
	f.StringVar(&opts.baseURL, "base-url", "", "backend endpoint override")
	f.StringVarP(&opts.problemFile, "problem-file", "f", "", "read the problem from a file")
	f.BoolVar(&opts.noStore, "no-store", false, "do not save the run")
	f.BoolVar(&opts.showTree, "tree", false, "print the search tree")
	f.StringVar(&opts.dotPath, "dot", "", "write the tree as Graphviz DOT to a file (- for stdout)")
	f.BoolVar(&opts.jsonOutput, "json", false, "print the run as JSON")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "no progress output")
	return cmd
}

// applyFlags overlays changed flags onto the loaded configuration.
func (o *solveOptions) applyFlags(cmd *cobra.Command, root *rootOptions) {
	f := cmd.Flags()
	sc := &root.cfg.Search
	if f.Changed("rollouts") {
		sc.MaxRollouts = o.rollouts
	}
	if f.Changed("policy") {
		sc.SelectionPolicy = o.policy
	}
	if f.Changed("exploration") {
		sc.ExplorationConstant = o.exploration
	}
	if f.Changed("max-children") {
		sc.MaxChildren = o.maxChildren
	}
	if f.Changed("samples") {
		sc.NumRewardSamples = o.samples
	}
	if f.Changed("seed") {
		sc.Seed = o.seed
	}
	if f.Changed("workers") {
		sc.Workers = o.workers
	}

	rc := &root.cfg.Responder
	if f.Changed("backend") {
		rc.Backend = o.backend
	}
	if f.Changed("model") {
		rc.Model = o.model
	}
	if f.Changed("base-url") {
		rc.BaseURL = o.baseURL
	}
}

func readProblem(cmd *cobra.Command, opts *solveOptions, args []string) (string, error) {
	var problem string
	switch {
	case opts.problemFile != "":
		data, err := os.ReadFile(opts.problemFile)
		if err != nil {
			return "", fmt.Errorf("read problem file: %w", err)
		}
		problem = string(data)
	case len(args) == 1 && args[0] == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read problem from stdin: %w", err)
		}
		problem = string(data)
	default:
		problem = strings.Join(args, " ")
	}
	problem = strings.TrimSpace(problem)
	if problem == "" {
		return "", errors.New("no problem given: pass it as arguments, with --problem-file, or on stdin with -")
	}
	return problem, nil
}

func runSolve(cmd *cobra.Command, root *rootOptions, opts *solveOptions, args []string) error {
	problem, err := readProblem(cmd, opts, args)
	if err != nil {
		return err
	}
	opts.applyFlags(cmd, root)
	if err := root.cfg.Validate(); err != nil {
		return err
	}
	cfg, err := root.cfg.ToSearchConfig()
	if err != nil {
		return err
	}
	logger := root.logger.Slog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A one-shot command has nothing to scrape, so Prometheus is skipped.
	tcfg := telemetryConfig(root)
	if tcfg.MetricExporter == "prometheus" {
		tcfg.MetricExporter = "none"
	}
	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.WithoutCancel(ctx)) }()

	r, err := root.newResponder(root.cfg.Responder, logger)
	if err != nil {
		return err
	}

	solverOpts := []solver.Option{
		solver.WithLogger(logger),
		solver.WithObserver(search.NewObserver(logger, root.cfg.Observability.TracingEnabled)),
	}
	if !opts.noStore {
		st, err := root.openStore(false)
		if err != nil {
			return err
		}
		defer st.Close()
		solverOpts = append(solverOpts, solver.WithStore(st))
	}

	progress := ux.NewPrinter(cmd.ErrOrStderr())
	req := solver.Request{
		Problem: problem,
		Config:  cfg,
		Prompts: root.cfg.Search.Prompts,
		Workers: root.cfg.Search.Workers,
	}
	if !opts.quiet && !opts.jsonOutput {
		req.Progress = progress.Progress
	}

	res, runErr := solver.New(r, solverOpts...).Solve(ctx, req)
	if res == nil {
		return runErr
	}
	if err := writeResult(cmd, opts, res.Run); err != nil {
		return err
	}
	return runErr
}

func writeResult(cmd *cobra.Command, opts *solveOptions, run *store.Run) error {
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	p := ux.NewPrinter(out)
	printRun(p, run, opts.showTree)

	if opts.dotPath != "" && run.Tree != nil {
		dot, err := run.Tree.ToDot()
		if err != nil {
			return err
		}
		if opts.dotPath == "-" {
			_, err = io.WriteString(out, dot)
			return err
		}
		if err := os.WriteFile(opts.dotPath, []byte(dot), 0o644); err != nil {
			return fmt.Errorf("write dot file: %w", err)
		}
		p.Success("tree written to " + opts.dotPath)
	}
	return nil
}

// printRun renders a stored or just-finished run.
func printRun(p *ux.Printer, run *store.Run, showTree bool) {
	p.Title("MCTSr")
	switch run.Status {
	case store.RunSucceeded:
		p.Box("Answer", run.Answer)
	case store.RunFailed:
		p.ErrorBox("Search failed", run.Error)
	default:
		p.Warning("run is still in progress")
	}
	p.Field("run id", run.ID)
	p.Field("best q", fmt.Sprintf("%.2f", run.BestQ))
	p.Field("rollouts", fmt.Sprintf("%d/%d", run.Rollouts, run.Config.MaxRollouts))
	if run.Tree != nil {
		p.Field("nodes", run.Tree.Nodes)
		p.Field("max depth", run.Tree.MaxDepth)
	}
	if !run.FinishedAt.IsZero() {
		p.Field("elapsed", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond).String())
	}
	if showTree && run.Tree != nil {
		p.Box("Tree", strings.TrimRight(run.Tree.Format(), "\n"))
	}
}

func telemetryConfig(root *rootOptions) telemetry.Config {
	oc := root.cfg.Observability
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceName = oc.ServiceName
	tcfg.ServiceVersion = version
	tcfg.TraceExporter = oc.TraceExporter
	if !oc.TracingEnabled {
		tcfg.TraceExporter = "none"
	}
	tcfg.MetricExporter = oc.MetricsExporter
	tcfg.OTLPEndpoint = oc.OTLPEndpoint
	tcfg.SampleRate = oc.SampleRate
	return tcfg
}

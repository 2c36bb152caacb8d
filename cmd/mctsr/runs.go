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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/mctsr/pkg/ux"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored runs",
		Long: `Lists and shows runs saved by "mctsr solve" and "mctsr serve".

The store is a BadgerDB directory that only one process can open at a
time, so stop a running server before using these commands on its store.`,
	}
	cmd.AddCommand(newRunsListCmd(root), newRunsShowCmd(root), newRunsDeleteCmd(root))
	return cmd
}

func newRunsListCmd(root *rootOptions) *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := root.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return json.NewEncoder(out).Encode(runs)
			}
			if len(runs) == 0 {
				ux.NewPrinter(out).Warning("no stored runs")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tBEST Q\tROLLOUTS\tSTARTED\tPROBLEM")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\t%s\t%s\n",
					r.ID, r.Status, r.BestQ, r.Rollouts,
					r.StartedAt.Local().Format("2006-01-02 15:04"), oneLine(r.Problem, 48))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}

func newRunsShowCmd(root *rootOptions) *cobra.Command {
	var (
		showTree   bool
		dot        bool
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case jsonOutput:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			case dot:
				if run.Tree == nil {
					return fmt.Errorf("run %s has no tree", run.ID)
				}
				s, err := run.Tree.ToDot()
				if err != nil {
					return err
				}
				_, err = io.WriteString(out, s)
				return err
			}

			p := ux.NewPrinter(out)
			p.Field("problem", oneLine(run.Problem, 72))
			printRun(p, run, showTree)
			return nil
		},
	}
	cmd.Flags().BoolVar(&showTree, "tree", false, "print the search tree")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the tree as Graphviz DOT")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print as JSON")
	return cmd
}

func newRunsDeleteCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := root.openStore(false)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			ux.NewPrinter(cmd.OutOrStdout()).Success("deleted " + args[0])
			return nil
		},
	}
}

// oneLine collapses whitespace and shortens s to at most n runes.
func oneLine(s string, n int) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n-3]) + "..."
}

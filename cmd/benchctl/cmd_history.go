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
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect runs recorded with --history-dir",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := opts.openHistory()
			if err != nil {
				return err
			}
			records, err := store.List(limit)
			if err != nil {
				return err
			}
			p := ux.NewPrinter(cmd.OutOrStdout(), !isTerminal(cmd.OutOrStdout()))
			if len(records) == 0 {
				p.Muted("no recorded runs")
				return nil
			}
			for _, rec := range records {
				p.Box(rec.RunID, [][2]string{
					{"started", rec.Started.Local().Format(time.RFC3339)},
					{"elapsed", rec.Elapsed.Round(time.Millisecond).String()},
					{"workers", strconv.Itoa(len(rec.Workers))},
					{"operations", strconv.Itoa(rec.Operations())},
				})
			}
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 for all)")

	showCmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a recorded run as a combined report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openHistory()
			if err != nil {
				return err
			}
			rec, err := store.Get(args[0])
			if err != nil {
				return err
			}
			sink := opts.formatSink(cmd.OutOrStdout())
			if err := sink.ReportCombined(cmd.Context(), &worker.CombinedReport{
				RunID:   rec.RunID,
				Workers: rec.Workers,
				Elapsed: rec.Elapsed,
			}); err != nil {
				return fmt.Errorf("print run %s: %w", rec.RunID, err)
			}
			return nil
		},
	}

	historyCmd.AddCommand(listCmd, showCmd)
	return historyCmd
}

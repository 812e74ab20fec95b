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

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/target"
	"github.com/AleutianAI/AleutianBench/services/bench/tasks"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newDemoCmd(opts *globalOptions) *cobra.Command {
	var (
		workers int
		count   int
		budget  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Benchmark the built-in Loops and Maps groups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := opts.slog()
			b := measure.Budget{Time: budget, Floor: measure.SamplingFloor}
			if count > 0 {
				b = measure.CountBudget(count)
			}
			factory := func(_ context.Context, id int) (*suite.Registry, error) {
				r := suite.NewRegistry(measure.NewEngine(measure.WithBudget(b)))
				r.SetLogger(logger.With(slog.Int("worker_id", id)))
				if err := tasks.Register(r); err != nil {
					return nil, err
				}
				return r, nil
			}

			sink, err := opts.sink(cmd.OutOrStdout())
			if err != nil {
				return err
			}

			if workers <= 1 {
				registry, err := factory(cmd.Context(), worker.DefaultConfig().FirstID)
				if err != nil {
					return err
				}
				_, err = registry.Run(cmd.Context(), sink)
				return err
			}

			cfg := worker.DefaultConfig()
			cfg.Workers = workers
			orch, err := worker.New(cfg, worker.NewLocalSpawner(worker.SuiteBody(factory), logger),
				worker.WithLogger(logger),
				worker.WithSink(sink),
			)
			if err != nil {
				return err
			}
			_, err = orch.Run(cmd.Context())
			return err
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 1, "run the groups on this many local workers")
	cmd.Flags().IntVar(&count, "count", 0, "take exactly this many samples per operation")
	cmd.Flags().DurationVar(&budget, "budget", measure.DefaultBudget, "sampling time budget per operation")
	return cmd
}

func newTargetCmd(opts *globalOptions) *cobra.Command {
	var (
		addr    string
		latency time.Duration
		seed    int
	)

	cmd := &cobra.Command{
		Use:   "target",
		Short: "Serve an in-memory task API to benchmark against",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gin.SetMode(gin.ReleaseMode)
			srv := &http.Server{
				Addr:              addr,
				Handler:           target.New(target.Options{Latency: latency, Seed: seed}),
				ReadHeaderTimeout: 5 * time.Second,
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				opts.logger.Info("target listening", "addr", addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&latency, "latency", 0, "delay added to every API request")
	cmd.Flags().IntVar(&seed, "seed", 10, "tasks created at startup")
	return cmd
}

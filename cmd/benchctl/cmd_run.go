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
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	"github.com/spf13/cobra"
)

// Worker modes accepted by run --mode.
const (
	modeProcess = "process"
	modeLocal   = "local"
)

var errUnknownMode = errors.New("unknown worker mode")

func newRunCmd(opts *globalOptions) *cobra.Command {
	var (
		configPath string
		mode       string
		workers    int
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a strategy across virtual users and print the combined report",
		Long: `Run loads a strategy file, waits for the warm-up, spawns one worker per
virtual user and prints a single combined report once every worker has
finished. In process mode each worker is a child benchctl process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger := opts.slog()

			var spawner worker.Spawner
			switch mode {
			case modeLocal:
				spawner = worker.NewLocalSpawner(worker.SuiteBody(strategyFactory(s, logger)), logger)
			case modeProcess:
				self, err := os.Executable()
				if err != nil {
					return fmt.Errorf("locate benchctl: %w", err)
				}
				ps := worker.NewProcessSpawner(self, func(id int) []string {
					return opts.workerArgs(configPath, id)
				}, logger)
				ps.Stderr = cmd.ErrOrStderr()
				spawner = ps
			default:
				return fmt.Errorf("%w: %s", errUnknownMode, mode)
			}

			sink, err := opts.sink(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			cfg := orchestratorConfig(s, workers)
			orchOpts := []worker.Option{worker.WithLogger(logger), worker.WithSink(sink)}
			var spin *ux.ProgressSpinner
			if isTerminal(cmd.ErrOrStderr()) {
				spin = ux.NewProgressSpinner(cmd.ErrOrStderr(), false, "Workers finished", cfg.Workers)
				orchOpts = append(orchOpts, worker.WithProgress(func(finished, total int) {
					spin.SetProgress(finished)
					if finished == total {
						spin.Stop()
					}
				}))
			}
			orch, err := worker.New(cfg, spawner, orchOpts...)
			if err != nil {
				return err
			}

			if spin == nil {
				_, err = orch.Run(cmd.Context())
				return err
			}
			spin.Start()
			combined, err := orch.Run(cmd.Context())
			if err != nil {
				spin.StopWithError(err.Error())
				return err
			}
			spin.StopWithSuccess(fmt.Sprintf("%d workers finished in %s", len(combined.Workers), combined.Elapsed.Round(time.Millisecond)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "strategy file")
	cmd.Flags().StringVar(&mode, "mode", modeProcess, "worker mode: process or local")
	cmd.Flags().IntVar(&workers, "workers", 0, "override virtual_users")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

// workerArgs is the command line of a child worker. Logging and tracing
// flags follow the parent.
func (o *globalOptions) workerArgs(configPath string, id int) []string {
	args := []string{
		"worker",
		"--config", configPath,
		"--id", strconv.Itoa(id),
		"--log-level", o.logLevel,
		"--trace-exporter", o.traceExporter,
	}
	if o.logJSON {
		args = append(args, "--log-json")
	}
	if o.logDir != "" {
		args = append(args, "--log-dir", o.logDir)
	}
	return args
}

func newSuiteCmd(opts *globalOptions) *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "suite",
		Short: "Run a strategy once in this process and report each operation",
		Long: `Suite runs every resource of a strategy sequentially in this process.
With --watch it stays running and repeats the suite whenever the strategy
file changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			sink, err := opts.sink(cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if err := runSuite(cmd.Context(), opts, s, sink); err != nil || !watch {
				return err
			}

			logger := opts.slog()
			logger.Info("watching strategy", "path", configPath)
			return config.Watch(cmd.Context(), configPath, config.DefaultDebounce, func(s *config.Strategy, err error) {
				if err != nil {
					logger.Warn("strategy reload failed", "error", err)
					return
				}
				if err := runSuite(cmd.Context(), opts, s, sink); err != nil {
					logger.Warn("suite failed", "error", err)
				}
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "strategy file")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run when the strategy file changes")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func runSuite(ctx context.Context, opts *globalOptions, s *config.Strategy, sink suite.Sink) error {
	registry, err := strategyFactory(s, opts.slog())(ctx, worker.DefaultConfig().FirstID)
	if err != nil {
		return err
	}
	_, err = registry.Run(ctx, sink)
	return err
}

func newWorkerCmd(opts *globalOptions) *cobra.Command {
	var (
		configPath string
		id         int
	)

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "Run one worker and stream protocol messages to stdout",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("id") {
				envID, err := worker.IDFromEnv()
				if err != nil {
					return err
				}
				id = envID
			}
			s, err := config.Load(configPath)
			if err != nil {
				return err
			}
			registry, err := strategyFactory(s, opts.slog())(cmd.Context(), id)
			if err != nil {
				return err
			}
			return worker.Execute(cmd.Context(), registry, worker.NewStreamEmitter(cmd.OutOrStdout()), nil)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "strategy file")
	cmd.Flags().IntVar(&id, "id", 0, "worker id (defaults to "+worker.EnvWorkerID+")")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

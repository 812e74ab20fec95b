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
	"log/slog"

	"github.com/AleutianAI/AleutianBench/services/bench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/httpop"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
)

// strategyFactory builds a fresh registry per worker, each with its own
// HTTP client and engine.
func strategyFactory(s *config.Strategy, logger *slog.Logger) worker.RegistryFactory {
	return func(ctx context.Context, id int) (*suite.Registry, error) {
		engine := measure.NewEngine(
			measure.WithRetention(s.Retain()),
			measure.WithBudget(measure.Budget{Time: s.Budget(), Floor: measure.SamplingFloor}),
		)
		registry, err := httpop.BuildRegistry(ctx, s, httpop.New(s.BaseURL), engine)
		if err != nil {
			return nil, err
		}
		registry.SetLogger(logger.With(slog.Int("worker_id", id)))
		return registry, nil
	}
}

// orchestratorConfig maps a strategy onto an orchestrated run.
func orchestratorConfig(s *config.Strategy, workers int) worker.Config {
	cfg := worker.DefaultConfig()
	cfg.Workers = s.VirtualUsers
	if workers > 0 {
		cfg.Workers = workers
	}
	cfg.Warmup = s.Warmup()
	cfg.RampUpRate = s.RampUpRate
	cfg.Timeout = s.WorkerTimeout
	return cfg
}

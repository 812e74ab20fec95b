// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
)

// RegistryFactory builds a fresh, worker-owned registry.
type RegistryFactory func(ctx context.Context, id int) (*suite.Registry, error)

// Execute runs registry on behalf of one worker.
//
// Description:
//
//	Emits STARTED, runs the whole registry, serializes the reports and
//	emits exactly one FINISHED carrying the total runtime.
//
// Inputs:
//   - ctx: Cancels the run between operations.
//   - registry: Worker-owned registry. Sealed by this call.
//   - emit: The worker's message channel.
//   - sink: Optional per-operation sink local to the worker.
func Execute(ctx context.Context, registry *suite.Registry, emit Emitter, sink suite.Sink) error {
	if err := emit.Emit(ctx, Started()); err != nil {
		return err
	}

	start := time.Now()
	reports, err := registry.Run(ctx, sink)
	if err != nil {
		return fmt.Errorf("run suite: %w", err)
	}

	msg, err := Finished(time.Since(start), reports)
	if err != nil {
		return err
	}
	return emit.Emit(ctx, msg)
}

// SuiteBody adapts a RegistryFactory into a Body for LocalSpawner.
func SuiteBody(factory RegistryFactory) Body {
	return func(ctx context.Context, id int, emit Emitter) error {
		registry, err := factory(ctx, id)
		if err != nil {
			return fmt.Errorf("build registry for worker %d: %w", id, err)
		}
		return Execute(ctx, registry, emit, nil)
	}
}

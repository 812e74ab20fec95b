// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suite groups named operations and runs them through the
// measurement engine in registration order.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "bench.suite"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrDuplicateGroup indicates a group with the same name is registered.
	ErrDuplicateGroup = errors.New("group already registered")

	// ErrSealed indicates the registry has already run.
	ErrSealed = errors.New("registry already ran")

	// ErrNilGroup indicates a nil group was registered.
	ErrNilGroup = errors.New("group is nil")
)

// -----------------------------------------------------------------------------
// Reports
// -----------------------------------------------------------------------------

// OperationReport is the outcome of one measured operation.
type OperationReport struct {
	Group  string          `json:"group"`
	Name   string          `json:"name"`
	Result *measure.Result `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Failed reports whether the operation produced no result.
func (r OperationReport) Failed() bool {
	return r.Result == nil
}

// Sink receives operation reports as they are produced.
type Sink interface {
	Report(ctx context.Context, rep OperationReport) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rep OperationReport) error

func (f SinkFunc) Report(ctx context.Context, rep OperationReport) error {
	return f(ctx, rep)
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

// Registry holds the groups of one benchmark run.
//
// Thread Safety:
//
//	Register and Run are safe for concurrent use. Run itself measures
//	strictly sequentially.
type Registry struct {
	mu     sync.Mutex
	groups []*Group
	byName map[string]*Group
	engine *measure.Engine
	sealed bool
	logger *slog.Logger
}

// NewRegistry creates a Registry that measures with engine. A nil engine
// selects measure.NewEngine().
func NewRegistry(engine *measure.Engine) *Registry {
	if engine == nil {
		engine = measure.NewEngine()
	}
	return &Registry{
		byName: make(map[string]*Group),
		engine: engine,
		logger: slog.Default(),
	}
}

// SetLogger sets the logger used during runs.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register adds g to the registry.
//
// Outputs:
//   - error: ErrDuplicateGroup (wrapped with the name) when the name is taken,
//     ErrSealed after Run, ErrNilGroup for nil, or the group's own Add
//     errors. The registry is unchanged on error.
func (r *Registry) Register(g *Group) error {
	if g == nil {
		return ErrNilGroup
	}
	if err := g.Err(); err != nil {
		return fmt.Errorf("register %q: %w", g.name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("register %q: %w", g.name, ErrSealed)
	}
	if _, exists := r.byName[g.name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateGroup, g.name)
	}
	r.byName[g.name] = g
	r.groups = append(r.groups, g)
	return nil
}

// MustRegister registers g and panics on error.
func (r *Registry) MustRegister(g *Group) {
	if err := r.Register(g); err != nil {
		panic(err)
	}
}

// Groups returns group names in registration order.
func (r *Registry) Groups() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.groups))
	for i, g := range r.groups {
		names[i] = g.name
	}
	return names
}

// Len returns the total number of registered operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.groups {
		n += g.Len()
	}
	return n
}

// Run measures every operation, group by group, in registration order.
//
// Description:
//
//	Each operation passes through calibration, strategy selection, sampling
//	and aggregation before the next one starts. A failed operation is
//	reported with its error and the run continues. Sink errors are logged
//	and do not stop the run. The registry is sealed by the first call.
//
// Inputs:
//   - ctx: Checked between operations only.
//   - sink: Receives every report. May be nil.
//
// Outputs:
//   - []OperationReport: Reports in execution order.
//   - error: ErrSealed on a second call, or ctx.Err() if cancelled; the
//     reports gathered so far are returned with a cancellation error.
func (r *Registry) Run(ctx context.Context, sink Sink) ([]OperationReport, error) {
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return nil, fmt.Errorf("run: %w", ErrSealed)
	}
	r.sealed = true
	groups := make([]*Group, len(r.groups))
	copy(groups, r.groups)
	for _, g := range groups {
		g.seal()
	}
	r.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "suite.Registry.Run")
	defer span.End()

	var reports []OperationReport
	failed := 0
	for _, g := range groups {
		for _, e := range g.entries {
			if err := ctx.Err(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "run cancelled")
				return reports, err
			}

			rep := r.measure(ctx, g.name, e)
			if rep.Failed() {
				failed++
			}
			reports = append(reports, rep)

			if sink != nil {
				if err := sink.Report(ctx, rep); err != nil {
					r.logger.Warn("report sink failed",
						slog.String("group", g.name),
						slog.String("operation", e.name),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}

	span.SetAttributes(
		attribute.Int("suite.operations", len(reports)),
		attribute.Int("suite.failed", failed),
	)
	span.SetStatus(codes.Ok, "suite completed")
	return reports, nil
}

func (r *Registry) measure(ctx context.Context, group string, e *entry) OperationReport {
	_, span := otel.Tracer(tracerName).Start(ctx, "suite.Registry.measure")
	defer span.End()
	span.SetAttributes(
		attribute.String("suite.group", group),
		attribute.String("suite.operation", e.name),
	)

	budget := r.engine.Budget()
	if e.budget != nil {
		budget = *e.budget
	}

	start := time.Now()
	result, err := r.engine.MeasureWithBudget(e.op, budget)
	rep := OperationReport{Group: group, Name: e.name, Result: result}
	if err != nil {
		rep.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "measurement failed")
		r.logger.Warn("operation failed",
			slog.String("group", group),
			slog.String("operation", e.name),
			slog.String("error", err.Error()),
		)
		return rep
	}

	span.SetAttributes(
		attribute.String("suite.strategy", result.Strategy().String()),
		attribute.Int("suite.samples", result.SampleCount),
		attribute.Int64("suite.p99_ns", result.P99),
	)
	span.SetStatus(codes.Ok, "measured")
	r.logger.Debug("operation measured",
		slog.String("group", group),
		slog.String("operation", e.name),
		slog.String("strategy", result.Strategy().String()),
		slog.Int("samples", result.SampleCount),
		slog.Duration("elapsed", time.Since(start)),
	)
	return rep
}

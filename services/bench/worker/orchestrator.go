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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const tracerName = "bench.worker"

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidConfig indicates an orchestrator configuration error.
	ErrInvalidConfig = errors.New("invalid orchestrator config")

	// ErrWorkerStall indicates not every worker finished before the timeout.
	ErrWorkerStall = errors.New("workers did not finish before timeout")

	// ErrWorkerExited indicates a worker exited without a FINISHED message.
	ErrWorkerExited = errors.New("worker exited before finishing")
)

// -----------------------------------------------------------------------------
// Config
// -----------------------------------------------------------------------------

// Config configures an orchestrated run.
type Config struct {
	// Workers is the number of workers (virtual users). Must be >= 1.
	Workers int

	// FirstID is the id of the first worker; ids are sequential.
	FirstID int

	// Warmup is waited before the first worker is spawned.
	Warmup time.Duration

	// RampUpRate spawns at most this many workers per second. Zero spawns
	// every worker immediately.
	RampUpRate float64

	// Timeout bounds the time from the first spawn to the last FINISHED,
	// ramp-up included.
	// Zero disables it.
	Timeout time.Duration

	// ShutdownGrace bounds how long Run waits for terminated workers.
	ShutdownGrace time.Duration
}

// DefaultConfig returns a single-worker config with ids starting at 100.
func DefaultConfig() Config {
	return Config{
		Workers:       1,
		FirstID:       100,
		Timeout:       10 * time.Minute,
		ShutdownGrace: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalidConfig, c.Workers)
	}
	if c.Warmup < 0 || c.Timeout < 0 || c.ShutdownGrace < 0 {
		return fmt.Errorf("%w: durations must be non-negative", ErrInvalidConfig)
	}
	if c.RampUpRate < 0 {
		return fmt.Errorf("%w: ramp-up rate must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// WorkerIDs returns the ids the run will spawn.
func (c Config) WorkerIDs() []int {
	ids := make([]int, c.Workers)
	for i := range ids {
		ids[i] = c.FirstID + i
	}
	return ids
}

// -----------------------------------------------------------------------------
// Orchestrator
// -----------------------------------------------------------------------------

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSink sets the sink that receives the combined report.
func WithSink(sink CombinedSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithProgress sets a callback invoked from the run loop each time another
// worker finishes. It must not block.
func WithProgress(fn func(finished, total int)) Option {
	return func(o *Orchestrator) {
		o.progress = fn
	}
}

// Orchestrator spawns workers, collects their reports and combines them.
//
// Thread Safety:
//
//	Run may be called once at a time. All run state is owned by the single
//	loop inside Run; workers only communicate through their Handles.
type Orchestrator struct {
	cfg      Config
	spawner  Spawner
	sink     CombinedSink
	progress func(finished, total int)
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config, spawner Spawner, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if spawner == nil {
		return nil, fmt.Errorf("%w: spawner is nil", ErrInvalidConfig)
	}
	o := &Orchestrator{cfg: cfg, spawner: spawner, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

type envelope struct {
	id     int
	msg    Message
	exited bool
}

// Run executes one orchestrated benchmark.
//
// Description:
//
//	Waits for the warm-up, spawns Workers workers (paced by RampUpRate),
//	and feeds every message into an Accumulator. When the last distinct
//	FINISHED arrives the combined report is handed to the sink, then every
//	worker is terminated. A worker exiting early, the timeout, or ctx
//	cancellation abort the run and terminate all workers.
//
// Outputs:
//   - *CombinedReport: Non-nil only on success.
//   - error: ErrWorkerStall, ErrWorkerExited, spawn errors or ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) (*CombinedReport, error) {
	runID := uuid.NewString()
	logger := o.logger.With(slog.String("run_id", runID))

	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker.Orchestrator.Run",
		trace.WithAttributes(
			attribute.String("bench.run_id", runID),
			attribute.Int("bench.workers", o.cfg.Workers),
		),
	)
	defer span.End()

	if o.cfg.Warmup > 0 {
		logger.Info("waiting for target warm-up", slog.Duration("warmup", o.cfg.Warmup))
		select {
		case <-time.After(o.cfg.Warmup):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	start := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var deadline time.Time
	if o.cfg.Timeout > 0 {
		deadline = start.Add(o.cfg.Timeout)
	}

	ids := o.cfg.WorkerIDs()
	handles, err := o.spawnAll(runCtx, ids, deadline, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "spawn failed")
		return nil, err
	}
	logger.Info("workers spawned", slog.Int("workers", len(handles)))

	var combined *CombinedReport
	acc := NewAccumulator(ids, func(reports []WorkerReport) {
		combined = &CombinedReport{RunID: runID, Workers: reports, Elapsed: time.Since(start)}
	}, logger)

	inbox := make(chan envelope)
	g, gctx := errgroup.WithContext(runCtx)
	for _, h := range handles {
		g.Go(func() error {
			forward(gctx, h, inbox)
			return nil
		})
	}

	status, runErr := o.collect(runCtx, acc, inbox, deadline)

	if runErr == nil && o.sink != nil {
		if err := o.sink.ReportCombined(ctx, combined); err != nil {
			logger.Warn("combined report sink failed", slog.String("error", err.Error()))
		}
	}

	o.terminateAll(handles, logger)
	cancel()
	o.awaitShutdown(g, logger)

	elapsed := time.Since(start)
	runDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.String("bench.status", status),
		attribute.Int("bench.finished", acc.Received()),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, status)
		logger.Error("run aborted", slog.String("status", status), slog.String("error", runErr.Error()))
		return nil, runErr
	}
	span.SetStatus(codes.Ok, status)
	logger.Info("run complete", slog.Duration("elapsed", elapsed))
	return combined, nil
}

// collect is the single owner loop of a run.
func (o *Orchestrator) collect(ctx context.Context, acc *Accumulator, inbox <-chan envelope, deadline time.Time) (string, error) {
	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	for {
		select {
		case env := <-inbox:
			if env.exited {
				if !acc.Finished(env.id) {
					return "exited", fmt.Errorf("%w: worker %d", ErrWorkerExited, env.id)
				}
				continue
			}
			before := acc.Received()
			complete := acc.Observe(env.id, env.msg)
			if o.progress != nil && acc.Received() > before {
				o.progress(acc.Received(), o.cfg.Workers)
			}
			if complete {
				return "complete", nil
			}
		case <-expired:
			return "stalled", fmt.Errorf("%w: %s elapsed, missing workers %v", ErrWorkerStall, o.cfg.Timeout, acc.Missing())
		case <-ctx.Done():
			return "cancelled", ctx.Err()
		}
	}
}

// spawnAll starts every worker. Ramp-up waits count against deadline.
func (o *Orchestrator) spawnAll(ctx context.Context, ids []int, deadline time.Time, logger *slog.Logger) ([]Handle, error) {
	var limiter *rate.Limiter
	if o.cfg.RampUpRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.cfg.RampUpRate), 1)
	}

	handles := make([]Handle, 0, len(ids))
	for _, id := range ids {
		if limiter != nil {
			if err := o.waitRamp(ctx, limiter, deadline); err != nil {
				o.terminateAll(handles, logger)
				return nil, err
			}
		}
		h, err := o.spawner.Spawn(ctx, id)
		if err != nil {
			o.terminateAll(handles, logger)
			return nil, fmt.Errorf("spawn worker %d: %w", id, err)
		}
		workersSpawned.Inc()
		logger.Debug("worker spawned", slog.Int("worker_id", id))
		handles = append(handles, h)
	}
	return handles, nil
}

func (o *Orchestrator) waitRamp(ctx context.Context, limiter *rate.Limiter, deadline time.Time) error {
	waitCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	err := limiter.Wait(waitCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("ramp-up: %w", ctx.Err())
	}
	return fmt.Errorf("%w: %s elapsed during ramp-up", ErrWorkerStall, o.cfg.Timeout)
}

func (o *Orchestrator) terminateAll(handles []Handle, logger *slog.Logger) {
	for _, h := range handles {
		if err := h.Terminate(); err != nil {
			logger.Warn("terminate worker failed", slog.Int("worker_id", h.ID()), slog.String("error", err.Error()))
		}
	}
}

func (o *Orchestrator) awaitShutdown(g *errgroup.Group, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()
	if o.cfg.ShutdownGrace <= 0 {
		return
	}
	select {
	case <-done:
	case <-time.After(o.cfg.ShutdownGrace):
		logger.Warn("workers still running after shutdown grace", slog.Duration("grace", o.cfg.ShutdownGrace))
	}
}

// forward copies h's messages into inbox until the worker exits. Once ctx
// is done it keeps draining so the worker never blocks on a full channel.
func forward(ctx context.Context, h Handle, inbox chan<- envelope) {
	for msg := range h.Messages() {
		select {
		case inbox <- envelope{id: h.ID(), msg: msg}:
		case <-ctx.Done():
		}
	}
	select {
	case inbox <- envelope{id: h.ID(), exited: true}:
	case <-ctx.Done():
	}
}

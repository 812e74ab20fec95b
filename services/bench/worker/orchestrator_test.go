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
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helperEnv = "BENCH_WORKER_HELPER"

// TestMain lets the test binary double as a worker process.
func TestMain(m *testing.M) {
	if mode := os.Getenv(helperEnv); mode != "" {
		os.Exit(runHelper(mode))
	}
	os.Exit(m.Run())
}

func runHelper(mode string) int {
	ctx := context.Background()
	id, err := IDFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	emit := NewStreamEmitter(os.Stdout)
	if err := emit.Emit(ctx, Started()); err != nil {
		return 1
	}
	fmt.Fprintln(os.Stdout, "not a message")
	if mode == "crash" {
		return 3
	}
	registry := suite.NewRegistry(testEngine())
	registry.MustRegister(suite.NewGroup("helper").Add(fmt.Sprintf("op-%d", id), func() any { return id }))
	if err := Execute(ctx, registry, emit, nil); err != nil {
		return 1
	}
	return 0
}

func testEngine() *measure.Engine {
	return measure.NewEngine(
		measure.WithClock(measure.NewStepClock(time.Millisecond)),
		measure.WithBudget(measure.CountBudget(2)),
		measure.WithRetention(false),
	)
}

func suiteFactory(ctx context.Context, id int) (*suite.Registry, error) {
	registry := suite.NewRegistry(testEngine())
	registry.SetLogger(quietLogger())
	g := suite.NewGroup("Loops").
		Add("for", func() any { return id }).
		Add("while", func() any { return id * 2 })
	return registry, registry.Register(g)
}

type recordingSink struct {
	mu      sync.Mutex
	reports []*CombinedReport
}

func (s *recordingSink) ReportCombined(_ context.Context, rep *CombinedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, rep)
	return nil
}

func testConfig(workers int) Config {
	cfg := DefaultConfig()
	cfg.Workers = workers
	cfg.Timeout = 10 * time.Second
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Workers = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = DefaultConfig()
	bad.RampUpRate = -1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	_, err := New(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_WorkerIDsAreSequential(t *testing.T) {
	assert.Equal(t, []int{100, 101, 102}, testConfig(3).WorkerIDs())
}

func TestOrchestrator_LocalRunCombinesAllWorkers(t *testing.T) {
	sink := &recordingSink{}
	spawner := NewLocalSpawner(SuiteBody(suiteFactory), quietLogger())
	orch, err := New(testConfig(4), spawner, WithSink(sink), WithLogger(quietLogger()))
	require.NoError(t, err)

	combined, err := orch.Run(context.Background())

	require.NoError(t, err)
	require.NotNil(t, combined)
	assert.NotEmpty(t, combined.RunID)
	require.Len(t, combined.Workers, 4)
	for i, w := range combined.Workers {
		assert.Equal(t, 100+i, w.WorkerID)
		require.Len(t, w.Results, 2)
		assert.Equal(t, "for", w.Results[0].Name)
		assert.Equal(t, "while", w.Results[1].Name)
		assert.Equal(t, 2, w.Results[0].Result.SampleCount)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.reports, 1)
	assert.Same(t, combined, sink.reports[0])
}

func TestOrchestrator_ProgressCountsFinishedWorkers(t *testing.T) {
	var seen []int
	spawner := NewLocalSpawner(SuiteBody(suiteFactory), quietLogger())
	orch, err := New(testConfig(3), spawner,
		WithLogger(quietLogger()),
		WithProgress(func(finished, total int) {
			assert.Equal(t, 3, total)
			seen = append(seen, finished)
		}),
	)
	require.NoError(t, err)

	_, err = orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestOrchestrator_ReportsOnlyAfterLastFinished(t *testing.T) {
	release := make(chan struct{})
	var finished atomic.Int32
	body := func(ctx context.Context, id int, emit Emitter) error {
		if err := emit.Emit(ctx, Started()); err != nil {
			return err
		}
		if id == 102 {
			<-release
		}
		msg, _ := Finished(time.Millisecond, nil)
		finished.Add(1)
		return emit.Emit(ctx, msg)
	}

	reported := make(chan int32, 1)
	sink := combinedSinkFunc(func(context.Context, *CombinedReport) error {
		reported <- finished.Load()
		return nil
	})
	orch, err := New(testConfig(3), NewLocalSpawner(body, quietLogger()), WithSink(sink), WithLogger(quietLogger()))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := orch.Run(context.Background())
		done <- err
	}()

	select {
	case <-reported:
		t.Fatal("combined report before the last worker finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, int32(3), <-reported)
}

func TestOrchestrator_StallTimesOut(t *testing.T) {
	body := func(ctx context.Context, id int, emit Emitter) error {
		if err := emit.Emit(ctx, Started()); err != nil {
			return err
		}
		if id == 101 {
			<-ctx.Done()
			return ctx.Err()
		}
		msg, _ := Finished(0, nil)
		return emit.Emit(ctx, msg)
	}
	cfg := testConfig(2)
	cfg.Timeout = 50 * time.Millisecond
	sink := &recordingSink{}
	orch, err := New(cfg, NewLocalSpawner(body, quietLogger()), WithSink(sink), WithLogger(quietLogger()))
	require.NoError(t, err)

	combined, err := orch.Run(context.Background())

	require.ErrorIs(t, err, ErrWorkerStall)
	assert.Contains(t, err.Error(), "101")
	assert.Nil(t, combined)
	assert.Empty(t, sink.reports)
}

func TestOrchestrator_WorkerExitBeforeFinished(t *testing.T) {
	body := func(ctx context.Context, id int, emit Emitter) error {
		if id == 100 {
			return errors.New("boom")
		}
		<-ctx.Done()
		return ctx.Err()
	}
	orch, err := New(testConfig(2), NewLocalSpawner(body, quietLogger()), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = orch.Run(context.Background())

	require.ErrorIs(t, err, ErrWorkerExited)
	assert.Contains(t, err.Error(), "100")
}

func TestOrchestrator_Cancelled(t *testing.T) {
	body := func(ctx context.Context, _ int, _ Emitter) error {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	orch, err := New(testConfig(1), NewLocalSpawner(body, quietLogger()), WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = orch.Run(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrchestrator_WarmupAndRampUp(t *testing.T) {
	cfg := testConfig(3)
	cfg.Warmup = 20 * time.Millisecond
	cfg.RampUpRate = 50 // one worker every 20ms after the first
	orch, err := New(cfg, NewLocalSpawner(SuiteBody(suiteFactory), quietLogger()), WithLogger(quietLogger()))
	require.NoError(t, err)

	start := time.Now()
	combined, err := orch.Run(context.Background())

	require.NoError(t, err)
	assert.Len(t, combined.Workers, 3)
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestOrchestrator_TimeoutIncludesRampUp(t *testing.T) {
	cfg := testConfig(3)
	cfg.RampUpRate = 2 // one worker every 500ms after the first
	cfg.Timeout = 100 * time.Millisecond
	sink := &recordingSink{}
	orch, err := New(cfg, NewLocalSpawner(SuiteBody(suiteFactory), quietLogger()), WithSink(sink), WithLogger(quietLogger()))
	require.NoError(t, err)

	start := time.Now()
	combined, err := orch.Run(context.Background())

	require.ErrorIs(t, err, ErrWorkerStall)
	assert.Contains(t, err.Error(), "ramp-up")
	assert.Nil(t, combined)
	assert.Empty(t, sink.reports)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type failingSpawner struct{ after int }

func (s *failingSpawner) Spawn(ctx context.Context, id int) (Handle, error) {
	if s.after == 0 {
		return nil, errors.New("no capacity")
	}
	s.after--
	return NewLocalSpawner(func(ctx context.Context, _ int, _ Emitter) error {
		<-ctx.Done()
		return nil
	}, quietLogger()).Spawn(ctx, id)
}

func TestOrchestrator_SpawnFailure(t *testing.T) {
	orch, err := New(testConfig(3), &failingSpawner{after: 1}, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = orch.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn worker 101")
}

func TestProcessSpawner_RunsWorkerProcesses(t *testing.T) {
	t.Setenv(helperEnv, "ok")
	spawner := NewProcessSpawner(os.Args[0], func(int) []string { return []string{"-test.run=^$"} }, quietLogger())
	var stderr bytes.Buffer
	spawner.Stderr = &stderr
	orch, err := New(testConfig(2), spawner, WithLogger(quietLogger()))
	require.NoError(t, err)

	combined, err := orch.Run(context.Background())

	require.NoError(t, err, stderr.String())
	require.Len(t, combined.Workers, 2)
	assert.Equal(t, "op-100", combined.Workers[0].Results[0].Name)
	assert.Equal(t, "op-101", combined.Workers[1].Results[0].Name)
}

func TestProcessSpawner_CrashIsDetected(t *testing.T) {
	t.Setenv(helperEnv, "crash")
	spawner := NewProcessSpawner(os.Args[0], nil, quietLogger())
	spawner.Stderr = &bytes.Buffer{}
	orch, err := New(testConfig(1), spawner, WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = orch.Run(context.Background())

	assert.ErrorIs(t, err, ErrWorkerExited)
}

func TestStreamEmitter_WritesLines(t *testing.T) {
	var buf bytes.Buffer
	emit := NewStreamEmitter(&buf)
	require.NoError(t, emit.Emit(context.Background(), Started()))
	require.NoError(t, emit.Emit(context.Background(), Started()))
	assert.Equal(t, "{\"type\":\"STARTED\"}\n{\"type\":\"STARTED\"}\n", buf.String())
}

type combinedSinkFunc func(ctx context.Context, rep *CombinedReport) error

func (f combinedSinkFunc) ReportCombined(ctx context.Context, rep *CombinedReport) error {
	return f(ctx, rep)
}

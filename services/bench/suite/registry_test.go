// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() *measure.Engine {
	return measure.NewEngine(
		measure.WithClock(measure.NewStepClock(time.Millisecond)),
		measure.WithBudget(measure.CountBudget(3)),
		measure.WithRetention(false),
	)
}

func tracked(name string, order *[]string) measure.Operation {
	return func() any {
		*order = append(*order, name)
		return nil
	}
}

func TestGroup_OverwriteKeepsPosition(t *testing.T) {
	var calls []string
	g := NewGroup("Maps").
		Add("hashMap", tracked("old", &calls)).
		Add("linkedMap", tracked("linked", &calls)).
		Add("hashMap", tracked("new", &calls))

	require.NoError(t, g.Err())
	assert.Equal(t, []string{"hashMap", "linkedMap"}, g.Names())
	assert.Equal(t, 2, g.Len())

	reg := NewRegistry(testEngine())
	require.NoError(t, reg.Register(g))
	_, err := reg.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.NotContains(t, calls, "old")
	assert.Equal(t, "new", calls[0])
	assert.Equal(t, "linked", calls[len(calls)-1])
}

func TestGroup_NilOperation(t *testing.T) {
	g := NewGroup("g").Add("nil", nil)
	assert.ErrorIs(t, g.Err(), measure.ErrNilOperation)
	assert.Zero(t, g.Len())
}

func TestRegistry_DuplicateGroupDoesNotMutate(t *testing.T) {
	reg := NewRegistry(testEngine())
	first := NewGroup("Loops").Add("for", func() any { return nil })
	require.NoError(t, reg.Register(first))

	second := NewGroup("Loops").Add("while", func() any { return nil }).Add("until", func() any { return nil })
	err := reg.Register(second)

	require.ErrorIs(t, err, ErrDuplicateGroup)
	assert.Contains(t, err.Error(), "Loops")
	assert.Equal(t, []string{"Loops"}, reg.Groups())
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RejectsGroupWithAddErrors(t *testing.T) {
	reg := NewRegistry(testEngine())
	g := NewGroup("g").Add("ok", func() any { return nil }).Add("broken", nil)

	err := reg.Register(g)

	require.ErrorIs(t, err, measure.ErrNilOperation)
	assert.Zero(t, reg.Len())
	assert.Empty(t, reg.Groups())
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry(testEngine())
	reg.MustRegister(NewGroup("a"))
	assert.Panics(t, func() { reg.MustRegister(NewGroup("a")) })
}

func TestRegistry_NilGroup(t *testing.T) {
	assert.ErrorIs(t, NewRegistry(nil).Register(nil), ErrNilGroup)
}

func TestRegistry_RunOrder(t *testing.T) {
	var calls []string
	reg := NewRegistry(testEngine())
	reg.MustRegister(NewGroup("Loops").
		Add("for", tracked("Loops/for", &calls)).
		Add("while", tracked("Loops/while", &calls)))
	reg.MustRegister(NewGroup("Maps").
		Add("hashMap", tracked("Maps/hashMap", &calls)))

	var seen []string
	sink := SinkFunc(func(_ context.Context, rep OperationReport) error {
		seen = append(seen, rep.Group+"/"+rep.Name)
		return nil
	})

	reports, err := reg.Run(context.Background(), sink)

	require.NoError(t, err)
	want := []string{"Loops/for", "Loops/while", "Maps/hashMap"}
	assert.Equal(t, want, seen)
	require.Len(t, reports, 3)
	for _, rep := range reports {
		require.False(t, rep.Failed(), rep.Error)
		assert.True(t, rep.Result.PerCall)
		assert.Equal(t, 3, rep.Result.SampleCount)
	}

	// Each operation finishes all of its calls before the next one starts.
	var order []string
	for _, c := range calls {
		if len(order) == 0 || order[len(order)-1] != c {
			order = append(order, c)
		}
	}
	assert.Equal(t, want, order)
}

func TestRegistry_EntryBudgetOverridesEngine(t *testing.T) {
	reg := NewRegistry(testEngine())
	reg.MustRegister(NewGroup("http").
		Add("GET /tasks", func() any { return 200 }, WithBudget(measure.CountBudget(7))))

	reports, err := reg.Run(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 7, reports[0].Result.SampleCount)
}

func TestRegistry_FailedOperationDoesNotStopRun(t *testing.T) {
	var now int64 = 1 << 40
	backwards := measure.ClockFunc(func() int64 { now--; return now })
	engine := measure.NewEngine(
		measure.WithClock(backwards),
		measure.WithAttemptLimit(5),
		measure.WithBudget(measure.CountBudget(2)),
		measure.WithRetention(false),
	)
	reg := NewRegistry(engine)
	reg.MustRegister(NewGroup("g").
		Add("broken", func() any { return nil }).
		Add("also broken", func() any { return nil }))

	reports, err := reg.Run(context.Background(), nil)

	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, rep := range reports {
		assert.True(t, rep.Failed())
		assert.Equal(t, measure.ErrEmptySample.Error(), rep.Error)
	}
}

func TestRegistry_SinkErrorIsLoggedNotFatal(t *testing.T) {
	reg := NewRegistry(testEngine())
	reg.MustRegister(NewGroup("g").Add("a", func() any { return nil }).Add("b", func() any { return nil }))

	calls := 0
	reports, err := reg.Run(context.Background(), SinkFunc(func(context.Context, OperationReport) error {
		calls++
		return errors.New("sink down")
	}))

	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Equal(t, 2, calls)
}

func TestRegistry_SealedAfterRun(t *testing.T) {
	reg := NewRegistry(testEngine())
	g := NewGroup("g").Add("a", func() any { return nil })
	reg.MustRegister(g)

	_, err := reg.Run(context.Background(), nil)
	require.NoError(t, err)

	_, err = reg.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSealed)

	assert.ErrorIs(t, reg.Register(NewGroup("late")), ErrSealed)

	g.Add("b", func() any { return nil })
	assert.ErrorIs(t, g.Err(), ErrSealed)
	assert.Equal(t, 1, g.Len())
}

func TestRegistry_CancelledBetweenOperations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := NewRegistry(testEngine())
	reg.MustRegister(NewGroup("g").
		Add("first", func() any { return nil }).
		Add("second", func() any { return nil }))

	reports, err := reg.Run(ctx, SinkFunc(func(context.Context, OperationReport) error {
		cancel()
		return nil
	}))

	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 1)
	assert.Equal(t, "first", reports[0].Name)
}

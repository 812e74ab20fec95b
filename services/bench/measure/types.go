// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package measure

import (
	"errors"
	"time"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	// PrimingRuns is the number of untimed-for-decision warm-up invocations.
	PrimingRuns = 10

	// CalibrationBudget bounds the estimation phase by accumulated run time.
	CalibrationBudget = 10 * time.Millisecond

	// CalibrationFloor is the minimum number of estimation passes.
	CalibrationFloor = 5

	// PerCallThreshold is the calibrated average (ns) above which each call
	// is timed individually. Exactly the threshold selects batching.
	PerCallThreshold = 10_000.0

	// DefaultBudget is the sampling time budget when none is configured.
	DefaultBudget = 10 * time.Millisecond

	// SamplingFloor is the minimum number of samples under a time budget.
	SamplingFloor = 10

	// BatchDivisor divides the elapsed time of one batch pass.
	BatchDivisor = 10_000

	// BatchRuns is the number of invocations in one batch pass.
	BatchRuns = BatchDivisor + 1

	// RetentionCapacity is the size of the return-value retention buffer.
	RetentionCapacity = 1_000_000

	// MaxAttempts caps the discarded passes a loop may spend beyond its floor,
	// so a broken clock cannot stall a measurement. Valid passes are bounded
	// by the time budget only.
	MaxAttempts = 1_000_000
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrEmptySample is returned by Aggregate when no valid sample exists.
	ErrEmptySample = errors.New("empty sample set")

	// ErrNilOperation is returned when a nil Operation is measured.
	ErrNilOperation = errors.New("operation is nil")

	// ErrUnsealed is returned when percentiles are read before sorting.
	ErrUnsealed = errors.New("sample set is not sealed")
)

// -----------------------------------------------------------------------------
// Operation and Strategy
// -----------------------------------------------------------------------------

// Operation is an opaque unit of work. Its return value is kept alive by
// the sampler when retention is enabled so the work cannot be optimized away.
type Operation func() any

// Strategy selects how the sampler times an operation.
type Strategy int

const (
	// BatchStrategy times BatchRuns calls per pass and divides.
	BatchStrategy Strategy = iota

	// PerCallStrategy times each call individually.
	PerCallStrategy
)

func (s Strategy) String() string {
	switch s {
	case BatchStrategy:
		return "batch"
	case PerCallStrategy:
		return "per-call"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Budget
// -----------------------------------------------------------------------------

// Budget is the stopping rule of a sampling or calibration loop. The loop
// keeps going while Time remains OR fewer than Floor passes have run.
type Budget struct {
	// Time is charged with each valid sample's cost.
	Time time.Duration

	// Floor is the minimum number of valid samples.
	Floor int
}

// DefaultSamplingBudget returns the 10ms / 10 sample budget.
func DefaultSamplingBudget() Budget {
	return Budget{Time: DefaultBudget, Floor: SamplingFloor}
}

// CountBudget returns a budget that collects exactly n valid samples.
func CountBudget(n int) Budget {
	return Budget{Floor: n}
}

// -----------------------------------------------------------------------------
// Result
// -----------------------------------------------------------------------------

// Result is the summary of one measured operation. All values are
// nanoseconds. Samples is sorted ascending.
type Result struct {
	SampleCount int                `json:"sample_count"`
	PerCall     bool               `json:"per_call"`
	Average     float64            `json:"average_ns"`
	Min         int64              `json:"min_ns"`
	Max         int64              `json:"max_ns"`
	P75         int64              `json:"p75_ns"`
	P99         int64              `json:"p99_ns"`
	P995        int64              `json:"p995_ns"`
	Calibration [PrimingRuns]int64 `json:"calibration_ns"`
	Samples     []int64            `json:"samples_ns"`
	Discarded   int                `json:"discarded,omitempty"`
}

// Strategy reports the strategy the result was sampled with.
func (r *Result) Strategy() Strategy {
	if r.PerCall {
		return PerCallStrategy
	}
	return BatchStrategy
}

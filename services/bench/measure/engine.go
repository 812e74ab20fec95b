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

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces the system monotonic clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithBudget sets the default sampling budget.
func WithBudget(b Budget) Option {
	return func(e *Engine) {
		e.budget = b
	}
}

// WithRetention toggles BatchStrategy return-value retention.
func WithRetention(retain bool) Option {
	return func(e *Engine) {
		e.retain = retain
	}
}

// WithAttemptLimit overrides MaxAttempts for calibration and sampling.
func WithAttemptLimit(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.attemptLimit = n
		}
	}
}

// Engine runs the full Calibrate, SelectStrategy, Sample, Aggregate
// pipeline for one operation at a time.
type Engine struct {
	clock        Clock
	budget       Budget
	retain       bool
	attemptLimit int
}

// NewEngine creates an Engine with the system clock, the default sampling
// budget and retention enabled.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		clock:        SystemClock(),
		budget:       DefaultSamplingBudget(),
		retain:       true,
		attemptLimit: MaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Budget returns the engine's default sampling budget.
func (e *Engine) Budget() Budget {
	return e.budget
}

// Measure measures op with the engine's default budget.
func (e *Engine) Measure(op Operation) (*Result, error) {
	return e.MeasureWithBudget(op, e.budget)
}

// MeasureWithBudget measures op with an explicit sampling budget.
//
// Outputs:
//   - *Result: The summary.
//   - error: ErrNilOperation, or ErrEmptySample when no valid sample was taken.
func (e *Engine) MeasureWithBudget(op Operation, budget Budget) (*Result, error) {
	if op == nil {
		return nil, ErrNilOperation
	}
	cal := calibrate(op, e.clock, e.attemptLimit)
	strategy := SelectStrategy(cal.Average)
	sampler := &Sampler{clock: e.clock, retain: e.retain, attemptLimit: e.attemptLimit}
	sampling := sampler.Sample(op, strategy, budget)
	return Aggregate(AggregationOf(cal, sampling))
}

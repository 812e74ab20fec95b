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

import "math"

// Sampling is the raw output of one sampling run.
type Sampling struct {
	Strategy  Strategy
	Samples   *SampleSet
	Count     int
	Sum       float64
	Min       int64
	Max       int64
	Discarded int
}

func newSampling(strategy Strategy, capacity int) *Sampling {
	return &Sampling{
		Strategy: strategy,
		Samples:  NewSampleSet(capacity),
		Min:      math.MaxInt64,
		Max:      math.MinInt64,
	}
}

func (s *Sampling) record(sample int64, value float64) {
	s.Samples.Add(sample)
	s.Count++
	s.Sum += value
	if sample < s.Min {
		s.Min = sample
	}
	if sample > s.Max {
		s.Max = sample
	}
}

// Sampler runs the budgeted sampling loop.
type Sampler struct {
	clock        Clock
	retain       bool
	attemptLimit int
}

// NewSampler creates a Sampler.
//
// Inputs:
//   - clock: Monotonic clock.
//   - retain: Keep BatchStrategy return values alive in a buffer of
//     RetentionCapacity entries for the duration of the run.
func NewSampler(clock Clock, retain bool) *Sampler {
	return &Sampler{clock: clock, retain: retain, attemptLimit: MaxAttempts}
}

// Sample collects latency samples of op.
//
// Description:
//
//	Loops while budget.Time has time left OR fewer than budget.Floor valid
//	samples exist. Each pass decrements the floor; a negative delta restores
//	it and is discarded. PerCallStrategy times one call per pass.
//	BatchStrategy times BatchRuns calls and divides by BatchDivisor; the
//	float estimate feeds Sum and the budget, its integer truncation is the
//	stored sample.
//
// Inputs:
//   - op: The operation.
//   - strategy: From SelectStrategy.
//   - budget: Stopping rule.
//
// Outputs:
//   - *Sampling: Unsorted samples and running statistics. Count may be zero
//     if every pass was discarded.
func (s *Sampler) Sample(op Operation, strategy Strategy, budget Budget) *Sampling {
	if strategy == PerCallStrategy {
		return s.perCall(op, budget)
	}
	return s.batch(op, budget)
}

func (s *Sampler) perCall(op Operation, budget Budget) *Sampling {
	out := newSampling(PerCallStrategy, budget.Floor)
	remaining := float64(budget.Time.Nanoseconds())
	floor := budget.Floor
	limit := s.attemptLimit + max(budget.Floor, 0)

	for (remaining > 0 || floor > 0) && out.Discarded < limit {
		floor--
		start := s.clock.Now()
		op()
		delta := s.clock.Now() - start
		if delta < 0 {
			floor++
			out.Discarded++
			continue
		}
		out.record(delta, float64(delta))
		remaining -= float64(delta)
	}
	return out
}

func (s *Sampler) batch(op Operation, budget Budget) *Sampling {
	out := newSampling(BatchStrategy, budget.Floor)
	remaining := float64(budget.Time.Nanoseconds())
	floor := budget.Floor
	limit := s.attemptLimit + max(budget.Floor, 0)

	var retained []any
	if s.retain {
		retained = make([]any, RetentionCapacity)
	}

	for (remaining > 0 || floor > 0) && out.Discarded < limit {
		floor--
		start := s.clock.Now()
		if retained != nil {
			for i := 0; i < BatchRuns; i++ {
				retained[i] = op()
			}
		} else {
			for i := 0; i < BatchRuns; i++ {
				op()
			}
		}
		elapsed := s.clock.Now() - start
		if elapsed < 0 {
			floor++
			out.Discarded++
			continue
		}
		estimate := float64(elapsed) / BatchDivisor
		out.record(int64(estimate), estimate)
		remaining -= estimate * BatchDivisor
	}
	return out
}

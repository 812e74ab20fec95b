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
	"math"
	"slices"
)

// -----------------------------------------------------------------------------
// SampleSet
// -----------------------------------------------------------------------------

// SampleSet is a collection of non-negative nanosecond samples. It is
// appendable until sealed; sealing sorts it ascending and makes it read-only.
type SampleSet struct {
	values []int64
	sealed bool
}

// NewSampleSet creates an empty set with the given capacity hint.
func NewSampleSet(capacity int) *SampleSet {
	return &SampleSet{values: make([]int64, 0, max(capacity, 0))}
}

// Add appends v. Negative values and writes to a sealed set are rejected.
func (s *SampleSet) Add(v int64) bool {
	if s.sealed || v < 0 {
		return false
	}
	s.values = append(s.values, v)
	return true
}

// Len returns the number of samples.
func (s *SampleSet) Len() int {
	return len(s.values)
}

// Seal sorts the set ascending. Calling Seal again is a no-op.
func (s *SampleSet) Seal() {
	if s.sealed {
		return
	}
	slices.Sort(s.values)
	s.sealed = true
}

// Sealed reports whether the set is read-only.
func (s *SampleSet) Sealed() bool {
	return s.sealed
}

// Values returns a copy of the samples.
func (s *SampleSet) Values() []int64 {
	return slices.Clone(s.values)
}

// Percentile returns the P-th percentile of a sealed, non-empty set.
func (s *SampleSet) Percentile(p float64) (int64, error) {
	if len(s.values) == 0 {
		return 0, ErrEmptySample
	}
	if !s.sealed {
		return 0, ErrUnsealed
	}
	return s.values[PercentileIndex(len(s.values), p)], nil
}

// PercentileIndex returns ceil(n*p/100)-1 clamped to [0, n-1].
func PercentileIndex(n int, p float64) int {
	if n <= 0 {
		return 0
	}
	idx := int(math.Ceil(float64(n)*p/100)) - 1
	return min(max(idx, 0), n-1)
}

// -----------------------------------------------------------------------------
// Aggregate
// -----------------------------------------------------------------------------

// Aggregation is the input of Aggregate.
type Aggregation struct {
	Count       int
	PerCall     bool
	Sum         float64
	Min         int64
	Max         int64
	Calibration [PrimingRuns]int64
	Samples     *SampleSet
	Discarded   int
}

// AggregationOf combines a calibration and a sampling run.
func AggregationOf(c Calibration, s *Sampling) Aggregation {
	return Aggregation{
		Count:       s.Count,
		PerCall:     s.Strategy == PerCallStrategy,
		Sum:         s.Sum,
		Min:         s.Min,
		Max:         s.Max,
		Calibration: c.Priming,
		Samples:     s.Samples,
		Discarded:   s.Discarded + c.Discarded,
	}
}

// Aggregate seals the sample set and computes the Result.
//
// Description:
//
//	Average is Sum/Count for per-call sampling and ceil(Sum/Count) for
//	batch sampling. Percentiles use the ceiling-index rule of
//	PercentileIndex on the sorted samples.
//
// Outputs:
//   - *Result: The summary.
//   - error: ErrEmptySample when Count is zero or the set is empty.
func Aggregate(in Aggregation) (*Result, error) {
	if in.Count == 0 || in.Samples == nil || in.Samples.Len() == 0 {
		return nil, ErrEmptySample
	}
	in.Samples.Seal()
	sorted := in.Samples.values

	average := in.Sum / float64(in.Count)
	if !in.PerCall {
		average = math.Ceil(average)
	}

	n := len(sorted)
	return &Result{
		SampleCount: in.Count,
		PerCall:     in.PerCall,
		Average:     average,
		Min:         in.Min,
		Max:         in.Max,
		P75:         sorted[PercentileIndex(n, 75)],
		P99:         sorted[PercentileIndex(n, 99)],
		P995:        sorted[PercentileIndex(n, 99.5)],
		Calibration: in.Calibration,
		Samples:     slices.Clone(sorted),
		Discarded:   in.Discarded,
	}, nil
}

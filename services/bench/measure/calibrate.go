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

// Calibration is the outcome of the warm-up phase.
type Calibration struct {
	// Priming holds the raw deltas of the PrimingRuns warm-up calls.
	Priming [PrimingRuns]int64

	// Average is the mean of the retained estimation deltas (ns).
	Average float64

	// Retained is the number of estimation deltas that were kept.
	Retained int

	// Discarded is the number of negative estimation deltas dropped.
	Discarded int
}

// Calibrate primes op and estimates its per-call cost.
//
// Description:
//
//	Runs op PrimingRuns times, recording each delta. Then times single
//	calls while the CalibrationBudget has time left OR fewer than
//	CalibrationFloor passes have run. A negative delta is discarded and its
//	pass does not count toward the floor.
//
// Inputs:
//   - op: The operation. Must not be nil.
//   - clock: Monotonic clock.
//
// Outputs:
//   - Calibration: Priming deltas and the estimated average. Average is 0
//     when every estimation delta was discarded.
func Calibrate(op Operation, clock Clock) Calibration {
	return calibrate(op, clock, MaxAttempts)
}

func calibrate(op Operation, clock Clock, attemptLimit int) Calibration {
	var c Calibration

	for i := range c.Priming {
		start := clock.Now()
		op()
		c.Priming[i] = clock.Now() - start
	}

	remaining := CalibrationBudget.Nanoseconds()
	iterations := CalibrationFloor
	limit := attemptLimit + CalibrationFloor
	var sum float64

	for (remaining > 0 || iterations > 0) && c.Discarded < limit {
		iterations--
		start := clock.Now()
		op()
		delta := clock.Now() - start
		if delta < 0 {
			iterations++
			c.Discarded++
			continue
		}
		sum += float64(delta)
		c.Retained++
		remaining -= delta
	}

	if c.Retained > 0 {
		c.Average = sum / float64(c.Retained)
	}
	return c
}

// SelectStrategy picks PerCallStrategy when the calibrated average exceeds
// PerCallThreshold and BatchStrategy otherwise.
func SelectStrategy(warmUpAverage float64) Strategy {
	if warmUpAverage > PerCallThreshold {
		return PerCallStrategy
	}
	return BatchStrategy
}

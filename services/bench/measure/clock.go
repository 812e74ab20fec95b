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
	"sync"
	"time"
)

// Clock is a source of monotonic nanosecond readings.
//
// Only differences between two readings are meaningful. Implementations
// may still report a later reading smaller than an earlier one; callers
// treat such deltas as anomalies.
type Clock interface {
	Now() int64
}

// monotonicClock reads the runtime monotonic clock relative to its origin.
type monotonicClock struct {
	origin time.Time
}

// SystemClock returns the process monotonic clock.
func SystemClock() Clock {
	return monotonicClock{origin: time.Now()}
}

func (c monotonicClock) Now() int64 {
	return int64(time.Since(c.origin))
}

// StepClock advances by a fixed step on every reading. Each timed call
// therefore observes exactly Step nanoseconds, which makes sampling fully
// deterministic for replays and tests.
type StepClock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

// NewStepClock returns a clock that starts at zero and advances by step.
func NewStepClock(step time.Duration) *StepClock {
	return &StepClock{step: int64(step)}
}

func (c *StepClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

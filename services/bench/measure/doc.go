// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package measure times a single operation and summarizes its latency.
//
// A measurement runs four stages strictly in order:
//
//	Calibrate ──► SelectStrategy ──► Sampler.Sample ──► Aggregate
//
// Calibrate primes the operation and estimates its cost. Operations slower
// than PerCallThreshold are timed one call at a time; faster ones are timed
// in batches of BatchRuns calls so that clock resolution does not dominate.
// Sampling stops once both the time budget and the minimum sample count are
// exhausted. Aggregate sorts the samples and derives the average and the
// p75/p99/p99.5 percentiles.
//
// All durations are nanoseconds read from a monotonic Clock. Negative deltas
// (clock anomalies) are discarded and never counted as samples.
//
// # Thread Safety
//
// A single Engine may be shared, but each Measure call is sequential and
// exclusively owns the operation while it runs. Measuring two operations in
// parallel on one machine perturbs both results.
package measure

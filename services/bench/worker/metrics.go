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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesReceived counts accepted worker messages.
	// Labels: type (STARTED, FINISHED)
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bench",
		Subsystem: "worker",
		Name:      "messages_total",
		Help:      "Worker messages accepted by the orchestrator",
	}, []string{"type"})

	// messagesDiscarded counts messages dropped by the accumulator.
	// Labels: reason (unknown_type, unknown_worker, duplicate, undecodable, late)
	messagesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bench",
		Subsystem: "worker",
		Name:      "discarded_messages_total",
		Help:      "Worker messages logged and discarded",
	}, []string{"reason"})

	// workersSpawned counts spawned workers.
	workersSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "bench",
		Subsystem: "worker",
		Name:      "spawned_total",
		Help:      "Workers spawned by the orchestrator",
	})

	// runDuration measures orchestrated run wall time.
	// Labels: status (complete, stalled, exited, cancelled)
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "bench",
		Subsystem: "orchestrator",
		Name:      "run_duration_seconds",
		Help:      "Wall time of orchestrated benchmark runs",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})
)

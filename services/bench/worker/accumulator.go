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
	"log/slog"
	"slices"
	"sync"
)

// Accumulator collects FINISHED reports keyed by worker id.
//
// Description:
//
//	Only FINISHED messages from expected workers count, and each worker
//	counts once. Unknown types, unknown workers, duplicates and undecodable
//	payloads are logged and discarded. When every expected worker has
//	reported, the completion callback fires exactly once with the reports
//	ordered by worker id.
//
// Thread Safety:
//
//	Safe for concurrent use. The callback runs outside the lock, on the
//	goroutine whose Observe call completed the set.
type Accumulator struct {
	mu         sync.Mutex
	expected   map[int]struct{}
	started    map[int]struct{}
	reports    map[int]WorkerReport
	complete   bool
	onComplete func([]WorkerReport)
	logger     *slog.Logger
}

// NewAccumulator creates an Accumulator for the given worker ids.
func NewAccumulator(ids []int, onComplete func([]WorkerReport), logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	expected := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		expected[id] = struct{}{}
	}
	return &Accumulator{
		expected:   expected,
		started:    make(map[int]struct{}, len(ids)),
		reports:    make(map[int]WorkerReport, len(ids)),
		onComplete: onComplete,
		logger:     logger,
	}
}

// Observe records msg from workerID and reports whether this call
// completed the set.
func (a *Accumulator) Observe(workerID int, msg Message) bool {
	a.mu.Lock()
	reports, done := a.observeLocked(workerID, msg)
	a.mu.Unlock()

	if done && a.onComplete != nil {
		a.onComplete(reports)
	}
	return done
}

func (a *Accumulator) observeLocked(workerID int, msg Message) ([]WorkerReport, bool) {
	if _, ok := a.expected[workerID]; !ok {
		a.discard("unknown_worker", workerID, msg.Type)
		return nil, false
	}

	switch msg.Type {
	case MessageStarted:
		a.started[workerID] = struct{}{}
		messagesReceived.WithLabelValues(string(MessageStarted)).Inc()
		a.logger.Info("worker started", slog.Int("worker_id", workerID))
		return nil, false

	case MessageFinished:
		if a.complete {
			a.discard("late", workerID, msg.Type)
			return nil, false
		}
		if _, dup := a.reports[workerID]; dup {
			a.discard("duplicate", workerID, msg.Type)
			return nil, false
		}
		rep, err := decodeFinished(workerID, msg.Payload)
		if err != nil {
			a.discard("undecodable", workerID, msg.Type)
			a.logger.Debug("finished payload rejected", slog.Int("worker_id", workerID), slog.String("error", err.Error()))
			return nil, false
		}
		a.reports[workerID] = rep
		messagesReceived.WithLabelValues(string(MessageFinished)).Inc()
		a.logger.Info("worker finished",
			slog.Int("worker_id", workerID),
			slog.Duration("total_runtime", rep.TotalRuntime),
			slog.Int("received", len(a.reports)),
			slog.Int("expected", len(a.expected)),
		)
		if len(a.reports) < len(a.expected) {
			return nil, false
		}
		a.complete = true
		return a.sortedLocked(), true

	default:
		a.discard("unknown_type", workerID, msg.Type)
		return nil, false
	}
}

func (a *Accumulator) discard(reason string, workerID int, typ MessageType) {
	messagesDiscarded.WithLabelValues(reason).Inc()
	a.logger.Warn("received invalid message, discarding",
		slog.String("reason", reason),
		slog.Int("worker_id", workerID),
		slog.String("type", string(typ)),
	)
}

func (a *Accumulator) sortedLocked() []WorkerReport {
	out := make([]WorkerReport, 0, len(a.reports))
	for _, rep := range a.reports {
		out = append(out, rep)
	}
	slices.SortFunc(out, func(x, y WorkerReport) int { return x.WorkerID - y.WorkerID })
	return out
}

// Finished reports whether workerID has delivered its FINISHED message.
func (a *Accumulator) Finished(workerID int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.reports[workerID]
	return ok
}

// Complete reports whether every expected worker has finished.
func (a *Accumulator) Complete() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.complete
}

// Received returns the number of distinct FINISHED reports.
func (a *Accumulator) Received() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.reports)
}

// Missing returns the ids that have not finished, ascending.
func (a *Accumulator) Missing() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	var missing []int
	for id := range a.expected {
		if _, ok := a.reports[id]; !ok {
			missing = append(missing, id)
		}
	}
	slices.Sort(missing)
	return missing
}

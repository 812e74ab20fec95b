// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package worker fans a benchmark suite out over independent workers and
// combines their reports exactly once.
//
// Each worker runs its own suite and talks to the orchestrator only through
// messages:
//
//	worker ──STARTED──► orchestrator
//	worker ──FINISHED{total_runtime_ns, results}──► orchestrator
//
// The orchestrator accumulates FINISHED reports keyed by worker id. When the
// number of distinct reports equals the number of spawned workers it emits
// one CombinedReport and terminates every worker.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
)

// MessageType identifies a worker message.
type MessageType string

const (
	MessageStarted  MessageType = "STARTED"
	MessageFinished MessageType = "FINISHED"
)

// Message is the unit of worker to orchestrator communication. On the
// process transport it is encoded as one JSON object per line.
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FinishedPayload is the payload of a FINISHED message.
type FinishedPayload struct {
	// TotalRuntime is the worker's wall time for the whole suite (ns).
	TotalRuntime int64 `json:"total_runtime_ns"`

	// Results is the JSON-encoded []suite.OperationReport.
	Results string `json:"results"`
}

// Started builds a STARTED message.
func Started() Message {
	return Message{Type: MessageStarted}
}

// Finished builds a FINISHED message from the worker's reports.
func Finished(runtime time.Duration, reports []suite.OperationReport) (Message, error) {
	if reports == nil {
		reports = []suite.OperationReport{}
	}
	results, err := json.Marshal(reports)
	if err != nil {
		return Message{}, fmt.Errorf("encode results: %w", err)
	}
	payload, err := json.Marshal(FinishedPayload{
		TotalRuntime: runtime.Nanoseconds(),
		Results:      string(results),
	})
	if err != nil {
		return Message{}, fmt.Errorf("encode payload: %w", err)
	}
	return Message{Type: MessageFinished, Payload: payload}, nil
}

// -----------------------------------------------------------------------------
// Reports
// -----------------------------------------------------------------------------

// WorkerReport is one worker's contribution to a combined report.
type WorkerReport struct {
	WorkerID          int                     `json:"worker_id"`
	TotalRuntime      time.Duration           `json:"total_runtime_ns"`
	SerializedResults string                  `json:"-"`
	Results           []suite.OperationReport `json:"results"`
}

// decodeFinished validates a FINISHED payload and its result list.
func decodeFinished(workerID int, raw json.RawMessage) (WorkerReport, error) {
	var payload FinishedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return WorkerReport{}, fmt.Errorf("decode payload: %w", err)
	}
	var results []suite.OperationReport
	if err := json.Unmarshal([]byte(payload.Results), &results); err != nil {
		return WorkerReport{}, fmt.Errorf("decode results: %w", err)
	}
	return WorkerReport{
		WorkerID:          workerID,
		TotalRuntime:      time.Duration(payload.TotalRuntime),
		SerializedResults: payload.Results,
		Results:           results,
	}, nil
}

// CombinedReport aggregates every worker's report for one run.
type CombinedReport struct {
	RunID   string         `json:"run_id"`
	Workers []WorkerReport `json:"workers"`
	Elapsed time.Duration  `json:"elapsed_ns"`
}

// CombinedSink receives the combined report of a run.
type CombinedSink interface {
	ReportCombined(ctx context.Context, rep *CombinedReport) error
}

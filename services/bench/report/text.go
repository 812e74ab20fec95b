// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report implements the sinks that receive operation and combined
// reports: terminal text, JSON lines, OpenTelemetry metrics and InfluxDB.
//
// Every sink implements both suite.Sink and worker.CombinedSink.
package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/ux"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
)

// Sink is a destination for both single-process and combined reports.
type Sink interface {
	suite.Sink
	worker.CombinedSink
}

// FormatNanos renders a nanosecond count as a duration string.
func FormatNanos(ns float64) string {
	return time.Duration(math.Round(ns)).String()
}

// TextSink renders reports for a human reader.
type TextSink struct {
	mu      sync.Mutex
	printer *ux.Printer
}

// NewTextSink creates a TextSink. Set plain when w is not a terminal.
func NewTextSink(w io.Writer, plain bool) *TextSink {
	return &TextSink{printer: ux.NewPrinter(w, plain)}
}

// Report prints one operation.
func (s *TextSink) Report(_ context.Context, rep suite.OperationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printOperation(rep)
	return nil
}

// ReportCombined prints every worker's operations under a per-worker heading.
func (s *TextSink) ReportCombined(_ context.Context, rep *worker.CombinedReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.printer.Title(fmt.Sprintf("Benchmark run %s", rep.RunID))
	s.printer.Muted(fmt.Sprintf("%d workers, %s elapsed", len(rep.Workers), rep.Elapsed.Round(time.Millisecond)))
	for _, w := range rep.Workers {
		s.printer.Title(fmt.Sprintf("Worker %d (total runtime %s)", w.WorkerID, w.TotalRuntime.Round(time.Microsecond)))
		failed := 0
		for _, op := range w.Results {
			if op.Failed() {
				failed++
			}
			s.printOperation(op)
		}
		if failed > 0 {
			s.printer.Warning(fmt.Sprintf("%d of %d operations failed", failed, len(w.Results)))
		}
	}
	s.printer.Success("run complete")
	return nil
}

func (s *TextSink) printOperation(rep suite.OperationReport) {
	title := rep.Group + " / " + rep.Name
	if rep.Failed() {
		s.printer.ErrorBox(title, rep.Error)
		return
	}
	s.printer.Box(title, resultRows(rep.Result))
}

func resultRows(r *measure.Result) [][2]string {
	return [][2]string{
		{"strategy", r.Strategy().String()},
		{"samples", strconv.Itoa(r.SampleCount)},
		{"average", FormatNanos(r.Average)},
		{"min", FormatNanos(float64(r.Min))},
		{"max", FormatNanos(float64(r.Max))},
		{"p75", FormatNanos(float64(r.P75))},
		{"p99", FormatNanos(float64(r.P99))},
		{"p99.5", FormatNanos(float64(r.P995))},
	}
}

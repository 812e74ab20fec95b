// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
)

// Multi fans reports out to every sink. A failing sink does not stop the
// others; their errors are joined.
type Multi []Sink

func (m Multi) Report(ctx context.Context, rep suite.OperationReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) ReportCombined(ctx context.Context, rep *worker.CombinedReport) error {
	var errs []error
	for _, s := range m {
		if err := s.ReportCombined(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = Multi(nil)
	_ Sink = (*TextSink)(nil)
	_ Sink = (*JSONSink)(nil)
	_ Sink = (*MetricsSink)(nil)
	_ Sink = (*InfluxSink)(nil)
)

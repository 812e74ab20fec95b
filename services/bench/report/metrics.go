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
	"fmt"
	"strconv"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsSink records operation summaries as OpenTelemetry instruments.
// With the Prometheus exporter installed by the telemetry package they are
// scraped from /metrics.
type MetricsSink struct {
	average  metric.Float64Gauge
	min      metric.Int64Gauge
	max      metric.Int64Gauge
	p75      metric.Int64Gauge
	p99      metric.Int64Gauge
	p995     metric.Int64Gauge
	samples  metric.Int64Counter
	failures metric.Int64Counter
}

// NewMetricsSink creates the instruments on meter.
func NewMetricsSink(meter metric.Meter) (*MetricsSink, error) {
	var (
		s   MetricsSink
		err error
	)
	if s.average, err = meter.Float64Gauge("bench_operation_average_ns",
		metric.WithDescription("Average latency of the last measurement"),
		metric.WithUnit("ns")); err != nil {
		return nil, fmt.Errorf("create average gauge: %w", err)
	}
	gauges := []struct {
		name string
		desc string
		dst  *metric.Int64Gauge
	}{
		{"bench_operation_min_ns", "Minimum sample of the last measurement", &s.min},
		{"bench_operation_max_ns", "Maximum sample of the last measurement", &s.max},
		{"bench_operation_p75_ns", "75th percentile of the last measurement", &s.p75},
		{"bench_operation_p99_ns", "99th percentile of the last measurement", &s.p99},
		{"bench_operation_p995_ns", "99.5th percentile of the last measurement", &s.p995},
	}
	for _, g := range gauges {
		if *g.dst, err = meter.Int64Gauge(g.name, metric.WithDescription(g.desc), metric.WithUnit("ns")); err != nil {
			return nil, fmt.Errorf("create %s: %w", g.name, err)
		}
	}
	if s.samples, err = meter.Int64Counter("bench_operation_samples_total",
		metric.WithDescription("Valid samples collected")); err != nil {
		return nil, fmt.Errorf("create samples counter: %w", err)
	}
	if s.failures, err = meter.Int64Counter("bench_operation_failures_total",
		metric.WithDescription("Operations that produced no result")); err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}
	return &s, nil
}

func (s *MetricsSink) Report(ctx context.Context, rep suite.OperationReport) error {
	s.record(ctx, rep)
	return nil
}

func (s *MetricsSink) ReportCombined(ctx context.Context, rep *worker.CombinedReport) error {
	for _, w := range rep.Workers {
		id := attribute.String("worker_id", strconv.Itoa(w.WorkerID))
		for _, op := range w.Results {
			s.record(ctx, op, id)
		}
	}
	return nil
}

func (s *MetricsSink) record(ctx context.Context, rep suite.OperationReport, extra ...attribute.KeyValue) {
	attrs := append([]attribute.KeyValue{
		attribute.String("group", rep.Group),
		attribute.String("operation", rep.Name),
	}, extra...)

	if rep.Failed() {
		s.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	r := rep.Result
	attrs = append(attrs, attribute.String("strategy", r.Strategy().String()))
	opt := metric.WithAttributes(attrs...)

	s.average.Record(ctx, r.Average, opt)
	s.min.Record(ctx, r.Min, opt)
	s.max.Record(ctx, r.Max, opt)
	s.p75.Record(ctx, r.P75, opt)
	s.p99.Record(ctx, r.P99, opt)
	s.p995.Record(ctx, r.P995, opt)
	s.samples.Add(ctx, int64(r.SampleCount), opt)
}

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
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement that holds operation summaries.
const Measurement = "microbench_results"

// ErrInfluxConfig indicates missing InfluxDB settings.
var ErrInfluxConfig = errors.New("incomplete influxdb config")

// InfluxConfig locates the InfluxDB bucket.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxConfigFromEnv reads INFLUXDB_URL, INFLUXDB_TOKEN, INFLUXDB_ORG and
// INFLUXDB_BUCKET.
func InfluxConfigFromEnv() InfluxConfig {
	return InfluxConfig{
		URL:    os.Getenv("INFLUXDB_URL"),
		Token:  os.Getenv("INFLUXDB_TOKEN"),
		Org:    os.Getenv("INFLUXDB_ORG"),
		Bucket: os.Getenv("INFLUXDB_BUCKET"),
	}
}

// Validate reports which settings are missing.
func (c InfluxConfig) Validate() error {
	switch {
	case c.URL == "":
		return fmt.Errorf("%w: url", ErrInfluxConfig)
	case c.Org == "":
		return fmt.Errorf("%w: org", ErrInfluxConfig)
	case c.Bucket == "":
		return fmt.Errorf("%w: bucket", ErrInfluxConfig)
	}
	return nil
}

// PointWriter is the subset of api.WriteAPIBlocking used by InfluxSink.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxSink writes one point per measured operation.
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	now    func() time.Time
}

// NewInfluxSink connects a blocking write API to cfg's bucket.
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSink{
		client: client,
		writer: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		now:    time.Now,
	}, nil
}

// NewInfluxSinkWithWriter creates a sink over an existing writer.
func NewInfluxSinkWithWriter(w PointWriter) *InfluxSink {
	return &InfluxSink{writer: w, now: time.Now}
}

func (s *InfluxSink) Report(ctx context.Context, rep suite.OperationReport) error {
	p := s.point(rep, s.now())
	if p == nil {
		return nil
	}
	if err := s.writer.WritePoint(ctx, p); err != nil {
		return fmt.Errorf("write %s/%s: %w", rep.Group, rep.Name, err)
	}
	return nil
}

func (s *InfluxSink) ReportCombined(ctx context.Context, rep *worker.CombinedReport) error {
	ts := s.now()
	var points []*write.Point
	for _, w := range rep.Workers {
		for _, op := range w.Results {
			p := s.point(op, ts)
			if p == nil {
				continue
			}
			p.AddTag("run_id", rep.RunID).AddTag("worker_id", strconv.Itoa(w.WorkerID))
			points = append(points, p)
		}
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.writer.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write run %s: %w", rep.RunID, err)
	}
	return nil
}

// point returns nil for failed operations.
func (s *InfluxSink) point(rep suite.OperationReport, ts time.Time) *write.Point {
	if rep.Failed() {
		return nil
	}
	r := rep.Result
	return influxdb2.NewPointWithMeasurement(Measurement).
		AddTag("group", rep.Group).
		AddTag("operation", rep.Name).
		AddTag("strategy", r.Strategy().String()).
		AddField("samples", r.SampleCount).
		AddField("average_ns", r.Average).
		AddField("min_ns", r.Min).
		AddField("max_ns", r.Max).
		AddField("p75_ns", r.P75).
		AddField("p99_ns", r.P99).
		AddField("p995_ns", r.P995).
		SetTime(ts)
}

// Close releases the client.
func (s *InfluxSink) Close() {
	if s.client != nil {
		s.client.Close()
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/AleutianAI/AleutianBench/pkg/logging"
	"github.com/AleutianAI/AleutianBench/services/bench/history"
	"github.com/AleutianAI/AleutianBench/services/bench/report"
	"github.com/AleutianAI/AleutianBench/services/bench/telemetry"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

// Output formats accepted by --format.
const (
	formatAuto = "auto"
	formatText = "text"
	formatJSON = "json"
)

var (
	errUnknownFormat = errors.New("unknown output format")
	errNoHistoryDir  = errors.New("--history-dir or BENCH_HISTORY_DIR is required")
)

// globalOptions holds the persistent flags and the state they produce.
type globalOptions struct {
	logLevel      string
	logJSON       bool
	logDir        string
	format        string
	metricsAddr   string
	traceExporter string
	historyDir    string
	influx        report.InfluxConfig

	logger        *logging.Logger
	shutdown      func(context.Context) error
	metricsServer *http.Server
	closers       []func()
}

// execute runs benchctl with args. Telemetry, sinks and the logger are
// released even when the command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts := &globalOptions{influx: report.InfluxConfigFromEnv()}
	rootCmd := newRootCmd(opts)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, opts.teardown(ctx))
}

func newRootCmd(opts *globalOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "benchctl",
		Short:         "Measure operation latency with calibrated sampling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flags.BoolVar(&opts.logJSON, "log-json", false, "write logs as JSON")
	flags.StringVar(&opts.logDir, "log-dir", "", "also write JSON logs to this directory")
	flags.StringVar(&opts.format, "format", formatAuto, "report format: text, json or auto (styled text on a terminal, JSON otherwise)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&opts.traceExporter, "trace-exporter", envOr("OTEL_TRACES_EXPORTER", "none"), "otlp, stdout or none")
	flags.StringVar(&opts.historyDir, "history-dir", os.Getenv("BENCH_HISTORY_DIR"), "record runs in this directory (BENCH_HISTORY_DIR)")
	flags.StringVar(&opts.influx.URL, "influx-url", opts.influx.URL, "InfluxDB URL (INFLUXDB_URL)")
	flags.StringVar(&opts.influx.Token, "influx-token", opts.influx.Token, "InfluxDB token (INFLUXDB_TOKEN)")
	flags.StringVar(&opts.influx.Org, "influx-org", opts.influx.Org, "InfluxDB organization (INFLUXDB_ORG)")
	flags.StringVar(&opts.influx.Bucket, "influx-bucket", opts.influx.Bucket, "InfluxDB bucket (INFLUXDB_BUCKET)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newSuiteCmd(opts),
		newWorkerCmd(opts),
		newDemoCmd(opts),
		newTargetCmd(opts),
		newHistoryCmd(opts),
	)
	return rootCmd
}

// setup creates the logger and installs telemetry. Worker processes never
// serve metrics; their stdout belongs to the protocol.
func (o *globalOptions) setup(cmd *cobra.Command) error {
	level, err := logging.ParseLevel(o.logLevel)
	if err != nil {
		return err
	}
	switch o.format {
	case formatAuto, formatText, formatJSON:
	default:
		return fmt.Errorf("%w: %s", errUnknownFormat, o.format)
	}

	o.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  o.logDir,
		Service: "benchctl",
		JSON:    o.logJSON,
		Output:  cmd.ErrOrStderr(),
	})

	metricExporter := "none"
	if o.metricsAddr != "" && cmd.Name() != "worker" {
		metricExporter = "prometheus"
	}
	cfg := telemetry.DefaultConfig()
	cfg.TraceExporter = o.traceExporter
	cfg.MetricExporter = metricExporter
	cfg.Writer = cmd.ErrOrStderr()
	shutdown, err := telemetry.Init(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	o.shutdown = shutdown

	if metricExporter == "prometheus" {
		o.serveMetrics()
	}
	return nil
}

func (o *globalOptions) serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.MetricsHandler())
	o.metricsServer = &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := o.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("metrics server failed", "addr", o.metricsAddr, "error", err)
		}
	}()
	o.logger.Info("serving metrics", "addr", o.metricsAddr)
}

func (o *globalOptions) teardown(ctx context.Context) error {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	var errs []error
	if o.metricsServer != nil {
		errs = append(errs, o.metricsServer.Shutdown(ctx))
	}
	if o.shutdown != nil {
		errs = append(errs, o.shutdown(ctx))
	}
	if o.logger != nil {
		errs = append(errs, o.logger.Close())
	}
	return errors.Join(errs...)
}

func (o *globalOptions) slog() *slog.Logger {
	return o.logger.Slog()
}

// sink builds the report sink for w from --format, --metrics-addr,
// --history-dir and the InfluxDB settings.
func (o *globalOptions) sink(w io.Writer) (report.Sink, error) {
	sinks := report.Multi{o.formatSink(w)}

	if o.metricsAddr != "" {
		ms, err := report.NewMetricsSink(otel.Meter("bench.report"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ms)
	}

	if o.influx.URL != "" {
		is, err := report.NewInfluxSink(o.influx)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, is.Close)
		sinks = append(sinks, is)
	}

	if o.historyDir != "" {
		store, err := o.openHistory()
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, store)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// formatSink is the printing sink selected by --format.
func (o *globalOptions) formatSink(w io.Writer) report.Sink {
	switch o.format {
	case formatJSON:
		return report.NewJSONSink(w)
	case formatText:
		return report.NewTextSink(w, !isTerminal(w))
	}
	if isTerminal(w) {
		return report.NewTextSink(w, false)
	}
	return report.NewJSONSink(w)
}

func (o *globalOptions) openHistory() (*history.Store, error) {
	if o.historyDir == "" {
		return nil, errNoHistoryDir
	}
	store, err := history.Open(history.Config{Path: o.historyDir, SyncWrites: true})
	if err != nil {
		return nil, err
	}
	o.closers = append(o.closers, func() {
		if err := store.Close(); err != nil {
			o.logger.Warn("close history", "error", err)
		}
	})
	return store, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

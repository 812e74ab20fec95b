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
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/target"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func writeStrategy(t *testing.T, baseURL string) string {
	t.Helper()
	doc := `
base_url: ` + baseURL + `
virtual_users: 2
resources:
  - name: list tasks
    group: tasks
    iterations: 5
    request: {url: /api/v1/tasks}
  - name: health
    iterations: 3
    request: {url: /healthz}
`
	path := filepath.Join(t.TempDir(), "strategy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	return path
}

func decodeReports(t *testing.T, out string) []suite.OperationReport {
	t.Helper()
	var reports []suite.OperationReport
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var rep suite.OperationReport
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rep))
		reports = append(reports, rep)
	}
	return reports
}

func TestDemo_JSON(t *testing.T) {
	out, _, err := runCLI(t, "demo", "--format", "json", "--count", "3")
	require.NoError(t, err)

	reports := decodeReports(t, out)
	require.Len(t, reports, 4)
	assert.Equal(t, "Loops", reports[0].Group)
	assert.Equal(t, "for loop", reports[0].Name)
	assert.Equal(t, "Maps", reports[3].Group)
	for _, rep := range reports {
		assert.False(t, rep.Failed(), rep.Error)
	}
}

func TestDemo_TextPlain(t *testing.T) {
	out, _, err := runCLI(t, "demo", "--format", "text", "--count", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Loops / for loop")
	assert.Contains(t, out, "p99.5")
}

func TestDemo_LocalWorkers(t *testing.T) {
	out, _, err := runCLI(t, "demo", "--format", "json", "--count", "2", "--workers", "3")
	require.NoError(t, err)

	var combined worker.CombinedReport
	require.NoError(t, json.Unmarshal([]byte(out), &combined))
	require.Len(t, combined.Workers, 3)
	assert.Equal(t, 100, combined.Workers[0].WorkerID)
	assert.Equal(t, 102, combined.Workers[2].WorkerID)
	assert.Len(t, combined.Workers[1].Results, 4)
}

func TestSuite_AgainstTarget(t *testing.T) {
	srv := httptest.NewServer(target.New(target.Options{Seed: 2}))
	defer srv.Close()

	out, _, err := runCLI(t, "suite", "--format", "json", "-c", writeStrategy(t, srv.URL))
	require.NoError(t, err)

	reports := decodeReports(t, out)
	require.Len(t, reports, 2)
	assert.Equal(t, "tasks", reports[0].Group)
	assert.Equal(t, 5, reports[0].Result.SampleCount)
	assert.Equal(t, 3, reports[1].Result.SampleCount)
}

func TestRun_LocalMode(t *testing.T) {
	srv := httptest.NewServer(target.New(target.Options{Seed: 2}))
	defer srv.Close()

	out, _, err := runCLI(t, "run", "--mode", "local", "--format", "json", "-c", writeStrategy(t, srv.URL))
	require.NoError(t, err)

	var combined worker.CombinedReport
	require.NoError(t, json.Unmarshal([]byte(out), &combined))
	assert.NotEmpty(t, combined.RunID)
	require.Len(t, combined.Workers, 2)
	for _, w := range combined.Workers {
		require.Len(t, w.Results, 2)
		assert.Equal(t, 5, w.Results[0].Result.SampleCount)
	}
}

func TestWorker_StreamsProtocol(t *testing.T) {
	srv := httptest.NewServer(target.New(target.Options{}))
	defer srv.Close()

	out, _, err := runCLI(t, "worker", "--id", "107", "-c", writeStrategy(t, srv.URL))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)

	var started, finished worker.Message
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &started))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &finished))
	assert.Equal(t, worker.MessageStarted, started.Type)
	assert.Equal(t, worker.MessageFinished, finished.Type)

	var payload worker.FinishedPayload
	require.NoError(t, json.Unmarshal(finished.Payload, &payload))
	assert.Positive(t, payload.TotalRuntime)
	assert.Contains(t, payload.Results, `"list tasks"`)
}

func TestWorker_RequiresID(t *testing.T) {
	t.Setenv(worker.EnvWorkerID, "")
	os.Unsetenv(worker.EnvWorkerID)

	_, _, err := runCLI(t, "worker", "-c", writeStrategy(t, "http://localhost:1"))
	assert.Error(t, err)
}

func TestRun_WorkerArgsFollowLoggingFlags(t *testing.T) {
	logDir := t.TempDir()
	opts := &globalOptions{logLevel: "debug", logJSON: true, logDir: logDir, traceExporter: "none"}

	args := opts.workerArgs("strategy.yaml", 101)

	assert.Equal(t, []string{
		"worker",
		"--config", "strategy.yaml",
		"--id", "101",
		"--log-level", "debug",
		"--trace-exporter", "none",
		"--log-json",
		"--log-dir", logDir,
	}, args)

	child := &globalOptions{}
	cmd, rest, err := newRootCmd(child).Find(args)
	require.NoError(t, err)
	require.Equal(t, "worker", cmd.Name())
	require.NoError(t, cmd.ParseFlags(rest))
	assert.True(t, child.logJSON)
	assert.Equal(t, logDir, child.logDir)
	assert.Equal(t, "debug", child.logLevel)

	plain := (&globalOptions{logLevel: "info", traceExporter: "none"}).workerArgs("s.yaml", 100)
	assert.NotContains(t, plain, "--log-json")
	assert.NotContains(t, plain, "--log-dir")
}

func TestRoot_RejectsBadFlags(t *testing.T) {
	_, _, err := runCLI(t, "demo", "--format", "xml")
	assert.ErrorIs(t, err, errUnknownFormat)

	_, _, err = runCLI(t, "demo", "--log-level", "loud")
	assert.Error(t, err)

	_, _, err = runCLI(t, "run", "--mode", "remote", "-c", writeStrategy(t, "http://localhost:1"))
	assert.ErrorIs(t, err, errUnknownMode)

	_, _, err = runCLI(t, "run")
	assert.Error(t, err)
}

func TestHistory_RecordListShow(t *testing.T) {
	dir := t.TempDir()

	_, _, err := runCLI(t, "demo", "--format", "json", "--count", "2", "--workers", "2", "--history-dir", dir)
	require.NoError(t, err)

	out, _, err := runCLI(t, "history", "list", "--history-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "workers: 2")
	assert.Contains(t, out, "operations: 8")

	runID := strings.TrimSpace(strings.SplitN(out, "\n", 2)[0])
	out, _, err = runCLI(t, "history", "show", runID, "--format", "json", "--history-dir", dir)
	require.NoError(t, err)

	var combined worker.CombinedReport
	require.NoError(t, json.Unmarshal([]byte(out), &combined))
	assert.Equal(t, runID, combined.RunID)
	assert.Len(t, combined.Workers, 2)
}

func TestHistory_RequiresDir(t *testing.T) {
	t.Setenv("BENCH_HISTORY_DIR", "")
	_, _, err := runCLI(t, "history", "list")
	assert.ErrorIs(t, err, errNoHistoryDir)
}

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
	"encoding/json"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func finishedFor(t *testing.T, id int) Message {
	t.Helper()
	msg, err := Finished(time.Duration(id)*time.Millisecond, []suite.OperationReport{{
		Group:  "Loops",
		Name:   "for",
		Result: &measure.Result{SampleCount: 1, Samples: []int64{int64(id)}, Min: int64(id), Max: int64(id)},
	}})
	require.NoError(t, err)
	return msg
}

func ids(n int) []int {
	return Config{Workers: n, FirstID: 100}.WorkerIDs()
}

func TestFinished_RoundTripsThroughDecode(t *testing.T) {
	msg := finishedFor(t, 7)
	rep, err := decodeFinished(7, msg.Payload)

	require.NoError(t, err)
	assert.Equal(t, 7, rep.WorkerID)
	assert.Equal(t, 7*time.Millisecond, rep.TotalRuntime)
	require.Len(t, rep.Results, 1)
	assert.Equal(t, "Loops", rep.Results[0].Group)
	assert.NotEmpty(t, rep.SerializedResults)
}

func TestAccumulator_CompletesOnceUnderRandomOrder(t *testing.T) {
	const workers = 8
	for trial := 0; trial < 20; trial++ {
		workerIDs := ids(workers)
		var fired int
		var got []WorkerReport
		acc := NewAccumulator(workerIDs, func(reports []WorkerReport) {
			fired++
			got = reports
		}, quietLogger())

		order := append([]int(nil), workerIDs...)
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for i, id := range order {
			acc.Observe(id, Started())
			done := acc.Observe(id, finishedFor(t, id))
			if i < workers-1 {
				require.False(t, done, "completed after %d of %d", i+1, workers)
				require.Zero(t, fired)
			} else {
				require.True(t, done)
			}
		}

		require.Equal(t, 1, fired)
		require.Len(t, got, workers)
		for i, rep := range got {
			assert.Equal(t, 100+i, rep.WorkerID)
		}

		// Late duplicates never re-trigger.
		acc.Observe(order[0], finishedFor(t, order[0]))
		assert.Equal(t, 1, fired)
	}
}

func TestAccumulator_ConcurrentObserveFiresOnce(t *testing.T) {
	const workers = 32
	var fired atomic.Int32
	acc := NewAccumulator(ids(workers), func([]WorkerReport) { fired.Add(1) }, quietLogger())

	var wg sync.WaitGroup
	for _, id := range ids(workers) {
		msg := finishedFor(t, id)
		for dup := 0; dup < 3; dup++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				acc.Observe(id, msg)
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), fired.Load())
	assert.True(t, acc.Complete())
	assert.Equal(t, workers, acc.Received())
}

func TestAccumulator_DiscardsInvalidMessages(t *testing.T) {
	var fired int
	acc := NewAccumulator(ids(2), func([]WorkerReport) { fired++ }, quietLogger())

	tests := []struct {
		name string
		id   int
		msg  Message
	}{
		{"unknown type", 100, Message{Type: "PAUSED"}},
		{"unknown worker", 999, finishedFor(t, 999)},
		{"missing payload", 100, Message{Type: MessageFinished}},
		{"undecodable payload", 100, Message{Type: MessageFinished, Payload: json.RawMessage(`{"results":42}`)}},
		{"undecodable results", 101, Message{Type: MessageFinished, Payload: json.RawMessage(`{"total_runtime_ns":1,"results":"not json"}`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, acc.Observe(tt.id, tt.msg))
			assert.Zero(t, acc.Received())
		})
	}

	assert.Equal(t, []int{100, 101}, acc.Missing())
	assert.False(t, acc.Observe(100, finishedFor(t, 100)))
	assert.False(t, acc.Observe(100, finishedFor(t, 100)))
	assert.Equal(t, 1, acc.Received())
	assert.True(t, acc.Finished(100))
	assert.False(t, acc.Finished(101))

	assert.True(t, acc.Observe(101, finishedFor(t, 101)))
	assert.Equal(t, 1, fired)
	assert.Empty(t, acc.Missing())
}

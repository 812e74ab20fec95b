// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package httpop

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/target"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestClient_Resolve(t *testing.T) {
	c := New("http://localhost:8080/")
	assert.Equal(t, "http://localhost:8080/api/v1/tasks", c.Resolve("/api/v1/tasks"))
	assert.Equal(t, "https://other/x", c.Resolve("https://other/x"))
}

func TestClient_OperationAgainstTarget(t *testing.T) {
	srv := httptest.NewServer(target.New(target.Options{Seed: 1}))
	defer srv.Close()

	c := New(srv.URL)
	ctx := context.Background()

	list, err := c.Operation(ctx, "list", config.Request{URL: "/api/v1/tasks"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, list())

	create, err := c.Operation(ctx, "create", config.Request{
		URL:    "/api/v1/tasks",
		Method: http.MethodPost,
		Body:   map[string]any{"name": "bench", "priority": 2},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, create())

	missing, err := c.Operation(ctx, "missing", config.Request{URL: "/api/v1/tasks/999"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, missing())
}

func TestClient_OperationSendsHeaders(t *testing.T) {
	var seen atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Clone())
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	op, err := New(srv.URL).Operation(context.Background(), "h", config.Request{
		URL:     "/",
		Headers: map[string]string{"Authorization": "Basic abc"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, op())

	h := seen.Load().(http.Header)
	assert.Equal(t, "Basic abc", h.Get("Authorization"))
	assert.Equal(t, UserAgent, h.Get("User-Agent"))
}

func TestClient_TransportErrorIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	op, err := New(url, WithHTTPClient(&http.Client{Timeout: time.Second})).
		Operation(context.Background(), "down", config.Request{URL: "/"})
	require.NoError(t, err)

	_, isErr := op().(error)
	assert.True(t, isErr)
}

func TestClient_OperationRejectsMalformedURL(t *testing.T) {
	_, err := New("http://x").Operation(context.Background(), "bad", config.Request{URL: "http://[::1"})
	assert.Error(t, err)
}

func TestBuildRegistry(t *testing.T) {
	srv := httptest.NewServer(target.New(target.Options{Seed: 3}))
	defer srv.Close()

	doc := `
base_url: ` + srv.URL + `
virtual_users: 1
resources:
  - name: list
    group: tasks
    iterations: 5
    request: {url: /api/v1/tasks}
  - name: health
    iterations: 4
    request: {url: /healthz}
  - name: get
    group: tasks
    iterations: 3
    request: {url: /api/v1/tasks/1}
`
	s, err := config.Parse([]byte(doc))
	require.NoError(t, err)

	engine := measure.NewEngine()
	registry, err := BuildRegistry(context.Background(), s, New(s.BaseURL), engine)
	require.NoError(t, err)

	assert.Equal(t, []string{"tasks", config.DefaultGroup}, registry.Groups())

	reports, err := registry.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, "list", reports[0].Name)
	assert.Equal(t, "get", reports[1].Name)
	assert.Equal(t, "health", reports[2].Name)

	counts := map[string]int{}
	for _, r := range reports {
		require.False(t, r.Failed(), r.Error)
		counts[r.Name] = r.Result.SampleCount
	}
	assert.Equal(t, map[string]int{"list": 5, "get": 3, "health": 4}, counts)

	raw, err := json.Marshal(reports[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"sample_count":5`)
}

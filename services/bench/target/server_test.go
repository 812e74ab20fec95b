// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package target

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestTarget_TaskLifecycle(t *testing.T) {
	router := New(Options{Seed: 2})

	w := do(t, router, http.MethodGet, "/api/v1/tasks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tasks))
	require.Len(t, tasks, 2)
	assert.Equal(t, "seed-1", tasks[0].Name)

	w = do(t, router, http.MethodPost, "/api/v1/tasks", `{"name":"benchmark","priority":3}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var created Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, 3, created.ID)

	w = do(t, router, http.MethodGet, "/api/v1/tasks/3", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodDelete, "/api/v1/tasks/3", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/tasks/3", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTarget_Validation(t *testing.T) {
	router := New(Options{})

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/v1/tasks", `{"priority":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/v1/tasks/abc", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodDelete, "/api/v1/tasks/9", "").Code)
}

func TestTarget_HealthAndMetrics(t *testing.T) {
	router := New(Options{})
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/metrics", "").Code)
}

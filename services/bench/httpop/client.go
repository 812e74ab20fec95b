// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package httpop turns configured HTTP resources into measurable operations.
package httpop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/config"
	"github.com/AleutianAI/AleutianBench/services/bench/measure"
	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UserAgent identifies benchmark traffic on the target.
const UserAgent = "AleutianBench"

var requestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bench",
	Subsystem: "http",
	Name:      "errors_total",
	Help:      "HTTP operations that failed or returned a non-2xx status",
}, []string{"operation", "kind"})

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// Client issues the requests of one worker. Connections are reused across
// invocations of the same operation.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve joins a relative request path with the base URL.
func (c *Client) Resolve(target string) string {
	if strings.HasPrefix(target, "/") {
		return c.baseURL + target
	}
	return target
}

// Operation builds a measurable operation for req.
//
// Description:
//
//	Each invocation performs one blocking request, drains and closes the
//	body and returns the status code. Transport failures are returned as
//	the error value. Both failures and non-2xx statuses are counted in
//	bench_http_errors_total; they do not stop sampling.
//
// Inputs:
//   - ctx: Bounds every request issued by the operation.
//   - name: Label for error counting.
//   - req: The configured request.
//
// Outputs:
//   - measure.Operation: The operation.
//   - error: When the body cannot be encoded or the request is malformed.
func (c *Client) Operation(ctx context.Context, name string, req config.Request) (measure.Operation, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.Resolve(req.URL)

	var body []byte
	if len(req.Body) > 0 && method != http.MethodGet && method != http.MethodHead {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("encode body of %s: %w", name, err)
		}
		body = encoded
	}

	// Validate once so a malformed URL fails at build time.
	if _, err := http.NewRequestWithContext(ctx, method, target, nil); err != nil {
		return nil, fmt.Errorf("build request %s: %w", name, err)
	}

	return func() any {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		r, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			requestErrors.WithLabelValues(name, "request").Inc()
			return err
		}
		r.Header.Set("User-Agent", UserAgent)
		if body != nil {
			r.Header.Set("Content-Type", "application/json")
		}
		for k, v := range req.Headers {
			r.Header.Set(k, v)
		}

		resp, err := c.http.Do(r)
		if err != nil {
			requestErrors.WithLabelValues(name, "transport").Inc()
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			requestErrors.WithLabelValues(name, "status").Inc()
		}
		return resp.StatusCode
	}, nil
}

// BuildRegistry creates one worker's registry from a strategy.
//
// Description:
//
//	Resources are grouped by GroupName in first-appearance order. A resource
//	with Iterations > 0 is sampled exactly that many times; the rest use the
//	strategy's time budget with the default sample floor.
func BuildRegistry(ctx context.Context, s *config.Strategy, client *Client, engine *measure.Engine) (*suite.Registry, error) {
	registry := suite.NewRegistry(engine)
	groups := make(map[string]*suite.Group)
	var order []*suite.Group

	for _, res := range s.Resources {
		op, err := client.Operation(ctx, res.Name, res.Request)
		if err != nil {
			return nil, err
		}
		budget := measure.Budget{Time: s.Budget(), Floor: measure.SamplingFloor}
		if res.Iterations > 0 {
			budget = measure.CountBudget(res.Iterations)
		}

		name := res.GroupName()
		g, ok := groups[name]
		if !ok {
			g = suite.NewGroup(name)
			groups[name] = g
			order = append(order, g)
		}
		g.Add(res.Name, op, suite.WithBudget(budget))
	}

	for _, g := range order {
		if err := registry.Register(g); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads benchmark strategy files.
//
// A strategy file describes an HTTP target, the number of virtual users
// (workers) and the resources each worker measures:
//
//	base_url: http://localhost:8080
//	virtual_users: 4
//	warmup_duration: 1
//	resources:
//	  - name: list tasks
//	    iterations: 100
//	    request:
//	      url: /api/v1/tasks
//	      method: GET
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------
// Defaults
// -----------------------------------------------------------------------------

const (
	// DefaultGroup holds resources that do not name a group.
	DefaultGroup = "resources"

	// DefaultBudgetMs is the sampling time budget for count-less resources.
	DefaultBudgetMs = 10

	// DefaultWorkerTimeout bounds an orchestrated run.
	DefaultWorkerTimeout = 10 * time.Minute

	// DefaultMethod is used when a request omits its method.
	DefaultMethod = "GET"
)

// ErrInvalidConfig wraps every load, parse and validation failure.
var ErrInvalidConfig = errors.New("invalid benchmark config")

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Strategy is the root of a strategy file.
type Strategy struct {
	BaseURL        string        `yaml:"base_url" validate:"required,url"`
	VirtualUsers   int           `yaml:"virtual_users" validate:"required,min=1,max=1024"`
	WarmupDuration int           `yaml:"warmup_duration" validate:"min=0"`
	RampUpRate     float64       `yaml:"ramp_up_rate" validate:"min=0"`
	BudgetMs       int           `yaml:"budget_ms" validate:"min=0"`
	RetainValues   *bool         `yaml:"retain_values"`
	WorkerTimeout  time.Duration `yaml:"worker_timeout" validate:"min=0"`
	Resources      []Resource    `yaml:"resources" validate:"required,min=1,dive"`
}

// Resource is one measured HTTP request.
type Resource struct {
	Name       string  `yaml:"name" validate:"required"`
	Group      string  `yaml:"group"`
	Iterations int     `yaml:"iterations" validate:"min=0"`
	Request    Request `yaml:"request"`
}

// Request describes the HTTP call.
type Request struct {
	URL     string            `yaml:"url" validate:"required,endpoint"`
	Method  string            `yaml:"method" validate:"omitempty,oneof=GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Headers map[string]string `yaml:"headers"`
	Body    map[string]any    `yaml:"body"`
}

// Warmup returns the warm-up wait as a duration.
func (s *Strategy) Warmup() time.Duration {
	return time.Duration(s.WarmupDuration) * time.Second
}

// Budget returns the sampling time budget.
func (s *Strategy) Budget() time.Duration {
	return time.Duration(s.BudgetMs) * time.Millisecond
}

// Retain reports whether batch return values are retained.
func (s *Strategy) Retain() bool {
	return s.RetainValues == nil || *s.RetainValues
}

// GroupName returns the resource's group or DefaultGroup.
func (r Resource) GroupName() string {
	if r.Group == "" {
		return DefaultGroup
	}
	return r.Group
}

// -----------------------------------------------------------------------------
// Loading
// -----------------------------------------------------------------------------

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("endpoint", validateEndpoint)
}

// validateEndpoint accepts an absolute http(s) URL or a path relative to
// base_url.
func validateEndpoint(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if strings.HasPrefix(raw, "/") {
		return true
	}
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Load reads and validates the strategy file at path.
func Load(path string) (*Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a strategy document, applies defaults and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (*Strategy, error) {
	var s Strategy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidConfig, err)
	}
	s.applyDefaults()
	if err := validate.Struct(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return &s, nil
}

func (s *Strategy) applyDefaults() {
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if s.BudgetMs == 0 {
		s.BudgetMs = DefaultBudgetMs
	}
	if s.WorkerTimeout == 0 {
		s.WorkerTimeout = DefaultWorkerTimeout
	}
	for i := range s.Resources {
		r := &s.Resources[i]
		r.Request.Method = strings.ToUpper(r.Request.Method)
		if r.Request.Method == "" {
			r.Request.Method = DefaultMethod
		}
	}
}

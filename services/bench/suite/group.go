// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suite

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianBench/services/bench/measure"
)

// -----------------------------------------------------------------------------
// Entry Options
// -----------------------------------------------------------------------------

// EntryOption configures a single operation inside a Group.
type EntryOption func(*entry)

// WithBudget overrides the engine's sampling budget for one operation.
//
// Example:
//
//	group.Add("GET /tasks", op, suite.WithBudget(measure.CountBudget(100)))
func WithBudget(b measure.Budget) EntryOption {
	return func(e *entry) {
		e.budget = &b
	}
}

type entry struct {
	name   string
	op     measure.Operation
	budget *measure.Budget
}

// -----------------------------------------------------------------------------
// Group
// -----------------------------------------------------------------------------

// Group is a named, insertion-ordered collection of operations.
//
// Description:
//
//	Adding an operation under an existing name replaces it in place, so the
//	original position is kept. Once the owning Registry has run, the group
//	is sealed and further Add calls are rejected; the rejection is recorded
//	and returned by Err.
//
// Thread Safety:
//
//	Not safe for concurrent use. Build groups before registering them.
type Group struct {
	name    string
	entries []*entry
	index   map[string]int
	sealed  bool
	errs    []error
}

// NewGroup creates an empty group.
func NewGroup(name string) *Group {
	return &Group{name: name, index: make(map[string]int)}
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.name
}

// Add registers op under name and returns g for chaining.
func (g *Group) Add(name string, op measure.Operation, opts ...EntryOption) *Group {
	if g.sealed {
		g.errs = append(g.errs, fmt.Errorf("add %q to group %q: %w", name, g.name, ErrSealed))
		return g
	}
	if op == nil {
		g.errs = append(g.errs, fmt.Errorf("add %q to group %q: %w", name, g.name, measure.ErrNilOperation))
		return g
	}

	e := &entry{name: name, op: op}
	for _, opt := range opts {
		opt(e)
	}
	if i, ok := g.index[name]; ok {
		g.entries[i] = e
		return g
	}
	g.index[name] = len(g.entries)
	g.entries = append(g.entries, e)
	return g
}

// Len returns the number of operations.
func (g *Group) Len() int {
	return len(g.entries)
}

// Names returns operation names in registration order.
func (g *Group) Names() []string {
	names := make([]string, len(g.entries))
	for i, e := range g.entries {
		names[i] = e.name
	}
	return names
}

// Err returns the accumulated Add errors, if any.
func (g *Group) Err() error {
	return errors.Join(g.errs...)
}

func (g *Group) seal() {
	g.sealed = true
}

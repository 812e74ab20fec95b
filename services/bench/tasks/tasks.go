// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tasks holds the built-in demonstration operations.
package tasks

import (
	"sync"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
)

// LoopIterations is the trip count of the loop operations.
const LoopIterations = 10_000

// ForLoop counts to LoopIterations with a three-clause for loop.
func ForLoop() any {
	n := 0
	for i := 0; i <= LoopIterations; i++ {
		n++
	}
	return n
}

// WhileLoop counts to LoopIterations with a condition-only loop.
func WhileLoop() any {
	var i int64
	for i < LoopIterations {
		i++
	}
	return i
}

// BuiltinMap stores and reads two entries in a map literal.
func BuiltinMap() any {
	ages := make(map[string]int)
	ages["John"] = 32
	ages["Jane"] = 27
	return ages["John"]
}

// SyncMap does the same with a sync.Map.
func SyncMap() any {
	var ages sync.Map
	ages.Store("John", 32)
	ages.Store("Jane", 27)
	v, _ := ages.Load("John")
	return v
}

// Loops returns the "Loops" group.
func Loops() *suite.Group {
	return suite.NewGroup("Loops").
		Add("for loop", ForLoop).
		Add("while loop", WhileLoop)
}

// Maps returns the "Maps" group.
func Maps() *suite.Group {
	return suite.NewGroup("Maps").
		Add("map", BuiltinMap).
		Add("sync.Map", SyncMap)
}

// Register adds every demo group to r.
func Register(r *suite.Registry) error {
	for _, g := range []*suite.Group{Loops(), Maps()} {
		if err := r.Register(g); err != nil {
			return err
		}
	}
	return nil
}

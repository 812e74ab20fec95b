// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianBench/services/bench/suite"
	"github.com/AleutianAI/AleutianBench/services/bench/worker"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// LocalWorkerID marks reports produced by a single-process run.
const LocalWorkerID = 0

const (
	runPrefix = "run/"
	idPrefix  = "id/"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("history: run not found")

// Record is one stored run.
type Record struct {
	RunID   string                `json:"run_id"`
	Started time.Time             `json:"started"`
	Elapsed time.Duration         `json:"elapsed_ns"`
	Workers []worker.WorkerReport `json:"workers"`
}

// Operations returns the number of operation reports across all workers.
func (r *Record) Operations() int {
	n := 0
	for _, w := range r.Workers {
		n += len(w.Results)
	}
	return n
}

// Store persists run records. It is also a report sink: combined reports
// are stored as one record, and per-operation reports of a single-process
// run accumulate into a record created on first use.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db  *badger.DB
	now func() time.Time

	mu    sync.Mutex
	local *Record
	start time.Time
}

// Open opens the history database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Report appends rep to the record of the current single-process run.
func (s *Store) Report(_ context.Context, rep suite.OperationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		s.start = s.now()
		s.local = &Record{
			RunID:   uuid.NewString(),
			Started: s.start,
			Workers: []worker.WorkerReport{{WorkerID: LocalWorkerID}},
		}
	}
	w := &s.local.Workers[0]
	w.Results = append(w.Results, rep)
	s.local.Elapsed = s.now().Sub(s.start)
	w.TotalRuntime = s.local.Elapsed
	return s.Save(s.local)
}

// ReportCombined stores a combined multi-worker report.
func (s *Store) ReportCombined(_ context.Context, rep *worker.CombinedReport) error {
	return s.Save(&Record{
		RunID:   rep.RunID,
		Started: s.now().Add(-rep.Elapsed),
		Elapsed: rep.Elapsed,
		Workers: rep.Workers,
	})
}

// Save writes rec, replacing any record with the same run id.
func (s *Store) Save(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", rec.RunID, err)
	}
	key := runKey(rec.Started, rec.RunID)

	err = s.db.Update(func(txn *badger.Txn) error {
		if item, err := txn.Get([]byte(idPrefix + rec.RunID)); err == nil {
			old, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if string(old) != string(key) {
				if err := txn.Delete(old); err != nil {
					return err
				}
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set([]byte(idPrefix+rec.RunID), key)
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", rec.RunID, err)
	}
	return nil
}

// Get loads the record for runID.
func (s *Store) Get(runID string) (*Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(idPrefix + runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, runID)
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (s *Store) List(limit int) ([]*Record, error) {
	var out []*Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last key with the prefix.
		for it.Seek([]byte(runPrefix + "\xff")); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, &rec)
			if limit > 0 && len(out) == limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func runKey(started time.Time, runID string) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", runPrefix, started.UnixNano(), runID))
}

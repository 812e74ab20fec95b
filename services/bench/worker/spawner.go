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
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrTerminated is returned by Emit after the worker has been terminated.
var ErrTerminated = errors.New("worker terminated")

// Spawner starts workers.
type Spawner interface {
	// Spawn starts worker id. The worker runs until it returns or is
	// terminated through the Handle.
	Spawn(ctx context.Context, id int) (Handle, error)
}

// Handle is the orchestrator's view of one running worker.
type Handle interface {
	ID() int

	// Messages delivers the worker's messages in send order. It is closed
	// when the worker exits.
	Messages() <-chan Message

	// Terminate stops the worker. Safe to call more than once.
	Terminate() error
}

// Emitter is the worker's side of the message channel.
type Emitter interface {
	Emit(ctx context.Context, msg Message) error
}

// Body is the work a worker performs.
type Body func(ctx context.Context, id int, emit Emitter) error

// -----------------------------------------------------------------------------
// LocalSpawner
// -----------------------------------------------------------------------------

// LocalSpawner runs workers as goroutines inside the orchestrator process.
// Each worker still owns its state; the only shared object is its channel.
type LocalSpawner struct {
	body   Body
	logger *slog.Logger
}

// NewLocalSpawner creates a spawner that runs body for every worker.
func NewLocalSpawner(body Body, logger *slog.Logger) *LocalSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSpawner{body: body, logger: logger}
}

// Spawn starts body on a new goroutine.
func (s *LocalSpawner) Spawn(ctx context.Context, id int) (Handle, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &localHandle{
		id:     id,
		ch:     make(chan Message, 4),
		cancel: cancel,
		ctx:    ctx,
	}
	go func() {
		defer close(h.ch)
		if err := s.body(ctx, id, h); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("worker failed", slog.Int("worker_id", id), slog.String("error", err.Error()))
		}
	}()
	return h, nil
}

type localHandle struct {
	id     int
	ch     chan Message
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (h *localHandle) ID() int                  { return h.id }
func (h *localHandle) Messages() <-chan Message { return h.ch }

func (h *localHandle) Terminate() error {
	h.once.Do(h.cancel)
	return nil
}

// Emit delivers msg unless the worker was terminated first.
func (h *localHandle) Emit(ctx context.Context, msg Message) error {
	select {
	case h.ch <- msg:
		return nil
	case <-h.ctx.Done():
		return ErrTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// EnvWorkerID carries the worker id into a spawned worker process.
const EnvWorkerID = "BENCH_WORKER_ID"

// maxLineSize bounds a single protocol line. FINISHED payloads carry every
// sample of every operation, so this is generous.
const maxLineSize = 64 << 20

// -----------------------------------------------------------------------------
// ProcessSpawner
// -----------------------------------------------------------------------------

// ProcessSpawner runs each worker as a child process.
//
// Description:
//
//	The child writes one JSON Message per line to stdout and logs to
//	stderr. Lines that do not decode as a Message are logged and dropped.
//	Terminate kills the child.
type ProcessSpawner struct {
	// Path is the executable, usually os.Executable().
	Path string

	// Args builds the argument list for worker id.
	Args func(id int) []string

	// Stderr receives the child's stderr. Defaults to os.Stderr.
	Stderr io.Writer

	logger *slog.Logger
}

// NewProcessSpawner creates a ProcessSpawner.
func NewProcessSpawner(path string, args func(id int) []string, logger *slog.Logger) *ProcessSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSpawner{Path: path, Args: args, Stderr: os.Stderr, logger: logger}
}

// Spawn starts the child process for worker id.
func (s *ProcessSpawner) Spawn(ctx context.Context, id int) (Handle, error) {
	var args []string
	if s.Args != nil {
		args = s.Args(id)
	}
	cmd := exec.CommandContext(ctx, s.Path, args...)
	cmd.Env = append(os.Environ(), EnvWorkerID+"="+strconv.Itoa(id))
	cmd.Stderr = s.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker %d stdout: %w", id, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %d: %w", id, err)
	}

	h := &processHandle{id: id, cmd: cmd, ch: make(chan Message, 4), done: make(chan struct{})}
	go h.read(stdout, s.logger)
	return h, nil
}

type processHandle struct {
	id   int
	cmd  *exec.Cmd
	ch   chan Message
	done chan struct{}
	once sync.Once
	err  error
}

func (h *processHandle) ID() int                  { return h.id }
func (h *processHandle) Messages() <-chan Message { return h.ch }

func (h *processHandle) Terminate() error {
	h.once.Do(func() {
		close(h.done)
		if h.cmd.Process == nil {
			return
		}
		if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.err = fmt.Errorf("kill worker %d: %w", h.id, err)
		}
	})
	return h.err
}

func (h *processHandle) read(stdout io.Reader, logger *slog.Logger) {
	defer close(h.ch)

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			messagesDiscarded.WithLabelValues("undecodable").Inc()
			logger.Warn("received invalid message, discarding",
				slog.Int("worker_id", h.id),
				slog.String("error", err.Error()),
			)
			continue
		}
		select {
		case h.ch <- msg:
		case <-h.done:
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn("worker stdout closed", slog.Int("worker_id", h.id), slog.String("error", err.Error()))
	}
	if err := h.cmd.Wait(); err != nil {
		logger.Debug("worker exited", slog.Int("worker_id", h.id), slog.String("error", err.Error()))
	}
}

// -----------------------------------------------------------------------------
// Worker side
// -----------------------------------------------------------------------------

// StreamEmitter writes newline-delimited JSON messages to w.
type StreamEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStreamEmitter creates an Emitter over w, typically os.Stdout.
func NewStreamEmitter(w io.Writer) *StreamEmitter {
	return &StreamEmitter{enc: json.NewEncoder(w)}
}

// Emit writes msg as a single line.
func (e *StreamEmitter) Emit(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(msg); err != nil {
		return fmt.Errorf("emit %s: %w", msg.Type, err)
	}
	return nil
}

// IDFromEnv reads the worker id set by ProcessSpawner.
func IDFromEnv() (int, error) {
	raw, ok := os.LookupEnv(EnvWorkerID)
	if !ok {
		return 0, fmt.Errorf("%s not set", EnvWorkerID)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", EnvWorkerID, err)
	}
	return id, nil
}

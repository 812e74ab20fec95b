// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 80 * time.Millisecond

// Spinner is an animated status line. In plain mode it prints the message
// once and never animates.
type Spinner struct {
	printer    *Printer
	message    string
	stop       chan struct{}
	done       chan struct{}
	mu         sync.Mutex
	isRunning  bool
	frameIndex int
}

// NewSpinner creates a spinner writing to w.
func NewSpinner(w io.Writer, plain bool, message string) *Spinner {
	return &Spinner{
		printer: NewPrinter(w, plain),
		message: message,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start begins the animation. Calling Start twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true

	if s.printer.plain {
		fmt.Fprintf(s.printer.w, "PROGRESS: %s\n", s.message)
		close(s.done)
		return
	}

	go s.animate()
}

func (s *Spinner) animate() {
	defer close(s.done)
	frames := spinnerFrames
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			fmt.Fprint(s.printer.w, "\r\033[K")
			return
		case <-ticker.C:
			s.mu.Lock()
			frame := Styles.Highlight.Render(frames[s.frameIndex])
			fmt.Fprintf(s.printer.w, "\r\033[K%s %s", frame, s.message)
			s.frameIndex = (s.frameIndex + 1) % len(frames)
			s.mu.Unlock()
		}
	}
}

// Stop halts the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	if !s.printer.plain {
		close(s.stop)
	}
	<-s.done
}

// Message returns the current message.
func (s *Spinner) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// StopWithSuccess stops and prints a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.Stop()
	s.printer.Success(message)
}

// StopWithError stops and prints an error line.
func (s *Spinner) StopWithError(message string) {
	s.Stop()
	s.printer.Error(message)
}

// ProgressSpinner is a spinner with a [current/total] suffix.
type ProgressSpinner struct {
	*Spinner
	base    string
	current int
	total   int
}

// NewProgressSpinner creates a spinner counting up to total.
func NewProgressSpinner(w io.Writer, plain bool, message string, total int) *ProgressSpinner {
	p := &ProgressSpinner{Spinner: NewSpinner(w, plain, message), base: message, total: total}
	p.message = p.format()
	return p
}

// SetProgress sets the current count.
func (p *ProgressSpinner) SetProgress(current int) {
	p.mu.Lock()
	p.current = current
	p.message = p.format()
	p.mu.Unlock()
}

// Progress returns the current count and the total.
func (p *ProgressSpinner) Progress() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.total
}

func (p *ProgressSpinner) format() string {
	return fmt.Sprintf("%s [%d/%d]", p.base, p.current, p.total)
}

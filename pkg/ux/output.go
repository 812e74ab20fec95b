// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides the terminal styling used by benchctl reports.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Palette
// =============================================================================

var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles holds the shared lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	ErrorBox  lipgloss.Style
	Label     lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
	Label: lipgloss.NewStyle().Foreground(ColorTealPrimary).Width(14),
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon in its semantic color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	default:
		return string(i)
	}
}

// =============================================================================
// Printer
// =============================================================================

// Printer writes styled or plain lines to a writer.
//
// Plain output carries no ANSI sequences and no box drawing, for pipes and
// log collectors.
type Printer struct {
	w     io.Writer
	plain bool
}

// NewPrinter creates a Printer. Set plain when w is not a terminal.
func NewPrinter(w io.Writer, plain bool) *Printer {
	return &Printer{w: w, plain: plain}
}

// Plain reports whether the printer strips styling.
func (p *Printer) Plain() bool {
	return p.plain
}

// Title prints a section heading.
func (p *Printer) Title(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "== %s ==\n", text)
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a line prefixed with a check mark.
func (p *Printer) Success(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.plain {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Box prints title and key/value rows inside a rounded box.
func (p *Printer) Box(title string, rows [][2]string) {
	if p.plain {
		fmt.Fprintf(p.w, "%s\n", title)
		for _, r := range rows {
			fmt.Fprintf(p.w, "  %s: %s\n", r[0], r[1])
		}
		return
	}
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, Styles.Title.Render(title))
	for _, r := range rows {
		lines = append(lines, Styles.Label.Render(r[0])+r[1])
	}
	fmt.Fprintln(p.w, Styles.Box.Render(strings.Join(lines, "\n")))
}

// ErrorBox prints a failure inside a red box.
func (p *Printer) ErrorBox(title, detail string) {
	if p.plain {
		fmt.Fprintf(p.w, "%s\n  error: %s\n", title, detail)
		return
	}
	fmt.Fprintln(p.w, Styles.ErrorBox.Render(Styles.Error.Bold(true).Render(title)+"\n"+detail))
}

// Muted prints de-emphasized text.
func (p *Printer) Muted(text string) {
	if p.plain {
		fmt.Fprintln(p.w, text)
		return
	}
	fmt.Fprintln(p.w, Styles.Muted.Render(text))
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux renders mctsr command output.
//
// A Printer writes styled output when its writer is a terminal and plain,
// script-friendly lines otherwise.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Palette
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7")
	ColorTealPrimary = lipgloss.Color("#20B9B4")
	ColorTealDeep    = lipgloss.Color("#16858E")
	ColorSlate       = lipgloss.Color("#2C4A54")

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles are the shared lipgloss styles.
var Styles = struct {
	Title     lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style
	Box       lipgloss.Style
	ErrorBox  lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
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
}

// Icon is a status glyph.
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
)

// Render returns the icon in its status color.
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Mode selects rich or plain output.
type Mode int

const (
	// ModeRich uses colors, icons and boxes.
	ModeRich Mode = iota
	// ModePlain prints "KEY: value" style lines for scripts.
	ModePlain
)

// Printer writes command output to one destination.
type Printer struct {
	w    io.Writer
	mode Mode
}

// NewPrinter returns a Printer for w. Output is rich only when w is a
// terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, mode: DetectMode(w)}
}

// NewPrinterWithMode returns a Printer with a fixed mode.
func NewPrinterWithMode(w io.Writer, mode Mode) *Printer {
	return &Printer{w: w, mode: mode}
}

// DetectMode reports ModeRich for terminal files and ModePlain otherwise.
func DetectMode(w io.Writer) Mode {
	f, ok := w.(*os.File)
	if !ok {
		return ModePlain
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return ModeRich
	}
	return ModePlain
}

// Mode returns the printer's mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Writer returns the destination.
func (p *Printer) Writer() io.Writer {
	return p.w
}

// Title prints a heading. Plain mode skips it.
func (p *Printer) Title(text string) {
	if p.mode == ModePlain {
		return
	}
	fmt.Fprintln(p.w, Styles.Title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
}

// Field prints one labelled value.
func (p *Printer) Field(label string, value any) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s: %v\n", strings.ToUpper(strings.ReplaceAll(label, " ", "_")), value)
		return
	}
	fmt.Fprintf(p.w, "%s %v\n", Styles.Muted.Render(label+":"), value)
}

// Box prints content under a title, boxed in rich mode.
func (p *Printer) Box(title, content string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "%s:\n%s\n", strings.ToUpper(title), content)
		return
	}
	fmt.Fprintln(p.w, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// ErrorBox prints an error message boxed in rich mode.
func (p *Printer) ErrorBox(title, content string) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "ERROR %s: %s\n", title, content)
		return
	}
	fmt.Fprintln(p.w, Styles.ErrorBox.Width(72).Render(Styles.Error.Bold(true).Render(title)+"\n"+content))
}

// Progress prints a rollout progress line. Rich mode redraws one line with
// a bar; plain mode prints one line per update.
func (p *Printer) Progress(done, total int) {
	if p.mode == ModePlain {
		fmt.Fprintf(p.w, "PROGRESS: %d/%d\n", done, total)
		return
	}
	end := ""
	if done >= total {
		end = "\n"
	}
	fmt.Fprintf(p.w, "\r%s %s %d/%d%s", Styles.Muted.Render("rollouts"), ProgressBar(done, total, 30), done, total, end)
}

// ProgressBar renders a bar width characters wide.
func ProgressBar(current, total, width int) string {
	if total <= 0 || width <= 0 {
		return ""
	}
	if current > total {
		current = total
	}
	if current < 0 {
		current = 0
	}
	filled := current * width / total
	return Styles.Highlight.Render(strings.Repeat("█", filled)) +
		Styles.Muted.Render(strings.Repeat("░", width-filled))
}

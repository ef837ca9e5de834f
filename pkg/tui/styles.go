// Package tui implements the interactive installer front end: a stage
// checklist beside a conversation panel, driven entirely through the
// session controller. The TUI owns the terminal; engine logs go to the
// session log file, never to the screen.
package tui

import "github.com/charmbracelet/lipgloss"

// Stage glyphs — convey meaning without relying on color alone.
const (
	GlyphPending = "○"
	GlyphCurrent = "▸"
	GlyphDone    = "✓"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(colorCyan).
	Padding(0, 1)

var (
	stageDone = lipgloss.NewStyle().
			Foreground(colorGreen)

	stageCurrent = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorYellow)

	stagePending = lipgloss.NewStyle().
			Foreground(colorWhite)

	stageHint = lipgloss.NewStyle().
			Faint(true).
			Foreground(colorDim)
)

var (
	panelBorder = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim)

	panelTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan).
			Padding(0, 1)
)

var (
	userPrefixStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	warnStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed)

	confirmStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)

	statusStyle = lipgloss.NewStyle().
			Faint(true)
)

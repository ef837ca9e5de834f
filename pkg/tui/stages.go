package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/LevitateOS/installer/pkg/stage"
)

// stageHints give the user something concrete to say at each stage.
var stageHints = map[stage.Stage]string{
	stage.DiskConfig:    "partition, format, mount",
	stage.SystemInstall: "copy the system",
	stage.SysConfig:     "hostname, timezone",
	stage.UserSetup:     "create your account",
	stage.Bootloader:    "install the bootloader",
	stage.Finalize:      "reboot",
}

// stagesPanel renders the installation checklist.
type stagesPanel struct {
	current   stage.Stage
	completed map[stage.Stage]bool
	width     int
	height    int
}

func newStagesPanel() stagesPanel {
	return stagesPanel{completed: make(map[stage.Stage]bool)}
}

// Set updates the panel from session state.
func (p *stagesPanel) Set(current stage.Stage, completed []stage.Stage) {
	p.current = current
	p.completed = make(map[stage.Stage]bool, len(completed))
	for _, s := range completed {
		p.completed[s] = true
	}
}

func (p *stagesPanel) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// View renders the checklist with glyphs and dim hints. Lines are
// truncated by display width so wide glyphs never break the border.
func (p *stagesPanel) View() string {
	var b strings.Builder
	for _, s := range stage.All() {
		glyph, style := GlyphPending, stagePending
		switch {
		case p.completed[s]:
			glyph, style = GlyphDone, stageDone
		case s == p.current:
			glyph, style = GlyphCurrent, stageCurrent
		}
		b.WriteString(style.Render(truncate(glyph+" "+s.String(), p.width-2)))
		b.WriteString("\n")
		if s == p.current && !p.completed[s] {
			if hint, ok := stageHints[s]; ok {
				b.WriteString(stageHint.Render(truncate("    "+hint, p.width-2)))
				b.WriteString("\n")
			}
		}
	}
	if p.current == stage.Done {
		b.WriteString(stageDone.Render(GlyphDone + " Done — reboot when ready"))
		b.WriteString("\n")
	}

	content := lipgloss.NewStyle().Width(p.width - 2).Height(p.height - 2).Render(b.String())
	return panelBorder.Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitle.Render("Install"),
		content,
	))
}

// truncate cuts a styled line to a display width, glyph-aware.
func truncate(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

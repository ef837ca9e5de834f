package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/plan"
)

// chatPanel holds the scrolling conversation history.
type chatPanel struct {
	vp      viewport.Model
	history []string
	ready   bool
}

func newChatPanel() chatPanel {
	return chatPanel{}
}

func (c *chatPanel) SetSize(width, height int) {
	if !c.ready {
		c.vp = viewport.New(width, height)
		c.ready = true
	} else {
		c.vp.Width = width
		c.vp.Height = height
	}
	c.refresh()
}

func (c *chatPanel) append(lines ...string) {
	c.history = append(c.history, lines...)
	c.refresh()
}

func (c *chatPanel) refresh() {
	if !c.ready {
		return
	}
	c.vp.SetContent(strings.Join(c.history, "\n"))
	c.vp.GotoBottom()
}

// AddUser records the user's words.
func (c *chatPanel) AddUser(text string) {
	c.append(userPrefixStyle.Render("you: ")+text, "")
}

// AddInfo records a plain installer message.
func (c *chatPanel) AddInfo(text string) {
	c.append(text, "")
}

// AddError records a failure line.
func (c *chatPanel) AddError(text string) {
	c.append(errorStyle.Render(text), "")
}

// AddTurn renders one resolved conversation turn.
func (c *chatPanel) AddTurn(p plan.Plan, res *exec.Result) {
	switch p.Variant {
	case plan.Clarify:
		c.append(p.Question, "")
	case plan.Rejected:
		c.append(errorStyle.Render(fmt.Sprintf("Can't do that (%s): %s", p.Reason, p.Detail)), "")
	case plan.NeedsConfirmation:
		c.append(renderMarkdown(p.Summary),
			confirmStyle.Render(`Type "yes" to proceed; anything else cancels.`), "")
	case plan.Ready:
		for _, w := range p.Warnings {
			c.append(warnStyle.Render("warning: " + w))
		}
		c.addResult(res)
	}
}

// AddConfirmed renders the outcome of a confirmed destructive plan.
func (c *chatPanel) AddConfirmed(res *exec.Result) {
	c.addResult(res)
}

func (c *chatPanel) addResult(res *exec.Result) {
	if res == nil {
		c.append("")
		return
	}
	if res.Succeeded() {
		if res.Details != "" {
			c.append(renderMarkdown(res.Details), "")
		} else {
			c.append(stageDone.Render("done"), "")
		}
		return
	}
	line := fmt.Sprintf("%s failed: %s", res.Action, res.Failure.Detail)
	c.append(errorStyle.Render(line))
	if res.Failure.Recoverable {
		c.append(statusStyle.Render("this may work on another try — ask me again"), "")
	} else {
		c.append("")
	}
}

func (c *chatPanel) View() string {
	if !c.ready {
		return ""
	}
	return panelBorder.Render(lipgloss.JoinVertical(lipgloss.Left,
		panelTitle.Render("Conversation"),
		c.vp.View(),
	))
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/LevitateOS/installer/pkg/plan"
	"github.com/LevitateOS/installer/pkg/session"
)

// doubleCtrlCWindow is how fast the second Ctrl-C must follow the first
// to quit mid-install.
const doubleCtrlCWindow = 2 * time.Second

// --- Tea messages ---

// turnMsg carries the session's response to submitted intent.
type turnMsg struct {
	turn *session.Turn
	err  error
}

// confirmMsg carries the outcome of a confirmation.
type confirmMsg struct {
	turn *session.Turn
	err  error
}

// --- Model ---

// Model is the top-level Bubble Tea model.
type Model struct {
	sess *session.Session

	stages  stagesPanel
	chat    chatPanel
	input   textinput.Model
	spinner spinner.Model

	busy       bool // a turn is in flight; input is parked
	confirming bool // a destructive plan awaits yes/no
	quitArmed  time.Time

	// cancelTurn aborts the in-flight turn's context. The session keeps
	// executor work alive regardless; this only interrupts the waiting,
	// chiefly a slow model call.
	cancelTurn context.CancelFunc

	width  int
	height int
}

// New builds the installer TUI over an open session.
func New(sess *session.Session) Model {
	ti := textinput.New()
	ti.Placeholder = "tell me what to do (\"help\" works)"
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	m := Model{
		sess:    sess,
		stages:  newStagesPanel(),
		chat:    newChatPanel(),
		input:   ti,
		spinner: sp,
	}
	m.stages.Set(sess.Stage(), sess.Completed())
	return m
}

// Run starts the program and blocks until the user quits.
func Run(sess *session.Session) error {
	m := New(sess)
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if time.Since(m.quitArmed) < doubleCtrlCWindow {
				return m, tea.Quit
			}
			m.quitArmed = time.Now()
			if m.busy && m.cancelTurn != nil {
				m.cancelTurn()
			}
			m.chat.AddInfo(statusStyle.Render("press Ctrl-C again to quit the installer"))
			return m, nil
		case tea.KeyEnter:
			if m.busy {
				return m, nil
			}
			text := m.input.Value()
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.chat.AddUser(text)
			m.busy = true
			ctx, cancel := context.WithCancel(context.Background())
			m.cancelTurn = cancel
			if m.confirming {
				return m, tea.Batch(m.spinner.Tick, m.confirmCmd(ctx, text))
			}
			return m, tea.Batch(m.spinner.Tick, m.submitCmd(ctx, text))
		}

	case turnMsg:
		m.busy = false
		m.cancelTurn = nil
		if errors.Is(msg.err, context.Canceled) {
			m.chat.AddInfo("Okay, cancelled that request.")
			return m, nil
		}
		if msg.err != nil {
			m.chat.AddError("that didn't work: " + msg.err.Error())
			return m, nil
		}
		m.confirming = msg.turn.Plan.Variant == plan.NeedsConfirmation
		m.chat.AddTurn(msg.turn.Plan, msg.turn.Result)
		m.stages.Set(m.sess.Stage(), m.sess.Completed())
		return m, nil

	case confirmMsg:
		m.busy = false
		m.confirming = false
		m.cancelTurn = nil
		if msg.err != nil {
			m.chat.AddError("that didn't work: " + msg.err.Error())
			return m, nil
		}
		if msg.turn.Result == nil {
			m.chat.AddInfo("Okay, cancelled. Nothing was changed.")
		} else {
			m.chat.AddConfirmed(msg.turn.Result)
		}
		m.stages.Set(m.sess.Stage(), m.sess.Completed())
		return m, nil

	case spinner.TickMsg:
		if !m.busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) layout() {
	stagesWidth := 30
	if m.width < 80 {
		stagesWidth = m.width / 3
	}
	chatWidth := m.width - stagesWidth - 2
	panelHeight := m.height - 3 // input line + status line
	m.stages.SetSize(stagesWidth, panelHeight)
	m.chat.SetSize(chatWidth-2, panelHeight-2)
}

func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	panels := lipgloss.JoinHorizontal(lipgloss.Top, m.stages.View(), m.chat.View())

	status := headerStyle.Render("LevitateOS installer")
	if m.busy {
		status += " " + m.spinner.View() + statusStyle.Render(" working...")
	} else if m.confirming {
		status += " " + confirmStyle.Render("awaiting confirmation")
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		panels,
		m.input.View(),
		status,
	)
}

func (m Model) submitCmd(ctx context.Context, text string) tea.Cmd {
	return func() tea.Msg {
		turn, err := m.sess.SubmitIntent(ctx, text)
		return turnMsg{turn: turn, err: err}
	}
}

func (m Model) confirmCmd(ctx context.Context, text string) tea.Cmd {
	return func() tea.Msg {
		turn, err := m.sess.ConfirmText(ctx, text)
		return confirmMsg{turn: turn, err: err}
	}
}

// Banner is the pre-TUI greeting for plain-mode output.
func Banner(sessionID string) string {
	return fmt.Sprintf("LevitateOS installer — session %s", sessionID)
}

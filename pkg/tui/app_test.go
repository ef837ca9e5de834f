package tui

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/policy"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/run"
	"github.com/LevitateOS/installer/pkg/session"
)

const lsblkFixture = `{
  "blockdevices": [
    {"name": "sda", "path": "/dev/sda", "size": 1073741824000, "type": "disk"}
  ]
}`

type fakeRunner struct{}

func (fakeRunner) Run(_ context.Context, command string, _ ...string) (*run.Result, error) {
	if command == "lsblk" {
		return &run.Result{Stdout: []byte(lsblkFixture)}, nil
	}
	return &run.Result{}, nil
}

// waitingTranslator stands in for a slow model: it blocks until the
// turn's context dies.
type waitingTranslator struct{}

func (waitingTranslator) Translate(ctx context.Context, _ string, _ *probe.Snapshot) (action.Action, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestModel(t *testing.T) Model {
	t.Helper()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	entry := logrus.NewEntry(log)

	fr := fakeRunner{}
	prober := &probe.Prober{Runner: fr, Root: t.TempDir()}
	ex := exec.New(fr, prober, policy.Default(), entry)
	ex.TargetRoot = t.TempDir()

	sess, err := session.New(context.Background(), session.Config{
		StateDir:   t.TempDir(),
		Translator: waitingTranslator{},
		Executor:   ex,
		Prober:     prober,
		Log:        entry,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sess.Close() })
	return New(sess)
}

// TestCtrlCCancelsInFlightTurn: the first Ctrl-C while a model call is
// pending cancels that call; the turn comes back as a cancellation, not
// an error, and the input unlocks.
func TestCtrlCCancelsInFlightTurn(t *testing.T) {
	m := newTestModel(t)
	m.input.SetValue("wipe the disk")

	mm, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = mm.(Model)
	if !m.busy || m.cancelTurn == nil {
		t.Fatal("enter should start a cancellable turn")
	}

	batch, ok := cmd().(tea.BatchMsg)
	if !ok {
		t.Fatalf("enter should batch the turn commands, got %T", cmd())
	}
	msgs := make(chan tea.Msg, len(batch))
	for _, c := range batch {
		go func(c tea.Cmd) { msgs <- c() }(c)
	}

	mm, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	m = mm.(Model)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-msgs:
			turn, ok := msg.(turnMsg)
			if !ok {
				continue
			}
			if !errors.Is(turn.err, context.Canceled) {
				t.Fatalf("turn error = %v, want context.Canceled", turn.err)
			}
			mm, _ = m.Update(turn)
			m = mm.(Model)
			if m.busy || m.cancelTurn != nil {
				t.Error("cancelled turn should release the input")
			}
			return
		case <-deadline:
			t.Fatal("turn never came back after cancellation")
		}
	}
}

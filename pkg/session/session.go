// Package session holds the conversation controller: the single writer
// of installer state. Front ends (TUI, MCP) call SubmitIntent and
// Confirm; everything else — translation, validation, execution, stage
// advance, re-probing, the action log — happens behind those two entry
// points, strictly one turn at a time.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/exec"
	"github.com/LevitateOS/installer/pkg/plan"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/stage"
)

// maxRetries bounds re-execution of a recoverable failure with the same
// validated plan.
const maxRetries = 2

// Translator converts free-form user text into one action, grounded on
// the current snapshot. Implemented by the llm client; tests inject
// fakes.
type Translator interface {
	Translate(ctx context.Context, text string, snap *probe.Snapshot) (action.Action, error)
}

// Config wires a session's collaborators.
type Config struct {
	// StateDir is the root for session artifacts
	// (<StateDir>/sessions/<id>/actions.jsonl, session.yaml).
	StateDir   string
	Translator Translator
	Executor   *exec.Executor
	Prober     *probe.Prober
	Log        *logrus.Entry
	// Checkpoint is optional; nil disables checkpointing.
	Checkpoint *Checkpoint
}

// Turn is what one entry-point call produced: always a plan, plus the
// execution result when the action ran in the same turn.
type Turn struct {
	Plan   plan.Plan
	Result *exec.Result
}

// Session is one installer conversation. All state mutation happens
// under the mutex; the TUI and MCP surfaces never touch the machine or
// snapshot directly.
type Session struct {
	id      string
	cfg     Config
	log     *logrus.Entry
	dir     string
	started time.Time

	mu       sync.Mutex
	machine  *stage.Machine
	snapshot *probe.Snapshot
	pending  *plan.Plan
	turn     int
	alog     *actionLog
}

// New opens a session: generates the id, takes the initial probe, and
// creates the session directory with its action log.
func New(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.Log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		cfg.Log = logrus.NewEntry(l)
	}
	id := ulid.Make().String()
	dir := filepath.Join(cfg.StateDir, "sessions", id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	snap, err := cfg.Prober.Probe(ctx)
	if err != nil {
		return nil, err
	}

	alog, err := openActionLog(filepath.Join(dir, "actions.jsonl"))
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:       id,
		cfg:      cfg,
		log:      cfg.Log.WithFields(logrus.Fields{"component": "session", "session": id}),
		dir:      dir,
		started:  time.Now(),
		machine:  stage.NewMachine(),
		snapshot: snap,
		alog:     alog,
	}
	if cfg.Checkpoint != nil {
		if err := cfg.Checkpoint.BeginSession(id, s.started); err != nil {
			s.log.WithError(err).Warn("checkpoint unavailable")
		}
	}
	s.log.WithField("disks", len(snap.Disks)).Info("session opened")
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Dir returns the session artifact directory.
func (s *Session) Dir() string { return s.dir }

// Snapshot returns the current system snapshot.
func (s *Session) Snapshot() *probe.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Stage returns the current installation stage.
func (s *Session) Stage() stage.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Current()
}

// Completed returns the completed stages in order.
func (s *Session) Completed() []stage.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.CompletedStages()
}

// Pending reports whether a destructive plan awaits confirmation.
func (s *Session) Pending() (plan.Plan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return plan.Plan{}, false
	}
	return *s.pending, true
}

// SubmitIntent runs one conversation turn: translate the text, validate
// the action, and either execute it (Ready), park it for confirmation
// (NeedsConfirmation), or hand back the question/rejection. Submitting
// new intent while a plan awaits confirmation discards that plan first.
func (s *Session) SubmitIntent(ctx context.Context, text string) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn++

	if s.pending != nil {
		s.record(record{Event: eventDeclined, Kind: s.pending.Kind, Action: describe(s.pending.Action)})
		s.pending = nil
	}

	a, err := s.cfg.Translator.Translate(ctx, text, s.snapshot)
	if err != nil {
		return nil, fmt.Errorf("translate intent: %w", err)
	}
	return s.submit(ctx, a)
}

// SubmitAction runs one turn with an already-constructed action,
// bypassing translation. Structured front ends (MCP) use this.
func (s *Session) SubmitAction(ctx context.Context, a action.Action) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn++

	if s.pending != nil {
		s.record(record{Event: eventDeclined, Kind: s.pending.Kind, Action: describe(s.pending.Action)})
		s.pending = nil
	}
	return s.submit(ctx, a)
}

// submit validates and dispatches one action. Callers hold the mutex
// and have already bumped the turn counter.
func (s *Session) submit(ctx context.Context, a action.Action) (*Turn, error) {
	p := plan.Validate(a, s.snapshot, s.machine)
	s.record(record{Event: eventPlanned, Kind: p.Kind, Action: describe(a), Plan: &p})

	switch p.Variant {
	case plan.Ready:
		res, err := s.execute(ctx, p)
		if err != nil {
			return nil, err
		}
		return &Turn{Plan: p, Result: res}, nil
	case plan.NeedsConfirmation:
		s.pending = &p
		return &Turn{Plan: p}, nil
	default: // Clarify, Rejected
		return &Turn{Plan: p}, nil
	}
}

// Confirm resolves the pending destructive plan. Declining discards it;
// the session then simply awaits new intent.
func (s *Session) Confirm(ctx context.Context, accept bool) (*Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil, fmt.Errorf("nothing awaits confirmation")
	}
	p := *s.pending
	s.pending = nil

	if !accept {
		s.record(record{Event: eventDeclined, Kind: p.Kind, Action: describe(p.Action)})
		s.log.WithField("kind", p.Kind).Info("confirmation declined")
		return &Turn{Plan: p}, nil
	}

	res, err := s.execute(ctx, p)
	if err != nil {
		return nil, err
	}
	return &Turn{Plan: p, Result: res}, nil
}

// Affirmative reports whether text is an exact confirmation token.
// Anything else — silence, hedging, "yes please do it" — declines.
func Affirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "y":
		return true
	}
	return false
}

// ConfirmText resolves the pending plan from raw user text using the
// exact-affirmative rule.
func (s *Session) ConfirmText(ctx context.Context, text string) (*Turn, error) {
	return s.Confirm(ctx, Affirmative(text))
}

// execute runs a validated plan, retrying recoverable failures, then
// advances the stage machine and refreshes the snapshot on success.
// Callers hold the mutex.
func (s *Session) execute(ctx context.Context, p plan.Plan) (*exec.Result, error) {
	// Front ends may cancel a pending translation, but once a plan is
	// executing, an interrupt must not kill a disk command mid-write.
	ctx = context.WithoutCancel(ctx)

	var res *exec.Result
	var err error
	for attempt := 0; ; attempt++ {
		res, err = s.cfg.Executor.Execute(ctx, p, s.snapshot, s.machine)
		if err != nil {
			// Stale state or probe failure: refresh our view so the
			// next turn validates against reality.
			if fresh, perr := s.cfg.Prober.Probe(ctx); perr == nil {
				s.snapshot = fresh
			}
			s.record(record{Event: eventError, Kind: p.Kind, Action: describe(p.Action), Error: err.Error()})
			return nil, err
		}
		if res.Succeeded() || !res.Failure.Recoverable || attempt >= maxRetries {
			break
		}
		s.log.WithFields(logrus.Fields{
			"kind":    p.Kind,
			"attempt": attempt + 1,
			"detail":  res.Failure.Detail,
		}).Warn("retrying recoverable failure")
	}

	event := eventExecuted
	if !res.Succeeded() {
		event = eventFailed
	}
	s.record(record{Event: event, Kind: p.Kind, Action: describe(p.Action), Result: res})

	if s.cfg.Checkpoint != nil {
		if cerr := s.cfg.Checkpoint.RecordAction(s.id, s.turn, p.Kind, res.Succeeded()); cerr != nil {
			s.log.WithError(cerr).Warn("checkpoint write failed")
		}
	}
	if !res.Succeeded() {
		return res, nil
	}

	if done, ok := stage.Completes(p.Kind); ok {
		s.machine.Complete(done)
		s.log.WithFields(logrus.Fields{"stage": done.String(), "next": s.machine.Current().String()}).Info("stage complete")
		if s.cfg.Checkpoint != nil {
			if cerr := s.cfg.Checkpoint.RecordStage(s.id, done); cerr != nil {
				s.log.WithError(cerr).Warn("checkpoint write failed")
			}
		}
	}

	// Anything non-idempotent may have changed the hardware view.
	if !action.Idempotent(p.Action) {
		if fresh, perr := s.cfg.Prober.Probe(ctx); perr == nil {
			s.snapshot = fresh
		} else {
			s.log.WithError(perr).Warn("post-action probe failed; keeping previous snapshot")
		}
	}
	return res, nil
}

func (s *Session) record(r record) {
	r.Turn = s.turn
	r.Time = time.Now().UTC()
	if err := s.alog.append(r); err != nil {
		s.log.WithError(err).Error("action log write failed")
	}
}

func describe(a action.Action) string {
	if a == nil {
		return ""
	}
	return a.Describe()
}

// manifest is the session.yaml written on close.
type manifest struct {
	ID        string    `yaml:"id"`
	Started   time.Time `yaml:"started"`
	Finished  time.Time `yaml:"finished"`
	Turns     int       `yaml:"turns"`
	Stage     string    `yaml:"stage"`
	Completed []string  `yaml:"completed,omitempty"`
}

// Close writes the session manifest and releases the action log.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := manifest{
		ID:       s.id,
		Started:  s.started,
		Finished: time.Now(),
		Turns:    s.turn,
		Stage:    s.machine.Current().String(),
	}
	for _, st := range s.machine.CompletedStages() {
		m.Completed = append(m.Completed, st.String())
	}
	data, err := yaml.Marshal(m)
	if err == nil {
		err = os.WriteFile(filepath.Join(s.dir, "session.yaml"), data, 0o644)
	}
	if cerr := s.alog.Close(); err == nil {
		err = cerr
	}
	return err
}

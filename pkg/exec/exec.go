// Package exec turns validated plans into system commands. The executor
// owns nothing but the mechanics: it trusts the plan it is handed, but
// re-probes and revalidates immediately before anything destructive so a
// confirmation raced by hardware changes can never fire against a disk
// the user did not see.
package exec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/plan"
	"github.com/LevitateOS/installer/pkg/policy"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/run"
	"github.com/LevitateOS/installer/pkg/stage"
)

// Failure kinds, surfaced in Result.Failure.Kind.
const (
	FailCommand = "command" // a tool exited non-zero or could not start
	FailPolicy  = "policy"  // refused by the policy engine
	FailIO      = "io"      // filesystem operation outside a tool failed
)

// Failure describes why an action did not complete. Recoverable failures
// may be retried with the same plan; fatal ones must not.
type Failure struct {
	Kind        string `json:"kind"`
	Recoverable bool   `json:"recoverable"`
	Detail      string `json:"detail"`
}

// Result is the outcome of executing one action.
type Result struct {
	Action  action.Kind `json:"action"`
	Details string      `json:"details,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// Succeeded reports whether the action completed.
func (r *Result) Succeeded() bool { return r.Failure == nil }

func failed(kind action.Kind, fkind string, recoverable bool, format string, args ...any) *Result {
	return &Result{Action: kind, Failure: &Failure{
		Kind:        fkind,
		Recoverable: recoverable,
		Detail:      fmt.Sprintf(format, args...),
	}}
}

// StaleStateError means the system changed between confirmation and
// execution: the fresh probe no longer validates the confirmed plan.
// Nothing was executed. The caller should surface the new state and
// await fresh intent.
type StaleStateError struct {
	Kind   action.Kind
	Detail string
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("system state changed before %s could run: %s", e.Kind, e.Detail)
}

// Executor runs validated plans through an injected Runner.
type Executor struct {
	Runner run.Runner
	Prober *probe.Prober
	Policy *policy.Engine
	Log    *logrus.Entry

	// TargetRoot is where the new system is mounted during install.
	TargetRoot string

	// LuksKey is the passphrase for luks-ext4 formatting, supplied by
	// the front end before the format runs. Never logged.
	LuksKey []byte

	// Presets are rendered partition layouts from the config, offered
	// in the help text so the user can ask for one by name.
	Presets []string

	// DryRun logs every command without running anything.
	DryRun bool
}

// New wires an executor over the real system with the default target root.
func New(runner run.Runner, prober *probe.Prober, pol *policy.Engine, log *logrus.Entry) *Executor {
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		log = logrus.NewEntry(l)
	}
	return &Executor{
		Runner:     runner,
		Prober:     prober,
		Policy:     pol,
		Log:        log.WithField("component", "exec"),
		TargetRoot: "/mnt",
	}
}

// Execute runs the plan's action. The plan must be Ready or a confirmed
// NeedsConfirmation; Clarify and Rejected plans never reach here. snap is
// the snapshot the plan was validated against; for destructive actions
// the executor takes its own fresh one and revalidates first.
//
// The error return carries engine-level conditions (*StaleStateError,
// *probe.Error, context cancellation); action-level outcomes, including
// tool failures, come back in the Result.
func (e *Executor) Execute(ctx context.Context, pl plan.Plan, snap *probe.Snapshot, m *stage.Machine) (*Result, error) {
	a := pl.Action
	if a == nil {
		return nil, fmt.Errorf("plan for %s carries no action", pl.Kind)
	}
	switch pl.Variant {
	case plan.Ready, plan.NeedsConfirmation:
	default:
		return nil, fmt.Errorf("%s plan is not executable", pl.Variant)
	}

	// Destructive actions, and the copy whose hazard depends on mount
	// state, get a fresh probe and a revalidation pass.
	if pl.Variant == plan.NeedsConfirmation || a.Kind() == action.KindCopySystem {
		fresh, err := e.Prober.Probe(ctx)
		if err != nil {
			return nil, err
		}
		recheck := plan.Validate(a, fresh, m)
		if recheck.Variant == plan.Rejected {
			return nil, &StaleStateError{Kind: a.Kind(), Detail: recheck.Detail}
		}
		if pl.Variant == plan.Ready && recheck.Variant == plan.NeedsConfirmation {
			// The hazard appeared after validation; the user never
			// confirmed it.
			return nil, &StaleStateError{Kind: a.Kind(), Detail: "action became destructive; confirmation required"}
		}
		snap = fresh
	}

	destructive := pl.Variant == plan.NeedsConfirmation
	if err := e.Policy.CheckAction(a, destructive); err != nil {
		return failed(a.Kind(), FailPolicy, false, "%v", err), nil
	}

	e.Log.WithFields(logrus.Fields{
		"kind":        a.Kind(),
		"destructive": destructive,
	}).Info(a.Describe())

	switch act := a.(type) {
	case action.ListDisks:
		return &Result{Action: act.Kind(), Details: renderDisks(snap)}, nil
	case action.Help:
		return &Result{Action: act.Kind(), Details: e.helpText(m)}, nil
	case action.CopySystem:
		return e.copySystem(ctx, act)
	case action.SetHostname:
		return e.writeHostname(act)
	case action.Clarify:
		return nil, fmt.Errorf("clarify is not executable")
	}

	steps, details, err := e.buildSteps(a, snap)
	if err != nil {
		return failed(a.Kind(), FailIO, false, "%v", err), nil
	}
	if res := e.runSteps(ctx, a.Kind(), steps); res != nil {
		return res, nil
	}
	return &Result{Action: a.Kind(), Details: details}, nil
}

// step is one command invocation inside an action.
type step struct {
	command string
	args    []string
	input   []byte // optional stdin
	secret  bool   // suppress args in logs
	mkdir   string // directory to ensure before running
}

// runSteps executes steps in order, stopping at the first failure.
// Returns nil when every step succeeded.
func (e *Executor) runSteps(ctx context.Context, kind action.Kind, steps []step) *Result {
	for _, s := range steps {
		if res := e.runStep(ctx, kind, s); res != nil {
			return res
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, kind action.Kind, s step) *Result {
	if err := e.Policy.CheckCommand(s.command); err != nil {
		return failed(kind, FailPolicy, false, "%v", err)
	}

	log := e.Log.WithField("command", s.command)
	if !s.secret {
		log = log.WithField("args", strings.Join(s.args, " "))
	}
	if e.DryRun {
		log.Info("dry-run: skipped")
		return nil
	}
	if s.mkdir != "" {
		if err := os.MkdirAll(s.mkdir, 0o755); err != nil {
			return failed(kind, FailIO, false, "create %s: %v", s.mkdir, err)
		}
	}
	log.Debug("running")

	var res *run.Result
	var err error
	if s.input != nil {
		ir, ok := e.Runner.(run.InputRunner)
		if !ok {
			return failed(kind, FailCommand, false, "%s needs stdin but the runner cannot provide it", s.command)
		}
		res, err = ir.RunInput(ctx, s.input, s.command, s.args...)
	} else {
		res, err = e.Runner.Run(ctx, s.command, s.args...)
	}
	if err != nil {
		return failed(kind, FailCommand, false, "%s: %v", s.command, err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(string(res.Stderr))
		if detail == "" {
			detail = strings.TrimSpace(string(res.Stdout))
		}
		log.WithField("exit", res.ExitCode).Warn("command failed")
		return failed(kind, FailCommand, recoverableExit(s.command, res.ExitCode),
			"%s exited %d: %s", s.command, res.ExitCode, detail)
	}
	return nil
}

// writeHostname writes the name straight into the target's /etc/hostname.
// There is no tool for this on an unbooted root; hostnamectl talks to the
// live system's dbus, not the chroot.
func (e *Executor) writeHostname(a action.SetHostname) (*Result, error) {
	path := filepath.Join(e.TargetRoot, "etc", "hostname")
	if e.DryRun {
		e.Log.WithField("path", path).Info("dry-run: skipped hostname write")
		return &Result{Action: a.Kind(), Details: "hostname set to " + a.Name}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return failed(a.Kind(), FailIO, false, "create %s: %v", filepath.Dir(path), err), nil
	}
	if err := os.WriteFile(path, []byte(a.Name+"\n"), 0o644); err != nil {
		return failed(a.Kind(), FailIO, false, "write %s: %v", path, err), nil
	}
	return &Result{Action: a.Kind(), Details: "hostname set to " + a.Name}, nil
}

// recoverableExit classifies non-zero exits: transient conditions worth a
// retry versus failures that will not fix themselves.
func recoverableExit(command string, exit int) bool {
	switch command {
	case "rsync":
		// 23 partial transfer, 24 files vanished, 30 timeout.
		return exit == 23 || exit == 24 || exit == 30
	case "mount", "umount", "swapon", "partprobe", "udevadm":
		return true
	}
	return false
}

func renderDisks(snap *probe.Snapshot) string {
	var b strings.Builder
	for _, d := range snap.Disks {
		fmt.Fprintf(&b, "%s  %s", d.Path, action.FormatSize(d.Capacity))
		if d.Model != "" {
			fmt.Fprintf(&b, "  %s", d.Model)
		}
		b.WriteString("\n")
		for _, p := range d.Partitions {
			fmt.Fprintf(&b, "  %s  %s", p.Path, action.FormatSize(p.Size))
			if p.Fstype != "" {
				fmt.Fprintf(&b, "  %s", p.Fstype)
			}
			if p.Mountpoint != "" {
				fmt.Fprintf(&b, "  mounted at %s", p.Mountpoint)
			}
			b.WriteString("\n")
		}
	}
	if b.Len() == 0 {
		return "no disks found"
	}
	return b.String()
}

func (e *Executor) helpText(m *stage.Machine) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current stage: %s.\n", m.Current())
	b.WriteString("You can ask me in plain language to:\n")
	switch m.Current() {
	case stage.DiskConfig:
		b.WriteString("  - list the available disks\n  - partition a disk (e.g. \"wipe the nvme drive, 512M boot, 8G swap, rest root\")\n  - format and mount partitions\n")
		if len(e.Presets) > 0 {
			b.WriteString("Preset layouts you can ask for by name:\n")
			for _, p := range e.Presets {
				fmt.Fprintf(&b, "  - %s\n", p)
			}
		}
	case stage.SystemInstall:
		b.WriteString("  - copy the system onto the mounted target\n")
	case stage.SysConfig:
		b.WriteString("  - set the hostname and timezone\n")
	case stage.UserSetup:
		b.WriteString("  - create your user account and set passwords\n")
	case stage.Bootloader:
		b.WriteString("  - install the bootloader\n")
	case stage.Finalize:
		b.WriteString("  - reboot into the new system\n")
	case stage.Done:
		b.WriteString("  - reboot\n")
	}
	b.WriteString("Earlier steps can be redone at any time.")
	return b.String()
}

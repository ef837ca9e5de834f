// Package stage tracks installer progress through the ordered
// installation stages and gates which action kinds are currently legal.
// The machine is pure bookkeeping: the validator queries it read-only,
// and only the conversation controller mutates it, after a confirmed
// successful execution.
package stage

import (
	"fmt"

	"github.com/LevitateOS/installer/pkg/action"
)

// Stage is one ordered phase of installation.
type Stage int

const (
	DiskConfig Stage = iota
	SystemInstall
	SysConfig
	UserSetup
	Bootloader
	Finalize
	Done
)

var stageNames = map[Stage]string{
	DiskConfig:    "Disk Configuration",
	SystemInstall: "System Installation",
	SysConfig:     "System Configuration",
	UserSetup:     "User Setup",
	Bootloader:    "Bootloader",
	Finalize:      "Finalize",
	Done:          "Done",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// All returns the installation stages in order, excluding Done.
func All() []Stage {
	return []Stage{DiskConfig, SystemInstall, SysConfig, UserSetup, Bootloader, Finalize}
}

// Required returns the stage an action kind belongs to. Stage-free
// kinds (ListDisks, Help, Clarify) return ok=false: they are legal in
// any stage before Done.
func Required(k action.Kind) (Stage, bool) {
	switch k {
	case action.KindPartition, action.KindFormat, action.KindMount:
		return DiskConfig, true
	case action.KindCopySystem:
		return SystemInstall, true
	case action.KindSetHostname, action.KindSetTimezone:
		return SysConfig, true
	case action.KindCreateUser, action.KindSetPassword:
		return UserSetup, true
	case action.KindInstallBootloader:
		return Bootloader, true
	case action.KindReboot:
		return Finalize, true
	}
	return 0, false
}

// advancesOn maps the action kind whose successful execution completes
// each stage. Formatting and mounting stay inside DiskConfig; the stage
// is only complete once the partition table itself is written.
var advancesOn = map[action.Kind]Stage{
	action.KindPartition:         DiskConfig,
	action.KindCopySystem:        SystemInstall,
	action.KindSetHostname:       SysConfig,
	action.KindCreateUser:        UserSetup,
	action.KindInstallBootloader: Bootloader,
	action.KindReboot:            Finalize,
}

// Completes returns the stage a successful execution of kind k marks
// complete, if any.
func Completes(k action.Kind) (Stage, bool) {
	s, ok := advancesOn[k]
	return s, ok
}

// Machine is the installer's stage state. The completed set is
// monotonically non-decreasing within a session.
type Machine struct {
	current   Stage
	completed map[Stage]bool
}

// NewMachine starts at DiskConfig with nothing complete.
func NewMachine() *Machine {
	return &Machine{current: DiskConfig, completed: make(map[Stage]bool)}
}

// Current returns the active stage.
func (m *Machine) Current() Stage { return m.current }

// IsComplete reports whether a stage has been completed.
func (m *Machine) IsComplete(s Stage) bool { return m.completed[s] }

// IsDone reports whether installation has reached the terminal stage.
func (m *Machine) IsDone() bool { return m.current == Done }

// Legal reports whether an action kind may be issued now, with the
// gating reason when it may not. Actions belonging to an earlier,
// already-completed stage remain legal — they are revalidated against
// the current snapshot, not blocked. After Done only Reboot and Help
// survive.
func (m *Machine) Legal(k action.Kind) (bool, string) {
	if m.current == Done {
		if k == action.KindReboot || k == action.KindHelp {
			return true, ""
		}
		return false, "installation is finished; only reboot and help remain"
	}

	required, ok := Required(k)
	if !ok {
		return true, "" // stage-free
	}
	if required <= m.current || m.completed[required] {
		return true, ""
	}
	return false, fmt.Sprintf("%s actions require the %s stage; current stage is %s",
		k, required, m.current)
}

// Complete marks a stage done and advances the current stage to the
// first incomplete one. Completion never regresses: completing an
// already-complete stage is a no-op.
func (m *Machine) Complete(s Stage) {
	m.completed[s] = true
	for _, st := range All() {
		if !m.completed[st] {
			m.current = st
			return
		}
	}
	m.current = Done
}

// CompletedStages returns the completed set in stage order, for the UI
// checklist and the session manifest.
func (m *Machine) CompletedStages() []Stage {
	var out []Stage
	for _, st := range All() {
		if m.completed[st] {
			out = append(out, st)
		}
	}
	return out
}

// Package plan validates proposed actions against system state and
// produces their executable disposition. Validation is a pure function
// over (action, snapshot, stage): no hardware is touched here, and no
// plan other than Ready or a confirmed NeedsConfirmation ever reaches
// the executor.
package plan

import (
	"fmt"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
	"github.com/LevitateOS/installer/pkg/stage"
)

// Variant is the disposition of a validated action.
type Variant string

const (
	// Ready: non-destructive and fully specified; execute immediately.
	Ready Variant = "ready"
	// NeedsConfirmation: destructive; requires an exact affirmative.
	NeedsConfirmation Variant = "needs_confirmation"
	// Clarify: a question for the user, not a system operation.
	Clarify Variant = "clarify"
	// Rejected: failed a validation rule; the reason is surfaced verbatim.
	Rejected Variant = "rejected"
)

// Rejection reason codes. Surfaced to the user together with a
// specific detail naming the rule or device that triggered them.
const (
	ReasonStageOrder    = "stage-order"
	ReasonUnknownDevice = "unknown-device"
	ReasonSchemeInvalid = "scheme-invalid"
)

// Plan is the validated disposition of one Action. Derived per turn,
// never persisted beyond it (the action log records it, nothing else).
type Plan struct {
	Variant  Variant           `json:"variant"`
	Action   action.Action     `json:"-"`
	Kind     action.Kind       `json:"kind,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
	Summary  string            `json:"summary,omitempty"`  // destructive summary
	Question string            `json:"question,omitempty"` // clarify
	Reason   string            `json:"reason,omitempty"`   // rejection code
	Detail   string            `json:"detail,omitempty"`   // rejection specifics
}

func ready(a action.Action, warnings ...string) Plan {
	return Plan{Variant: Ready, Action: a, Kind: a.Kind(), Warnings: warnings}
}

func confirm(a action.Action, summary string) Plan {
	return Plan{Variant: NeedsConfirmation, Action: a, Kind: a.Kind(), Summary: summary}
}

func rejected(a action.Action, reason, detail string) Plan {
	return Plan{Variant: Rejected, Action: a, Kind: a.Kind(), Reason: reason, Detail: detail}
}

// Validate checks a proposed action against the current snapshot and
// stage, in rule order: stage gate, referential integrity, destructive
// flagging, scheme validation. Clarify bypasses everything — it is a
// request for more user information, not a system operation.
func Validate(a action.Action, snap *probe.Snapshot, m *stage.Machine) Plan {
	if c, ok := a.(action.Clarify); ok {
		return Plan{Variant: Clarify, Action: a, Kind: a.Kind(), Question: c.Question}
	}

	// Rule 1: stage gate.
	if ok, reason := m.Legal(a.Kind()); !ok {
		return rejected(a, ReasonStageOrder, reason)
	}

	// Rules 2-5 per action type.
	switch act := a.(type) {
	case action.ListDisks, action.Help, action.Reboot:
		return ready(a)

	case action.Partition:
		return validatePartition(act, snap)

	case action.Format:
		return validateFormat(act, snap)

	case action.Mount:
		return validateMount(act, snap)

	case action.CopySystem:
		return validateCopySystem(act, snap)

	case action.SetHostname, action.SetTimezone, action.SetPassword:
		return ready(a)

	case action.CreateUser:
		var warnings []string
		for _, u := range snap.Facts.Users {
			if u == act.Name {
				warnings = append(warnings, fmt.Sprintf("user %q already exists on the live system", act.Name))
			}
		}
		return ready(a, warnings...)

	case action.InstallBootloader:
		return validateBootloader(act, snap)
	}

	// The variant set is closed; reaching here means a new variant was
	// added without a validation rule.
	return rejected(a, ReasonStageOrder, fmt.Sprintf("no validation rule for action kind %q", a.Kind()))
}

func validatePartition(a action.Partition, snap *probe.Snapshot) Plan {
	disk, ok := snap.FindDisk(a.Disk)
	if !ok {
		if _, isPart := snap.FindPartition(a.Disk); isPart {
			return rejected(a, ReasonUnknownDevice, fmt.Sprintf("%s is a partition, not a whole disk", a.Disk))
		}
		return rejected(a, ReasonUnknownDevice, fmt.Sprintf("no disk %s in the current snapshot", a.Disk))
	}

	if err := a.Scheme.Validate(); err != nil {
		return rejected(a, ReasonSchemeInvalid, err.Error())
	}
	if err := checkSchemeFits(a.Scheme, disk); err != nil {
		return rejected(a, ReasonSchemeInvalid, err.Error())
	}

	return confirm(a, partitionSummary(a, disk))
}

// checkSchemeFits enforces the capacity invariant: the sum of exact
// sizes must not exceed the disk, leaving at least 1 MiB of alignment
// slack per entry for the partition tool.
func checkSchemeFits(s action.Scheme, disk probe.Disk) error {
	total := s.ExactTotal()
	if total > disk.Capacity {
		return fmt.Errorf("scheme needs %s of exact-size entries but %s holds only %s",
			action.FormatSize(total), disk.Path, action.FormatSize(disk.Capacity))
	}
	if s.HasRemaining() && total+action.MiB > disk.Capacity {
		return fmt.Errorf("no space left on %s for the remaining-space entry", disk.Path)
	}
	return nil
}

func validateFormat(a action.Format, snap *probe.Snapshot) Plan {
	part, ok := snap.FindPartition(a.Partition)
	if !ok {
		if _, isDisk := snap.FindDisk(a.Partition); isDisk {
			return rejected(a, ReasonUnknownDevice, fmt.Sprintf("%s is a whole disk; format a partition on it instead", a.Partition))
		}
		return rejected(a, ReasonUnknownDevice, fmt.Sprintf("no partition %s in the current snapshot", a.Partition))
	}
	return confirm(a, formatSummary(a, part))
}

func validateMount(a action.Mount, snap *probe.Snapshot) Plan {
	part, ok := snap.FindPartition(a.Partition)
	if !ok {
		return rejected(a, ReasonUnknownDevice, fmt.Sprintf("no partition %s in the current snapshot", a.Partition))
	}
	var warnings []string
	if part.Mountpoint != "" && part.Mountpoint != a.Mountpoint {
		warnings = append(warnings, fmt.Sprintf("%s is already mounted at %s", part.Path, part.Mountpoint))
	}
	if part.Fstype == "" {
		warnings = append(warnings, fmt.Sprintf("%s has no filesystem yet; format it first", part.Path))
	}
	return ready(a, warnings...)
}

// validateCopySystem flags the copy destructive when the target tree
// already has a mounted partition under it: the copy overwrites
// whatever lives there.
func validateCopySystem(a action.CopySystem, snap *probe.Snapshot) Plan {
	mounted := snap.MountedUnder(a.Target)
	if len(mounted) == 0 {
		return ready(a, fmt.Sprintf("nothing is mounted at %s; the copy would land on the live filesystem", a.Target))
	}
	return confirm(a, copySummary(a, mounted))
}

func validateBootloader(a action.InstallBootloader, snap *probe.Snapshot) Plan {
	// A /dev target must exist; a directory target (EFI dir) is checked
	// by the executor at run time.
	if len(a.Target) > 5 && a.Target[:5] == "/dev/" && !snap.HasDevice(a.Target) {
		return rejected(a, ReasonUnknownDevice, fmt.Sprintf("no device %s in the current snapshot", a.Target))
	}
	return ready(a)
}

// Destructive reports whether the action can irreversibly erase data,
// given the current snapshot. Exposed for the executor's pre-flight
// re-check and the policy layer.
func Destructive(a action.Action, snap *probe.Snapshot) bool {
	switch act := a.(type) {
	case action.Partition, action.Format:
		return true
	case action.CopySystem:
		return len(snap.MountedUnder(act.Target)) > 0
	}
	return false
}

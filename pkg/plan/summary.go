package plan

import (
	"fmt"
	"strings"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
)

// Destructive summaries are rendered as markdown: the TUI pipes them
// through glamour, and plain mode prints them as-is. Each one names
// exactly what will be erased — never a generic warning.

func partitionSummary(a action.Partition, disk probe.Disk) string {
	var b strings.Builder

	model := disk.Model
	if model == "" {
		model = "unknown model"
	}
	fmt.Fprintf(&b, "**Partition %s** (%s, %s)\n\n", disk.Path, action.FormatSize(disk.Capacity), model)
	b.WriteString("New layout:\n\n")
	for i, e := range a.Scheme.Entries {
		size := action.FormatSize(e.Size)
		if e.Remaining {
			size = "remaining space"
		}
		fmt.Fprintf(&b, "%d. `%s` — %s, %s\n", i+1, e.Mountpoint, size, e.Filesystem)
	}

	b.WriteString("\n⚠ This **erases everything** on ")
	b.WriteString(disk.Path)
	if len(disk.Partitions) > 0 {
		fmt.Fprintf(&b, ", including %d existing partition(s):\n\n", len(disk.Partitions))
		for _, p := range disk.Partitions {
			fmt.Fprintf(&b, "- %s (%s", p.Path, action.FormatSize(p.Size))
			if p.Fstype != "" {
				fmt.Fprintf(&b, ", %s", p.Fstype)
			}
			if p.Mountpoint != "" {
				fmt.Fprintf(&b, ", mounted at %s", p.Mountpoint)
			}
			b.WriteString(")\n")
		}
	} else {
		b.WriteString(". The disk currently has no partitions.\n")
	}

	return b.String()
}

func formatSummary(a action.Format, part probe.Partition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Format %s as %s** (%s)\n\n", part.Path, a.Filesystem, action.FormatSize(part.Size))
	if part.Fstype != "" {
		fmt.Fprintf(&b, "⚠ This **erases** the existing %s filesystem on %s", part.Fstype, part.Path)
		if part.Mountpoint != "" {
			fmt.Fprintf(&b, " (currently mounted at %s)", part.Mountpoint)
		}
		b.WriteString(".\n")
	} else {
		fmt.Fprintf(&b, "⚠ This **erases** any data on %s.\n", part.Path)
	}
	return b.String()
}

func copySummary(a action.CopySystem, mounted []probe.Partition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Copy system** from %s to %s\n\n", a.Source, a.Target)
	fmt.Fprintf(&b, "⚠ This **overwrites** the tree mounted at %s:\n\n", a.Target)
	for _, p := range mounted {
		fmt.Fprintf(&b, "- %s at %s\n", p.Path, p.Mountpoint)
	}
	return b.String()
}

package probe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Facts are ambient system properties gathered alongside disk topology.
// They ground the language model's context and steer bootloader choice.
type Facts struct {
	UEFI     bool     `json:"uefi"`
	Hostname string   `json:"hostname,omitempty"`
	Timezone string   `json:"timezone,omitempty"`
	Users    []string `json:"users,omitempty"`
}

// gatherFacts reads fact files under p.Root. Every fact is best-effort:
// a missing file leaves the field at its zero value.
func (p *Prober) gatherFacts() Facts {
	var f Facts

	if _, err := os.Stat(filepath.Join(p.Root, "sys/firmware/efi/efivars")); err == nil {
		f.UEFI = true
	}

	if data, err := os.ReadFile(filepath.Join(p.Root, "etc/hostname")); err == nil {
		f.Hostname = strings.TrimSpace(string(data))
	} else if name, err := os.Hostname(); err == nil && p.Root == "/" {
		f.Hostname = name
	}

	if target, err := os.Readlink(filepath.Join(p.Root, "etc/localtime")); err == nil {
		if i := strings.Index(target, "zoneinfo/"); i >= 0 {
			f.Timezone = target[i+len("zoneinfo/"):]
		}
	}

	f.Users = readLoginUsers(filepath.Join(p.Root, "etc/passwd"))
	return f
}

// readLoginUsers returns non-system accounts (uid 1000..59999).
func readLoginUsers(passwdPath string) []string {
	file, err := os.Open(passwdPath)
	if err != nil {
		return nil
	}
	defer file.Close()

	var users []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), ":")
		if len(fields) < 7 {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		if uid >= 1000 && uid < 60000 {
			users = append(users, fields[0])
		}
	}
	return users
}

// RenderContext renders a Snapshot as the markdown system-state summary
// handed to the language model each turn. The model only ever sees
// devices that actually exist; anything else it invents is caught by
// device verification before validation.
func RenderContext(s *Snapshot) string {
	var b strings.Builder

	b.WriteString("## Current System State\n\n")
	if s.Facts.UEFI {
		b.WriteString("- Boot mode: UEFI\n")
	} else {
		b.WriteString("- Boot mode: Legacy BIOS\n")
	}
	if s.Facts.Hostname != "" {
		fmt.Fprintf(&b, "- Hostname: %s\n", s.Facts.Hostname)
	}
	if s.Facts.Timezone != "" {
		fmt.Fprintf(&b, "- Timezone: %s\n", s.Facts.Timezone)
	} else {
		b.WriteString("- Timezone: not set\n")
	}

	if len(s.Disks) > 0 {
		b.WriteString("\n## Available Disks\n\n")
		for _, d := range s.Disks {
			model := d.Model
			if model == "" {
				model = "Unknown"
			}
			fmt.Fprintf(&b, "- %s: %s (%s)\n", d.Path, formatBytes(d.Capacity), model)
			for _, part := range d.Partitions {
				fmt.Fprintf(&b, "  - %s: %s", part.Path, formatBytes(part.Size))
				if part.Fstype != "" {
					fmt.Fprintf(&b, " [%s]", part.Fstype)
				}
				if part.Mountpoint != "" {
					fmt.Fprintf(&b, " mounted at %s", part.Mountpoint)
				}
				b.WriteString("\n")
			}
		}
	}

	if len(s.Facts.Users) > 0 {
		fmt.Fprintf(&b, "\n## Existing Users: %s\n", strings.Join(s.Facts.Users, ", "))
	}

	return b.String()
}

func formatBytes(n int64) string {
	const (
		kib = 1 << 10
		mib = 1 << 20
		gib = 1 << 30
		tib = 1 << 40
	)
	switch {
	case n >= tib:
		return fmt.Sprintf("%.1fT", float64(n)/float64(tib))
	case n >= gib:
		return fmt.Sprintf("%.1fG", float64(n)/float64(gib))
	case n >= mib:
		return fmt.Sprintf("%.0fM", float64(n)/float64(mib))
	case n >= kib:
		return fmt.Sprintf("%.0fK", float64(n)/float64(kib))
	default:
		return fmt.Sprintf("%dB", n)
	}
}

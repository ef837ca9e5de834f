// Package probe discovers disks, partitions, and current mount state.
// A probe is strictly read-only and produces an immutable Snapshot; the
// engine re-probes (a fresh Snapshot) after every destructive action
// rather than patching an old one.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/LevitateOS/installer/pkg/run"
)

// Disk is one whole block device at probe time.
type Disk struct {
	Path       string      `json:"path"`
	Model      string      `json:"model,omitempty"`
	Capacity   int64       `json:"capacity"`
	Partitions []Partition `json:"partitions,omitempty"`
}

// Partition is one partition of a Disk.
type Partition struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	Fstype     string `json:"fstype,omitempty"`
	Mountpoint string `json:"mountpoint,omitempty"`
}

// Snapshot is a point-in-time view of disk and mount state plus ambient
// system facts. Never mutated after Probe returns it.
type Snapshot struct {
	Disks []Disk `json:"disks"`
	Facts Facts  `json:"facts"`
}

// Error is the fatal probe failure: no enumeration mechanism worked at
// all. Individual devices vanishing mid-probe are omitted, not fatal.
type Error struct {
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("probe: %s: %v", e.Detail, e.Cause)
	}
	return fmt.Sprintf("probe: %s", e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// Prober enumerates block devices through an injected Runner.
type Prober struct {
	Runner run.Runner
	// Root is the filesystem prefix for fact files, "/" in production.
	// Tests point it at a fixture tree.
	Root string
}

// New returns a Prober over the real system.
func New(runner run.Runner) *Prober {
	return &Prober{Runner: runner, Root: "/"}
}

// Probe enumerates disks and gathers system facts. Devices that
// disappear mid-enumeration are dropped from the result. Returns *Error
// only when no usable enumeration mechanism exists.
func (p *Prober) Probe(ctx context.Context) (*Snapshot, error) {
	disks, err := p.lsblk(ctx)
	if err != nil {
		// lsblk unavailable or broken — fall back to /proc/partitions.
		disks, err = p.procPartitions()
		if err != nil {
			return nil, &Error{Detail: "no usable block device enumeration", Cause: err}
		}
	}

	snap := &Snapshot{
		Disks: disks,
		Facts: p.gatherFacts(),
	}
	return snap, nil
}

// lsblk wire format. Sizes arrive as numbers from newer util-linux and
// as strings from older releases; flexInt64 accepts both.

type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string        `json:"name"`
	Path       string        `json:"path"`
	Size       flexInt64     `json:"size"`
	Type       string        `json:"type"`
	Mountpoint string        `json:"mountpoint"`
	Fstype     string        `json:"fstype"`
	Model      string        `json:"model"`
	Children   []lsblkDevice `json:"children"`
}

type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("parse size %q: %w", s, err)
	}
	*f = flexInt64(n)
	return nil
}

func (p *Prober) lsblk(ctx context.Context) ([]Disk, error) {
	res, err := p.Runner.Run(ctx, "lsblk", "-J", "-b", "-o", "NAME,PATH,SIZE,TYPE,MOUNTPOINT,FSTYPE,MODEL")
	if err != nil {
		return nil, fmt.Errorf("run lsblk: %w", err)
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("lsblk exited %d: %s", res.ExitCode, strings.TrimSpace(string(res.Stderr)))
	}
	return ParseLsblk(res.Stdout)
}

// ParseLsblk decodes `lsblk -J -b` output into disks. Entries that are
// not disks (loop devices, roms) are skipped, as are disks whose fields
// fail to decode — a vanished USB stick must not fail the whole probe.
func ParseLsblk(data []byte) ([]Disk, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode lsblk output: %w", err)
	}

	var disks []Disk
	for _, dev := range out.Blockdevices {
		if dev.Type != "disk" {
			continue
		}
		path := dev.Path
		if path == "" {
			if dev.Name == "" {
				continue // device gone mid-enumeration
			}
			path = "/dev/" + dev.Name
		}
		d := Disk{
			Path:     path,
			Model:    strings.TrimSpace(dev.Model),
			Capacity: int64(dev.Size),
		}
		for _, child := range dev.Children {
			if child.Type != "part" {
				continue
			}
			cpath := child.Path
			if cpath == "" {
				if child.Name == "" {
					continue
				}
				cpath = "/dev/" + child.Name
			}
			d.Partitions = append(d.Partitions, Partition{
				Path:       cpath,
				Size:       int64(child.Size),
				Fstype:     child.Fstype,
				Mountpoint: child.Mountpoint,
			})
		}
		disks = append(disks, d)
	}
	return disks, nil
}

// FindDisk returns the disk with the given path.
func (s *Snapshot) FindDisk(path string) (Disk, bool) {
	for _, d := range s.Disks {
		if d.Path == path {
			return d, true
		}
	}
	return Disk{}, false
}

// FindPartition returns the partition with the given path from any disk.
func (s *Snapshot) FindPartition(path string) (Partition, bool) {
	for _, d := range s.Disks {
		for _, part := range d.Partitions {
			if part.Path == path {
				return part, true
			}
		}
	}
	return Partition{}, false
}

// HasDevice reports whether path names a known disk or partition.
func (s *Snapshot) HasDevice(path string) bool {
	if _, ok := s.FindDisk(path); ok {
		return true
	}
	_, ok := s.FindPartition(path)
	return ok
}

// ValidDevices returns the set of all known device paths, used to catch
// hallucinated device names in model output.
func (s *Snapshot) ValidDevices() map[string]bool {
	valid := make(map[string]bool)
	for _, d := range s.Disks {
		valid[d.Path] = true
		for _, part := range d.Partitions {
			valid[part.Path] = true
		}
	}
	return valid
}

// MountedUnder returns partitions currently mounted at or below prefix.
func (s *Snapshot) MountedUnder(prefix string) []Partition {
	var mounted []Partition
	for _, d := range s.Disks {
		for _, part := range d.Partitions {
			if part.Mountpoint == "" {
				continue
			}
			if part.Mountpoint == prefix || strings.HasPrefix(part.Mountpoint, prefix+"/") {
				mounted = append(mounted, part)
			}
		}
	}
	return mounted
}

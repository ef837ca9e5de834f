package probe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// procPartitions is the enumeration fallback for environments without a
// working lsblk (minimal initramfs). It yields topology only — no
// fstype, model, or mountpoints — which is enough for the validator's
// referential and capacity checks.
func (p *Prober) procPartitions() ([]Disk, error) {
	file, err := os.Open(filepath.Join(p.Root, "proc/partitions"))
	if err != nil {
		return nil, fmt.Errorf("open /proc/partitions: %w", err)
	}
	defer file.Close()

	type entry struct {
		name   string
		blocks int64
	}
	var entries []entry

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// major minor #blocks name
		if len(fields) != 4 || fields[0] == "major" {
			continue
		}
		blocks, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			continue
		}
		name := fields[3]
		if strings.HasPrefix(name, "loop") || strings.HasPrefix(name, "ram") {
			continue
		}
		entries = append(entries, entry{name: name, blocks: blocks})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read /proc/partitions: %w", err)
	}

	// An entry is a partition when another entry is a proper prefix of
	// its name (sda/sda1, nvme0n1/nvme0n1p1).
	isPartitionOf := func(name string) string {
		for _, e := range entries {
			if e.name != name && strings.HasPrefix(name, e.name) {
				return e.name
			}
		}
		return ""
	}

	byDisk := make(map[string]*Disk)
	var order []string
	for _, e := range entries {
		if isPartitionOf(e.name) == "" {
			byDisk[e.name] = &Disk{Path: "/dev/" + e.name, Capacity: e.blocks * 1024}
			order = append(order, e.name)
		}
	}
	for _, e := range entries {
		parent := isPartitionOf(e.name)
		if parent == "" {
			continue
		}
		if d, ok := byDisk[parent]; ok {
			d.Partitions = append(d.Partitions, Partition{
				Path: "/dev/" + e.name,
				Size: e.blocks * 1024,
			})
		}
	}

	if len(order) == 0 {
		return nil, fmt.Errorf("no block devices found")
	}
	disks := make([]Disk, 0, len(order))
	for _, name := range order {
		disks = append(disks, *byDisk[name])
	}
	return disks, nil
}

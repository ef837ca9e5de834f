package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/LevitateOS/installer/pkg/run"
)

// lsblk -J -b output with one nvme disk (partitioned) and one clean sata
// disk, plus a loop device that must be skipped.
const lsblkFixture = `{
  "blockdevices": [
    {"name":"nvme0n1","path":"/dev/nvme0n1","size":500107862016,"type":"disk","model":"Samsung SSD 980",
     "children":[
       {"name":"nvme0n1p1","path":"/dev/nvme0n1p1","size":536870912,"type":"part","fstype":"vfat","mountpoint":"/boot/efi"},
       {"name":"nvme0n1p2","path":"/dev/nvme0n1p2","size":499569991680,"type":"part","fstype":"ext4","mountpoint":"/"}
     ]},
    {"name":"sda","path":"/dev/sda","size":1000204886016,"type":"disk","model":"WDC WD10EZEX"},
    {"name":"loop0","path":"/dev/loop0","size":4096,"type":"loop"}
  ]
}`

// Older util-linux emits sizes as strings; the parser accepts both.
const lsblkStringSizes = `{
  "blockdevices": [
    {"name":"vda","path":"/dev/vda","size":"21474836480","type":"disk","model":null}
  ]
}`

type scriptedRunner struct {
	stdout   string
	exitCode int
	err      error
	calls    []string
}

func (s *scriptedRunner) Run(ctx context.Context, command string, args ...string) (*run.Result, error) {
	s.calls = append(s.calls, command+" "+strings.Join(args, " "))
	if s.err != nil {
		return nil, s.err
	}
	return &run.Result{Stdout: []byte(s.stdout), ExitCode: s.exitCode}, nil
}

// TestParseLsblk checks topology decoding and loop-device skipping.
func TestParseLsblk(t *testing.T) {
	disks, err := ParseLsblk([]byte(lsblkFixture))
	if err != nil {
		t.Fatal(err)
	}
	if len(disks) != 2 {
		t.Fatalf("got %d disks, want 2 (loop devices skipped)", len(disks))
	}

	nvme := disks[0]
	if nvme.Path != "/dev/nvme0n1" || nvme.Capacity != 500107862016 {
		t.Errorf("nvme = %+v", nvme)
	}
	if nvme.Model != "Samsung SSD 980" {
		t.Errorf("nvme model = %q", nvme.Model)
	}
	if len(nvme.Partitions) != 2 {
		t.Fatalf("nvme partitions = %d, want 2", len(nvme.Partitions))
	}
	if nvme.Partitions[0].Fstype != "vfat" || nvme.Partitions[0].Mountpoint != "/boot/efi" {
		t.Errorf("p1 = %+v", nvme.Partitions[0])
	}

	if len(disks[1].Partitions) != 0 {
		t.Errorf("sda should have no partitions, got %d", len(disks[1].Partitions))
	}
}

// TestParseLsblkStringSizes accepts the older string-typed size field.
func TestParseLsblkStringSizes(t *testing.T) {
	disks, err := ParseLsblk([]byte(lsblkStringSizes))
	if err != nil {
		t.Fatal(err)
	}
	if len(disks) != 1 || disks[0].Capacity != 21474836480 {
		t.Fatalf("disks = %+v", disks)
	}
}

// TestProbeFatalWhenNoMechanism verifies *Error surfaces only when both
// lsblk and the /proc/partitions fallback are unusable.
func TestProbeFatalWhenNoMechanism(t *testing.T) {
	p := &Prober{
		Runner: &scriptedRunner{err: errors.New("lsblk: not found")},
		Root:   t.TempDir(), // no proc/partitions here
	}
	_, err := p.Probe(context.Background())
	if err == nil {
		t.Fatal("expected probe error")
	}
	var perr *Error
	if !errors.As(err, &perr) {
		t.Fatalf("error %v is not a *probe.Error", err)
	}
}

// TestProbeFallbackProcPartitions exercises the minimal topology path.
func TestProbeFallbackProcPartitions(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "proc"), 0o755); err != nil {
		t.Fatal(err)
	}
	table := `major minor  #blocks  name

   8        0  976762584 sda
   8        1     524288 sda1
   8        2  976237568 sda2
 259        0  488386584 nvme0n1
   7        0       4096 loop0
`
	if err := os.WriteFile(filepath.Join(root, "proc/partitions"), []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	p := &Prober{
		Runner: &scriptedRunner{exitCode: 1, stdout: ""},
		Root:   root,
	}
	snap, err := p.Probe(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Disks) != 2 {
		t.Fatalf("got %d disks, want 2: %+v", len(snap.Disks), snap.Disks)
	}
	sda, ok := snap.FindDisk("/dev/sda")
	if !ok {
		t.Fatal("missing /dev/sda")
	}
	if len(sda.Partitions) != 2 {
		t.Errorf("sda partitions = %d, want 2", len(sda.Partitions))
	}
	if sda.Capacity != 976762584*1024 {
		t.Errorf("sda capacity = %d", sda.Capacity)
	}
}

// TestSnapshotLookups covers device lookup helpers used by validation.
func TestSnapshotLookups(t *testing.T) {
	disks, err := ParseLsblk([]byte(lsblkFixture))
	if err != nil {
		t.Fatal(err)
	}
	snap := &Snapshot{Disks: disks}

	if !snap.HasDevice("/dev/nvme0n1") || !snap.HasDevice("/dev/nvme0n1p2") {
		t.Error("known devices not found")
	}
	if snap.HasDevice("/dev/sdb") {
		t.Error("unknown device reported present")
	}

	valid := snap.ValidDevices()
	for _, want := range []string{"/dev/nvme0n1", "/dev/nvme0n1p1", "/dev/nvme0n1p2", "/dev/sda"} {
		if !valid[want] {
			t.Errorf("ValidDevices missing %s", want)
		}
	}

	mounted := snap.MountedUnder("/boot")
	if len(mounted) != 1 || mounted[0].Path != "/dev/nvme0n1p1" {
		t.Errorf("MountedUnder(/boot) = %+v", mounted)
	}
}

// TestGatherFacts reads fixture fact files from a temp root.
func TestGatherFacts(t *testing.T) {
	root := t.TempDir()
	mk := func(path, content string) {
		full := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	mk("sys/firmware/efi/efivars/placeholder", "")
	mk("etc/hostname", "liveiso\n")
	mk("etc/passwd", "root:x:0:0::/root:/bin/bash\nvince:x:1000:1000::/home/vince:/bin/bash\nnobody:x:65534:65534::/:/usr/bin/nologin\n")
	if err := os.Symlink("/usr/share/zoneinfo/America/Los_Angeles", filepath.Join(root, "etc/localtime")); err != nil {
		t.Fatal(err)
	}

	p := &Prober{Runner: &scriptedRunner{}, Root: root}
	facts := p.gatherFacts()

	if !facts.UEFI {
		t.Error("UEFI = false, want true")
	}
	if facts.Hostname != "liveiso" {
		t.Errorf("Hostname = %q", facts.Hostname)
	}
	if facts.Timezone != "America/Los_Angeles" {
		t.Errorf("Timezone = %q", facts.Timezone)
	}
	if len(facts.Users) != 1 || facts.Users[0] != "vince" {
		t.Errorf("Users = %v", facts.Users)
	}
}

// TestRenderContext checks the model-facing summary names real devices.
func TestRenderContext(t *testing.T) {
	disks, _ := ParseLsblk([]byte(lsblkFixture))
	snap := &Snapshot{Disks: disks, Facts: Facts{UEFI: true, Hostname: "liveiso"}}

	ctx := RenderContext(snap)
	for _, want := range []string{"UEFI", "/dev/nvme0n1", "/dev/sda", "mounted at /boot/efi", "465.8G"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("context missing %q:\n%s", want, ctx)
		}
	}
}

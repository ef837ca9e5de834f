package exec

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
)

// buildSteps constructs the command sequence for one action against the
// snapshot it will run under. Pure argv construction; nothing runs here.
func (e *Executor) buildSteps(a action.Action, snap *probe.Snapshot) ([]step, string, error) {
	switch act := a.(type) {
	case action.Partition:
		return partitionSteps(act), fmt.Sprintf("wrote %d partitions to %s", len(act.Scheme.Entries), act.Disk), nil
	case action.Format:
		steps, err := e.formatSteps(act)
		if err != nil {
			return nil, "", err
		}
		return steps, fmt.Sprintf("formatted %s as %s", act.Partition, act.Filesystem), nil
	case action.Mount:
		return mountSteps(act, snap), fmt.Sprintf("mounted %s at %s", act.Partition, act.Mountpoint), nil
	case action.SetHostname:
		// Handled by writeHostname; no commands.
		return nil, "", fmt.Errorf("set_hostname does not build commands")
	case action.SetTimezone:
		return []step{{
			command: "ln",
			args:    []string{"-sfn", "/usr/share/zoneinfo/" + act.Zone, filepath.Join(e.TargetRoot, "etc", "localtime")},
		}}, fmt.Sprintf("timezone set to %s", act.Zone), nil
	case action.CreateUser:
		return e.createUserSteps(act), fmt.Sprintf("created user %s", act.Name), nil
	case action.SetPassword:
		return []step{{
			command: "chroot",
			args:    []string{e.TargetRoot, "chpasswd"},
			input:   []byte(act.User + ":" + act.Secret + "\n"),
			secret:  true,
		}}, fmt.Sprintf("password set for %s", act.User), nil
	case action.InstallBootloader:
		return e.bootloaderSteps(act, snap), "bootloader installed", nil
	case action.Reboot:
		return []step{{command: "systemctl", args: []string{"reboot"}}}, "rebooting", nil
	}
	return nil, "", fmt.Errorf("no command construction for action kind %q", a.Kind())
}

// sgdisk GPT type codes per filesystem.
func gptTypeCode(fs action.Filesystem) string {
	switch fs {
	case action.FSVfat:
		return "ef00"
	case action.FSSwap:
		return "8200"
	case action.FSLuksExt4:
		return "8309"
	default:
		return "8300"
	}
}

// partitionSteps zaps the existing label and writes the scheme entries
// in order, then asks the kernel to re-read the table.
func partitionSteps(a action.Partition) []step {
	steps := []step{{command: "sgdisk", args: []string{"--zap-all", a.Disk}}}
	for i, entry := range a.Scheme.Entries {
		n := i + 1
		// sgdisk speaks whole MiB; round up so no entry collapses to +0M.
		size := fmt.Sprintf("%d:0:+%dM", n, (entry.Size+action.MiB-1)/action.MiB)
		if entry.Remaining {
			size = fmt.Sprintf("%d:0:0", n)
		}
		steps = append(steps, step{
			command: "sgdisk",
			args: []string{
				"-n", size,
				"-t", fmt.Sprintf("%d:%s", n, gptTypeCode(entry.Filesystem)),
				a.Disk,
			},
		})
	}
	steps = append(steps, step{command: "partprobe", args: []string{a.Disk}})
	return steps
}

func (e *Executor) formatSteps(a action.Format) ([]step, error) {
	switch a.Filesystem {
	case action.FSVfat:
		return []step{{command: "mkfs.vfat", args: []string{"-F", "32", a.Partition}}}, nil
	case action.FSExt4:
		return []step{{command: "mkfs.ext4", args: []string{"-F", a.Partition}}}, nil
	case action.FSBtrfs:
		return []step{{command: "mkfs.btrfs", args: []string{"-f", a.Partition}}}, nil
	case action.FSXfs:
		return []step{{command: "mkfs.xfs", args: []string{"-f", a.Partition}}}, nil
	case action.FSSwap:
		return []step{{command: "mkswap", args: []string{a.Partition}}}, nil
	case action.FSLuksExt4:
		if len(e.LuksKey) == 0 {
			return nil, fmt.Errorf("luks-ext4 needs an encryption passphrase; none is configured")
		}
		mapper := "luks-" + path.Base(a.Partition)
		return []step{
			{command: "cryptsetup", args: []string{"-q", "luksFormat", a.Partition}, input: e.LuksKey, secret: true},
			{command: "cryptsetup", args: []string{"open", a.Partition, mapper}, input: e.LuksKey, secret: true},
			{command: "mkfs.ext4", args: []string{"-F", "/dev/mapper/" + mapper}},
		}, nil
	}
	return nil, fmt.Errorf("no format commands for filesystem %q", a.Filesystem)
}

// mountSteps attaches the partition; swap partitions are enabled rather
// than mounted.
func mountSteps(a action.Mount, snap *probe.Snapshot) []step {
	if part, ok := snap.FindPartition(a.Partition); ok && part.Fstype == "swap" {
		return []step{{command: "swapon", args: []string{a.Partition}}}
	}
	return []step{{
		command: "mount",
		args:    []string{a.Partition, a.Mountpoint},
		mkdir:   a.Mountpoint,
	}}
}

func (e *Executor) createUserSteps(a action.CreateUser) []step {
	steps := []step{{
		command: "chroot",
		args:    []string{e.TargetRoot, "useradd", "-m", "-s", "/bin/bash", a.Name},
	}}
	if a.Sudo {
		steps = append(steps, step{
			command: "chroot",
			args:    []string{e.TargetRoot, "usermod", "-aG", "wheel", a.Name},
		})
	}
	return steps
}

// bootloaderSteps installs GRUB for the probed boot mode. UEFI installs
// into the ESP regardless of the requested device; legacy BIOS writes to
// the target disk's MBR.
func (e *Executor) bootloaderSteps(a action.InstallBootloader, snap *probe.Snapshot) []step {
	var install step
	if snap.Facts.UEFI {
		install = step{command: "chroot", args: []string{
			e.TargetRoot, "grub-install",
			"--target=x86_64-efi",
			"--efi-directory=/boot/efi",
			"--bootloader-id=LevitateOS",
			"--recheck",
		}}
	} else {
		install = step{command: "chroot", args: []string{
			e.TargetRoot, "grub-install", "--target=i386-pc", a.Target,
		}}
	}
	return []step{
		install,
		{command: "chroot", args: []string{e.TargetRoot, "grub-mkconfig", "-o", "/boot/grub/grub.cfg"}},
	}
}

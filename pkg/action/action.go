// Package action defines the closed vocabulary of installer operations.
// Every component of the engine — validator, executor, session, model
// boundary — speaks in these types. An Action is a value: constructors
// validate field syntax, and nothing mutates an Action after construction.
package action

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies an Action variant.
type Kind string

const (
	KindListDisks         Kind = "list_disks"
	KindPartition         Kind = "partition"
	KindFormat            Kind = "format"
	KindMount             Kind = "mount"
	KindCopySystem        Kind = "copy_system"
	KindSetHostname       Kind = "set_hostname"
	KindSetTimezone       Kind = "set_timezone"
	KindCreateUser        Kind = "create_user"
	KindSetPassword       Kind = "set_password"
	KindInstallBootloader Kind = "install_bootloader"
	KindReboot            Kind = "reboot"
	KindHelp              Kind = "help"
	KindClarify           Kind = "clarify"
)

// Filesystem names the on-disk format for a partition.
type Filesystem string

// Supported filesystems. luks-ext4 is ext4 inside a LUKS container.
const (
	FSVfat     Filesystem = "vfat"
	FSExt4     Filesystem = "ext4"
	FSBtrfs    Filesystem = "btrfs"
	FSXfs      Filesystem = "xfs"
	FSSwap     Filesystem = "swap"
	FSLuksExt4 Filesystem = "luks-ext4"
)

var supportedFilesystems = map[Filesystem]bool{
	FSVfat: true, FSExt4: true, FSBtrfs: true,
	FSXfs: true, FSSwap: true, FSLuksExt4: true,
}

// SyntaxError reports a malformed Action construction, naming the
// offending field. If it originates inside the engine it is a bug;
// if it comes from decoding model output it is a model problem —
// either way it is reported, never retried.
type SyntaxError struct {
	Action Kind
	Field  string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid %s action: field %q: %s", e.Action, e.Field, e.Reason)
}

// Action is one installer operation. The variant set is closed: the
// validator and executor switch exhaustively on the concrete type.
type Action interface {
	Kind() Kind
	// Describe returns a short human-readable rendering for logs and the UI.
	Describe() string
}

// ListDisks requests a read-only listing of block devices.
type ListDisks struct{}

func (ListDisks) Kind() Kind       { return KindListDisks }
func (ListDisks) Describe() string { return "list available disks" }

// Partition writes a new GPT label and partition table to a whole disk.
type Partition struct {
	Disk   string
	Scheme Scheme
}

func (Partition) Kind() Kind { return KindPartition }

func (a Partition) Describe() string {
	return fmt.Sprintf("partition %s with %d entries", a.Disk, len(a.Scheme.Entries))
}

// NewPartition validates disk path and scheme grammar.
func NewPartition(disk string, scheme Scheme) (Partition, error) {
	if err := checkDevicePath(KindPartition, "disk", disk); err != nil {
		return Partition{}, err
	}
	if err := scheme.check(); err != nil {
		return Partition{}, err
	}
	return Partition{Disk: disk, Scheme: scheme}, nil
}

// Format creates a filesystem on an existing partition.
type Format struct {
	Partition  string
	Filesystem Filesystem
}

func (Format) Kind() Kind { return KindFormat }

func (a Format) Describe() string {
	return fmt.Sprintf("format %s as %s", a.Partition, a.Filesystem)
}

// NewFormat validates the partition path and filesystem name.
func NewFormat(partition string, fs Filesystem) (Format, error) {
	if err := checkDevicePath(KindFormat, "partition", partition); err != nil {
		return Format{}, err
	}
	if !supportedFilesystems[fs] {
		return Format{}, &SyntaxError{KindFormat, "filesystem", fmt.Sprintf("unsupported filesystem %q", fs)}
	}
	return Format{Partition: partition, Filesystem: fs}, nil
}

// Mount attaches a partition at a mountpoint under the target tree.
type Mount struct {
	Partition  string
	Mountpoint string
}

func (Mount) Kind() Kind { return KindMount }

func (a Mount) Describe() string {
	return fmt.Sprintf("mount %s at %s", a.Partition, a.Mountpoint)
}

// NewMount validates the partition path and mountpoint.
func NewMount(partition, mountpoint string) (Mount, error) {
	if err := checkDevicePath(KindMount, "partition", partition); err != nil {
		return Mount{}, err
	}
	if !strings.HasPrefix(mountpoint, "/") {
		return Mount{}, &SyntaxError{KindMount, "mountpoint", "must be an absolute path"}
	}
	return Mount{Partition: partition, Mountpoint: mountpoint}, nil
}

// CopySystem copies the live system tree onto the mounted target root.
type CopySystem struct {
	Source string
	Target string
}

func (CopySystem) Kind() Kind { return KindCopySystem }

func (a CopySystem) Describe() string {
	return fmt.Sprintf("copy system from %s to %s", a.Source, a.Target)
}

// NewCopySystem validates source and target paths.
func NewCopySystem(source, target string) (CopySystem, error) {
	if !strings.HasPrefix(source, "/") {
		return CopySystem{}, &SyntaxError{KindCopySystem, "source", "must be an absolute path"}
	}
	if !strings.HasPrefix(target, "/") {
		return CopySystem{}, &SyntaxError{KindCopySystem, "target", "must be an absolute path"}
	}
	if source == target {
		return CopySystem{}, &SyntaxError{KindCopySystem, "target", "source and target are the same path"}
	}
	return CopySystem{Source: source, Target: target}, nil
}

// hostnameRe follows RFC 1123 labels joined by dots.
var hostnameRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,62}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,62}[a-zA-Z0-9])?)*$`)

// SetHostname writes the target system hostname.
type SetHostname struct {
	Name string
}

func (SetHostname) Kind() Kind       { return KindSetHostname }
func (a SetHostname) Describe() string { return fmt.Sprintf("set hostname to %q", a.Name) }

// NewSetHostname validates the hostname against RFC 1123.
func NewSetHostname(name string) (SetHostname, error) {
	if name == "" {
		return SetHostname{}, &SyntaxError{KindSetHostname, "name", "must not be empty"}
	}
	if len(name) > 253 || !hostnameRe.MatchString(name) {
		return SetHostname{}, &SyntaxError{KindSetHostname, "name", fmt.Sprintf("%q is not a valid hostname", name)}
	}
	return SetHostname{Name: name}, nil
}

// zoneRe matches zoneinfo identifiers like "America/Los_Angeles" or "UTC".
var zoneRe = regexp.MustCompile(`^[A-Za-z_+\-0-9]+(/[A-Za-z_+\-0-9]+){0,2}$`)

// SetTimezone writes the target system timezone.
type SetTimezone struct {
	Zone string
}

func (SetTimezone) Kind() Kind       { return KindSetTimezone }
func (a SetTimezone) Describe() string { return fmt.Sprintf("set timezone to %s", a.Zone) }

// NewSetTimezone validates the zoneinfo identifier shape. Existence of
// the zone file is an execution-time concern, not a syntax one.
func NewSetTimezone(zone string) (SetTimezone, error) {
	if zone == "" {
		return SetTimezone{}, &SyntaxError{KindSetTimezone, "zone", "must not be empty"}
	}
	if !zoneRe.MatchString(zone) {
		return SetTimezone{}, &SyntaxError{KindSetTimezone, "zone", fmt.Sprintf("%q is not a valid timezone identifier", zone)}
	}
	return SetTimezone{Zone: zone}, nil
}

// usernameRe follows useradd's default NAME_REGEX.
var usernameRe = regexp.MustCompile(`^[a-z_][a-z0-9_-]{0,31}$`)

// CreateUser adds a user account on the target system.
type CreateUser struct {
	Name string
	Sudo bool
}

func (CreateUser) Kind() Kind { return KindCreateUser }

func (a CreateUser) Describe() string {
	if a.Sudo {
		return fmt.Sprintf("create user %q with sudo", a.Name)
	}
	return fmt.Sprintf("create user %q", a.Name)
}

// NewCreateUser validates the account name.
func NewCreateUser(name string, sudo bool) (CreateUser, error) {
	if name == "" {
		return CreateUser{}, &SyntaxError{KindCreateUser, "name", "must not be empty"}
	}
	if !usernameRe.MatchString(name) {
		return CreateUser{}, &SyntaxError{KindCreateUser, "name", fmt.Sprintf("%q is not a valid account name", name)}
	}
	return CreateUser{Name: name, Sudo: sudo}, nil
}

// SetPassword sets the password for an existing target user.
// The secret never appears in Describe, logs, or the action trace.
type SetPassword struct {
	User   string
	Secret string
}

func (SetPassword) Kind() Kind       { return KindSetPassword }
func (a SetPassword) Describe() string { return fmt.Sprintf("set password for %q", a.User) }

// NewSetPassword validates the user name and that a secret is present.
func NewSetPassword(user, secret string) (SetPassword, error) {
	if user == "" {
		return SetPassword{}, &SyntaxError{KindSetPassword, "user", "must not be empty"}
	}
	if !usernameRe.MatchString(user) && user != "root" {
		return SetPassword{}, &SyntaxError{KindSetPassword, "user", fmt.Sprintf("%q is not a valid account name", user)}
	}
	if secret == "" {
		return SetPassword{}, &SyntaxError{KindSetPassword, "secret", "must not be empty"}
	}
	return SetPassword{User: user, Secret: secret}, nil
}

// InstallBootloader installs GRUB onto the target.
type InstallBootloader struct {
	Target string
}

func (InstallBootloader) Kind() Kind       { return KindInstallBootloader }
func (a InstallBootloader) Describe() string { return fmt.Sprintf("install bootloader to %s", a.Target) }

// NewInstallBootloader validates the target device or directory path.
func NewInstallBootloader(target string) (InstallBootloader, error) {
	if !strings.HasPrefix(target, "/") {
		return InstallBootloader{}, &SyntaxError{KindInstallBootloader, "target", "must be an absolute path"}
	}
	return InstallBootloader{Target: target}, nil
}

// Reboot restarts the machine. Legal only once installation finishes.
type Reboot struct{}

func (Reboot) Kind() Kind       { return KindReboot }
func (Reboot) Describe() string { return "reboot" }

// Help requests usage guidance; it touches nothing.
type Help struct{}

func (Help) Kind() Kind       { return KindHelp }
func (Help) Describe() string { return "help" }

// Clarify is a request for more information from the user. It is not a
// system operation: validation passes it through untouched.
type Clarify struct {
	Question string
}

func (Clarify) Kind() Kind       { return KindClarify }
func (a Clarify) Describe() string { return fmt.Sprintf("clarify: %s", a.Question) }

// NewClarify validates that a question is present.
func NewClarify(question string) (Clarify, error) {
	if strings.TrimSpace(question) == "" {
		return Clarify{}, &SyntaxError{KindClarify, "question", "must not be empty"}
	}
	return Clarify{Question: question}, nil
}

// Idempotent reports whether an action may safely execute more than once.
// Everything else is at-most-once.
func Idempotent(a Action) bool {
	switch a.(type) {
	case ListDisks, Help, Reboot, Clarify:
		return true
	}
	return false
}

// checkDevicePath validates that a field names a device node under /dev.
func checkDevicePath(kind Kind, field, path string) error {
	if path == "" {
		return &SyntaxError{kind, field, "must not be empty"}
	}
	if !strings.HasPrefix(path, "/dev/") || len(path) == len("/dev/") {
		return &SyntaxError{kind, field, fmt.Sprintf("%q is not a device path under /dev", path)}
	}
	return nil
}

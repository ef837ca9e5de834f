// Package policy implements the guard layer between validated plans and
// the shell: a command allowlist/denylist for everything the executor
// runs, plus operator-configurable deny rules compiled as boolean
// expressions over the action's fields. Deny always wins.
package policy

import (
	"bytes"
	"fmt"
	"os"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"

	"github.com/LevitateOS/installer/pkg/action"
)

// Rule is one operator-configured deny expression. The expression is
// evaluated against the action environment (see BuildEnv); when it
// yields true the action is refused before execution.
type Rule struct {
	Name    string `yaml:"name"`
	Deny    string `yaml:"deny"`
	Message string `yaml:"message,omitempty"`
}

// Policy is the declarative form, loaded from the installer config.
type Policy struct {
	AllowedCommands []string `yaml:"allowed_commands,omitempty"`
	DeniedCommands  []string `yaml:"denied_commands,omitempty"`
	Rules           []Rule   `yaml:"rules,omitempty"`
}

// Engine evaluates a compiled Policy.
type Engine struct {
	allowed  map[string]bool
	denied   map[string]bool
	rules    []Rule
	programs []*vm.Program
}

// defaultAllowed is the full tool surface the executor may ever invoke.
// Anything outside this set is a bug, not a configuration choice.
var defaultAllowed = []string{
	"lsblk", "blockdev", "sgdisk", "partprobe", "wipefs",
	"mkfs.vfat", "mkfs.ext4", "mkfs.btrfs", "mkfs.xfs", "mkswap",
	"cryptsetup", "mount", "umount", "swapon",
	"rsync", "cp", "mv",
	"chroot", "hostnamectl", "timedatectl", "ln",
	"useradd", "usermod", "chpasswd",
	"grub-install", "grub-mkconfig",
	"systemctl", "reboot",
}

// New compiles a Policy into an Engine. Rule expressions are compiled
// eagerly so a broken rule fails at load, not mid-installation.
func New(p Policy) (*Engine, error) {
	e := &Engine{
		allowed: make(map[string]bool),
		denied:  make(map[string]bool),
		rules:   p.Rules,
	}
	cmds := p.AllowedCommands
	if len(cmds) == 0 {
		cmds = defaultAllowed
	}
	for _, c := range cmds {
		e.allowed[c] = true
	}
	for _, c := range p.DeniedCommands {
		e.denied[c] = true
	}

	for _, r := range p.Rules {
		if r.Deny == "" {
			return nil, fmt.Errorf("policy rule %q has no deny expression", r.Name)
		}
		prog, err := expr.Compile(r.Deny, expr.Env(sampleEnv()), expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return nil, fmt.Errorf("compile policy rule %q: %w", r.Name, err)
		}
		e.programs = append(e.programs, prog)
	}
	return e, nil
}

// Default returns the built-in permissive engine: the standard command
// allowlist and no deny rules.
func Default() *Engine {
	e, err := New(Policy{})
	if err != nil {
		panic(err) // empty policy always compiles
	}
	return e
}

// LoadFile reads a YAML policy file and compiles it.
func LoadFile(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var p Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	return New(p)
}

// CheckCommand validates a command name the executor is about to run.
// Deny takes precedence over allow.
func (e *Engine) CheckCommand(command string) error {
	if e.denied[command] {
		return fmt.Errorf("command %q is denied by policy", command)
	}
	if !e.allowed[command] {
		return fmt.Errorf("command %q is not in the policy allowlist", command)
	}
	return nil
}

// CheckAction evaluates the deny rules against an action about to
// execute. The first matching rule refuses the action.
func (e *Engine) CheckAction(a action.Action, destructive bool) error {
	if len(e.programs) == 0 {
		return nil
	}
	env := BuildEnv(a, destructive)
	for i, prog := range e.programs {
		out, err := expr.Run(prog, env)
		if err != nil {
			return fmt.Errorf("evaluate policy rule %q: %w", e.rules[i].Name, err)
		}
		if matched, _ := out.(bool); matched {
			msg := e.rules[i].Message
			if msg == "" {
				msg = fmt.Sprintf("denied by policy rule %q", e.rules[i].Name)
			}
			return fmt.Errorf("%s", msg)
		}
	}
	return nil
}

// BuildEnv flattens an action into the expression environment. Fields
// that don't apply to the kind are empty strings, so rules can match on
// any subset without nil checks.
func BuildEnv(a action.Action, destructive bool) map[string]any {
	env := sampleEnv()
	env["kind"] = string(a.Kind())
	env["destructive"] = destructive

	switch act := a.(type) {
	case action.Partition:
		env["disk"] = act.Disk
		env["device"] = act.Disk
	case action.Format:
		env["partition"] = act.Partition
		env["device"] = act.Partition
		env["filesystem"] = string(act.Filesystem)
	case action.Mount:
		env["partition"] = act.Partition
		env["device"] = act.Partition
		env["mountpoint"] = act.Mountpoint
	case action.CopySystem:
		env["source"] = act.Source
		env["target"] = act.Target
	case action.SetHostname:
		env["name"] = act.Name
	case action.SetTimezone:
		env["zone"] = act.Zone
	case action.CreateUser:
		env["name"] = act.Name
		env["sudo"] = act.Sudo
	case action.SetPassword:
		env["name"] = act.User
	case action.InstallBootloader:
		env["target"] = act.Target
		env["device"] = act.Target
	}
	return env
}

// sampleEnv declares every variable rules may reference, typed for the
// expr compiler.
func sampleEnv() map[string]any {
	return map[string]any{
		"kind":        "",
		"destructive": false,
		"disk":        "",
		"device":      "",
		"partition":   "",
		"filesystem":  "",
		"mountpoint":  "",
		"source":      "",
		"target":      "",
		"name":        "",
		"zone":        "",
		"sudo":        false,
	}
}

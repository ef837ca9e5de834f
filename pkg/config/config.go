// Package config loads the installer configuration. Decoding is strict:
// an unknown key is a typo, and a typo in an installer config deserves
// an error, not silence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/policy"
)

// Config is the installer's top-level configuration.
type Config struct {
	// ModelEndpoint is the local model server base URL.
	ModelEndpoint string `yaml:"model_endpoint"`
	ModelName     string `yaml:"model_name"`

	// StateDir holds session artifacts and the checkpoint database.
	StateDir string `yaml:"state_dir"`

	// PolicyFile optionally overrides the built-in command policy.
	PolicyFile string `yaml:"policy_file,omitempty"`

	// TargetRoot is where the new system gets mounted.
	TargetRoot string `yaml:"target_root"`
	// SourceRoot is the live system tree CopySystem reads from.
	SourceRoot string `yaml:"source_root"`

	LogLevel string `yaml:"log_level"`
	DryRun   bool   `yaml:"dry_run,omitempty"`

	// Presets are named partition layouts the TUI can offer.
	Presets []Preset `yaml:"presets,omitempty"`
}

// Preset is a named partition layout with human-readable sizes.
type Preset struct {
	Name    string        `yaml:"name"`
	Entries []PresetEntry `yaml:"entries"`
}

// PresetEntry mirrors a scheme entry with a string size ("512M", "rest").
type PresetEntry struct {
	Mountpoint string `yaml:"mountpoint"`
	Size       string `yaml:"size"`
	Filesystem string `yaml:"filesystem"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ModelEndpoint: "http://127.0.0.1:8080",
		StateDir:      "/var/lib/levitate",
		TargetRoot:    "/mnt",
		SourceRoot:    "/run/rootfs",
		LogLevel:      "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// Policy loads the configured policy file, or the built-in default.
func (c Config) Policy() (*policy.Engine, error) {
	if c.PolicyFile == "" {
		return policy.Default(), nil
	}
	return policy.LoadFile(c.PolicyFile)
}

// Scheme converts a preset into a validated partition scheme.
func (p Preset) Scheme() (action.Scheme, error) {
	entries := make([]action.SchemeEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		size, remaining, err := action.ParseSize(e.Size)
		if err != nil {
			return action.Scheme{}, fmt.Errorf("preset %q: %w", p.Name, err)
		}
		entries = append(entries, action.SchemeEntry{
			Mountpoint: e.Mountpoint,
			Size:       size,
			Remaining:  remaining,
			Filesystem: action.Filesystem(e.Filesystem),
		})
	}
	s, err := action.NewScheme(entries)
	if err != nil {
		return action.Scheme{}, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return s, nil
}

// Describe renders the preset as one human-readable line, the form the
// help text and the model prompt show it in.
func (p Preset) Describe() string {
	parts := make([]string, 0, len(p.Entries))
	for _, e := range p.Entries {
		parts = append(parts, fmt.Sprintf("%s %s %s", e.Mountpoint, e.Size, e.Filesystem))
	}
	return fmt.Sprintf("%s: %s", p.Name, strings.Join(parts, ", "))
}

// FindPreset returns the named preset.
func (c Config) FindPreset(name string) (Preset, bool) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

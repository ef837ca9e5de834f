package action

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemeEntry is one partition in a Scheme. Size is exact bytes unless
// Remaining is set, in which case the entry takes all space left on the
// disk and Size is zero.
type SchemeEntry struct {
	Mountpoint string     `json:"mountpoint"`
	Size       int64      `json:"size,omitempty"`
	Remaining  bool       `json:"remaining,omitempty"`
	Filesystem Filesystem `json:"filesystem"`
}

// Scheme is an ordered partition layout for one disk. Grammar: at most
// one Remaining entry, and it must be last; exact sizes are positive.
// Whether the exact sizes fit the target disk is the validator's call —
// it owns the snapshot; the scheme alone cannot know disk capacity.
type Scheme struct {
	Entries []SchemeEntry `json:"entries"`
}

// NewScheme validates the scheme grammar and returns the scheme.
func NewScheme(entries []SchemeEntry) (Scheme, error) {
	s := Scheme{Entries: entries}
	if err := s.check(); err != nil {
		return Scheme{}, err
	}
	return s, nil
}

// Validate re-checks the scheme grammar. Constructors run this, but the
// validator runs it again: an Action decoded from model output may have
// been built without going through NewScheme.
func (s Scheme) Validate() error { return s.check() }

func (s Scheme) check() error {
	if len(s.Entries) == 0 {
		return &SyntaxError{KindPartition, "scheme", "must have at least one entry"}
	}
	remaining := 0
	for i, e := range s.Entries {
		field := fmt.Sprintf("scheme[%d]", i)
		if e.Mountpoint != "swap" && !strings.HasPrefix(e.Mountpoint, "/") {
			return &SyntaxError{KindPartition, field + ".mountpoint", fmt.Sprintf("%q is not an absolute path or \"swap\"", e.Mountpoint)}
		}
		if !supportedFilesystems[e.Filesystem] {
			return &SyntaxError{KindPartition, field + ".filesystem", fmt.Sprintf("unsupported filesystem %q", e.Filesystem)}
		}
		if e.Remaining {
			remaining++
			if e.Size != 0 {
				return &SyntaxError{KindPartition, field + ".size", "remaining-space entry must not carry an exact size"}
			}
			if i != len(s.Entries)-1 {
				return &SyntaxError{KindPartition, field + ".size", "remaining-space entry must be last"}
			}
		} else if e.Size <= 0 {
			return &SyntaxError{KindPartition, field + ".size", "exact size must be positive"}
		} else if e.Size < MiB {
			// Partition tools allocate whole MiB.
			return &SyntaxError{KindPartition, field + ".size", fmt.Sprintf("exact size %s is below the 1M minimum", FormatSize(e.Size))}
		}
	}
	if remaining > 1 {
		return &SyntaxError{KindPartition, "scheme", "at most one entry may use remaining space"}
	}
	return nil
}

// ExactTotal returns the sum of all exact-size entries in bytes.
func (s Scheme) ExactTotal() int64 {
	var total int64
	for _, e := range s.Entries {
		if !e.Remaining {
			total += e.Size
		}
	}
	return total
}

// HasRemaining reports whether the last entry takes the rest of the disk.
func (s Scheme) HasRemaining() bool {
	n := len(s.Entries)
	return n > 0 && s.Entries[n-1].Remaining
}

// Size unit multipliers. Disk tooling speaks binary units.
const (
	KiB = 1 << 10
	MiB = 1 << 20
	GiB = 1 << 30
	TiB = 1 << 40
)

// ParseSize parses human disk sizes like "512M", "8G", "1.5T", or a bare
// byte count. The words "rest", "remaining", and "*" mean remaining
// space and return (0, true, nil).
func ParseSize(s string) (bytes int64, remaining bool, err error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	switch strings.ToLower(s) {
	case "rest", "remaining", "*":
		return 0, true, nil
	}
	if s == "" {
		return 0, false, fmt.Errorf("empty size")
	}

	mult := int64(1)
	num := s
	// Accept both "512M" and "512MiB"/"512MB" spellings.
	for _, suf := range []struct {
		text string
		mult int64
	}{
		{"KIB", KiB}, {"MIB", MiB}, {"GIB", GiB}, {"TIB", TiB},
		{"KB", KiB}, {"MB", MiB}, {"GB", GiB}, {"TB", TiB},
		{"K", KiB}, {"M", MiB}, {"G", GiB}, {"T", TiB},
	} {
		if strings.HasSuffix(s, suf.text) {
			mult = suf.mult
			num = strings.TrimSuffix(s, suf.text)
			break
		}
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse size %q: %w", s, err)
	}
	if f <= 0 {
		return 0, false, fmt.Errorf("size %q must be positive", s)
	}
	return int64(f * float64(mult)), false, nil
}

// FormatSize renders a byte count in the largest even binary unit,
// matching how the confirmation summary and TUI display sizes.
func FormatSize(bytes int64) string {
	switch {
	case bytes >= TiB && bytes%GiB == 0:
		return fmt.Sprintf("%.1fT", float64(bytes)/float64(TiB))
	case bytes >= GiB:
		if bytes%GiB == 0 {
			return fmt.Sprintf("%dG", bytes/GiB)
		}
		return fmt.Sprintf("%.1fG", float64(bytes)/float64(GiB))
	case bytes >= MiB:
		if bytes%MiB == 0 {
			return fmt.Sprintf("%dM", bytes/MiB)
		}
		return fmt.Sprintf("%.1fM", float64(bytes)/float64(MiB))
	case bytes >= KiB:
		return fmt.Sprintf("%dK", bytes/KiB)
	default:
		return fmt.Sprintf("%dB", bytes)
	}
}

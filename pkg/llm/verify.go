package llm

import (
	"fmt"
	"strings"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
)

// pseudoDevices are device paths that are always legal even though no
// probe reports them.
var pseudoDevices = map[string]bool{
	"/dev/null":    true,
	"/dev/zero":    true,
	"/dev/urandom": true,
	"/dev/random":  true,
}

// verifyDevices guards against hallucinated hardware: any /dev path in
// a translated action that the snapshot does not know (and is not a
// pseudo-device) turns the whole action into a Clarify. The validator
// would reject it anyway; asking the user first gives a better
// conversation than a rejection naming a device they never mentioned.
func verifyDevices(a action.Action, snap *probe.Snapshot) action.Action {
	paths := devicePaths(a)
	if len(paths) == 0 {
		return a
	}
	valid := snap.ValidDevices()
	var unknown []string
	for _, p := range paths {
		if !valid[p] && !pseudoDevices[p] {
			unknown = append(unknown, p)
		}
	}
	if len(unknown) == 0 {
		return a
	}
	return action.Clarify{Question: fmt.Sprintf(
		"I don't see %s on this machine. Which device did you mean? (say \"list disks\" to see them)",
		strings.Join(unknown, ", "))}
}

// devicePaths collects the /dev references an action carries.
func devicePaths(a action.Action) []string {
	var out []string
	add := func(p string) {
		if strings.HasPrefix(p, "/dev/") {
			out = append(out, p)
		}
	}
	switch act := a.(type) {
	case action.Partition:
		add(act.Disk)
	case action.Format:
		add(act.Partition)
	case action.Mount:
		add(act.Partition)
	case action.InstallBootloader:
		add(act.Target)
	}
	return out
}
